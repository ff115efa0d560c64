package ingest

import (
	"context"

	"github.com/yanun0323/errors"
)

// ErrEndOfStream is returned by a feed once it has no more messages.
// The runner treats it as a clean shutdown, not a failure.
var ErrEndOfStream = errors.New("end of stream")

// RawMessage is one undecoded message received from a feed.
type RawMessage struct {
	// Data is the raw wire payload. The feed owns the buffer only
	// until Poll returns.
	Data []byte
	// TsRecv is the local receive timestamp in unix nanoseconds.
	TsRecv int64
}

// FeedSource is a pull-based market data connection. Implementations
// are used by a single runner goroutine and need not be safe for
// concurrent use.
type FeedSource interface {
	// Name identifies the feed in logs and metrics.
	Name() string
	// Connect establishes the upstream connection. It is called before
	// the first Poll and again after a Poll failure.
	Connect(ctx context.Context) error
	// Poll blocks until the next message, the context ends, or the
	// stream fails. A failed Poll invalidates the connection.
	Poll(ctx context.Context) (RawMessage, error)
	// Close releases the connection. Safe to call more than once.
	Close() error
}
