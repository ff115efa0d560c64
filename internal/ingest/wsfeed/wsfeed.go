// Package wsfeed adapts a websocket market data endpoint to the
// ingest.FeedSource interface.
package wsfeed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"execpipe/internal/ingest"
)

// Config describes the upstream websocket endpoint.
type Config struct {
	// URL is the full ws:// or wss:// endpoint.
	URL string
	// Subscribe is an optional payload written right after connecting.
	Subscribe []byte
	// HandshakeTimeout bounds the dial. Defaults to 5s.
	HandshakeTimeout time.Duration
	// ReadLimit caps inbound frame size in bytes. Defaults to 1MiB.
	ReadLimit int64
}

// Feed is a websocket-backed feed. It implements ingest.FeedSource;
// the runner serializes all calls.
type Feed struct {
	cfg  Config
	conn *websocket.Conn
}

// New creates a feed for the endpoint. The connection is established
// on Connect, not here.
func New(cfg Config) (*Feed, error) {
	if cfg.URL == "" {
		return nil, errors.New("websocket url is empty")
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 5 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	return &Feed{cfg: cfg}, nil
}

func (f *Feed) Name() string { return "wsfeed:" + f.cfg.URL }

// Connect dials the endpoint, replacing any previous connection, and
// sends the subscribe payload when one is configured.
func (f *Feed) Connect(ctx context.Context) error {
	f.closeConn()

	dialer := websocket.Dialer{HandshakeTimeout: f.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, f.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return errors.Wrap(err, "dial "+f.cfg.URL)
	}
	conn.SetReadLimit(f.cfg.ReadLimit)

	if len(f.cfg.Subscribe) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, f.cfg.Subscribe); err != nil {
			conn.Close()
			return errors.Wrap(err, "write subscribe payload")
		}
	}

	f.conn = conn
	// Unblock a pending read when the context ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	return nil
}

// Poll reads the next text or binary frame. Control frames are
// handled by the gorilla read loop and never surface here.
func (f *Feed) Poll(ctx context.Context) (ingest.RawMessage, error) {
	if f.conn == nil {
		return ingest.RawMessage{}, errors.New("not connected")
	}
	for {
		kind, data, err := f.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ingest.RawMessage{}, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ingest.RawMessage{}, ingest.ErrEndOfStream
			}
			return ingest.RawMessage{}, errors.Wrap(err, "read frame")
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		return ingest.RawMessage{Data: data, TsRecv: time.Now().UTC().UnixNano()}, nil
	}
}

// Close shuts the connection down. Safe to call repeatedly.
func (f *Feed) Close() error {
	f.closeConn()
	return nil
}

func (f *Feed) closeConn() {
	if f.conn == nil {
		return
	}
	deadline := time.Now().Add(time.Second)
	_ = f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = f.conn.Close()
	f.conn = nil
}
