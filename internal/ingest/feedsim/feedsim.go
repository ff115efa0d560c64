// Package feedsim provides a deterministic in-process feed used for
// load tests and local runs without an upstream market data provider.
package feedsim

import (
	"context"
	"fmt"

	"github.com/yanun0323/errors"

	"execpipe/internal/ingest"
	"execpipe/internal/schema"
)

// Config controls the synthetic tick stream.
type Config struct {
	// BasePrice is the unscaled integer price of the first tick.
	BasePrice int64
	// BaseSize is the unscaled size of every tick.
	BaseSize int64
	// Spread is subtracted from and added to the price for bid and ask.
	Spread int64
	// Count limits the stream; 0 means unbounded.
	Count int
	// StartTs seeds the event timestamp, advancing by one per tick.
	StartTs int64
}

// Feed emits synthetic ticks round-robin over the registry's
// instruments. It implements ingest.FeedSource.
type Feed struct {
	cfg     Config
	names   []string
	index   int
	emitted int
}

// New creates a feed over all instruments in the registry.
func New(reg *schema.Registry, cfg Config) (*Feed, error) {
	if reg == nil || reg.InstrumentCount() == 0 {
		return nil, errors.New("registry has no instruments")
	}
	names := make([]string, 0, reg.InstrumentCount())
	for i := 0; i < reg.InstrumentCount(); i++ {
		instrument, ok := reg.InstrumentAt(i)
		if !ok {
			continue
		}
		names = append(names, instrument.Name)
	}
	if cfg.BaseSize <= 0 {
		cfg.BaseSize = 1
	}
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	if cfg.StartTs <= 0 {
		cfg.StartTs = 1
	}
	return &Feed{cfg: cfg, names: names}, nil
}

func (f *Feed) Name() string { return "feedsim" }

func (f *Feed) Connect(ctx context.Context) error { return nil }

// Poll emits the next tick as a wire-format JSON message. The stream
// is fully determined by the config and the registry order.
func (f *Feed) Poll(ctx context.Context) (ingest.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return ingest.RawMessage{}, err
	}
	if f.cfg.Count > 0 && f.emitted >= f.cfg.Count {
		return ingest.RawMessage{}, ingest.ErrEndOfStream
	}

	symbol := f.names[f.index]
	f.index = (f.index + 1) % len(f.names)
	f.emitted++

	price := f.cfg.BasePrice + int64(f.emitted%16)
	ts := f.cfg.StartTs + int64(f.emitted)
	data := fmt.Appendf(nil,
		`{"symbol":%q,"price":%d,"size":%d,"bid":%d,"bid_size":%d,"ask":%d,"ask_size":%d,"ts":%d}`,
		symbol, price, f.cfg.BaseSize,
		price-f.cfg.Spread, f.cfg.BaseSize,
		price+f.cfg.Spread, f.cfg.BaseSize,
		ts,
	)
	return ingest.RawMessage{Data: data, TsRecv: ts}, nil
}

func (f *Feed) Close() error { return nil }
