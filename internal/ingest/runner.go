package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/yanun0323/logs"

	"execpipe/internal/bus"
	"execpipe/internal/obs"
)

// Runner drives one feed: poll, normalize, publish. It owns the feed
// connection and reconnects with backoff when polling fails.
type Runner struct {
	source   FeedSource
	sourceID uint16
	norm     *Normalizer
	bus      *bus.Bus
	metrics  *obs.Metrics
	backoff  Backoff
	seq      uint64
}

// NewRunner wires a feed to the bus. sourceID tags every published
// header so downstream consumers can tell feeds apart.
func NewRunner(source FeedSource, sourceID uint16, norm *Normalizer, b *bus.Bus, metrics *obs.Metrics) *Runner {
	return &Runner{
		source:   source,
		sourceID: sourceID,
		norm:     norm,
		bus:      b,
		metrics:  metrics,
		backoff:  Backoff{Jitter: 0.2},
	}
}

// Run polls the feed until the context ends or the feed reports
// ErrEndOfStream. Connection failures trigger reconnects and never
// propagate to the caller.
func (r *Runner) Run(ctx context.Context) error {
	defer r.source.Close()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			r.metrics.IncIngestReconnect()
			wait := r.backoff.Next()
			logs.Infof("feed %s reconnecting in %s", r.source.Name(), wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		if err := r.source.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logs.Errorf("feed %s connect: %v", r.source.Name(), err)
			continue
		}
		r.backoff.Reset()
		logs.Infof("feed %s connected", r.source.Name())

		err := r.poll(ctx)
		switch {
		case errors.Is(err, ErrEndOfStream):
			logs.Infof("feed %s drained", r.source.Name())
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			logs.Errorf("feed %s poll: %v", r.source.Name(), err)
		}
	}
}

func (r *Runner) poll(ctx context.Context) error {
	for {
		raw, err := r.source.Poll(ctx)
		if err != nil {
			return err
		}

		r.seq++
		header, tick, err := r.norm.Normalize(r.seq, r.sourceID, raw)
		switch {
		case err == nil:
		case errors.Is(err, ErrFiltered):
			r.metrics.IncIngestFiltered()
			continue
		case errors.Is(err, ErrOutOfOrder):
			r.metrics.IncIngestOutOfOrder()
			continue
		default:
			r.metrics.IncIngestDropped()
			logs.Errorf("feed %s drop malformed message: %v", r.source.Name(), err)
			continue
		}

		r.bus.Publish(bus.TopicTicks, bus.Event{Header: header, Tick: tick})
	}
}
