// Package postexec finalizes orders: it settles terminal state into
// the lifecycle tracker and exposure book, records the audit trail and
// publishes client-facing notifications.
package postexec

import (
	"context"
	"sync/atomic"
	"time"

	"execpipe/internal/audit"
	"execpipe/internal/bus"
	"execpipe/internal/obs"
	"execpipe/internal/og"
	"execpipe/internal/schema"
	"execpipe/internal/state"
)

// Processor applies execution results. Safe for concurrent use; the
// lifecycle tracker and exposure book do their own locking.
type Processor struct {
	lifecycle *og.Lifecycle
	book      *state.Book
	sinks     *audit.Multi
	bus       *bus.Bus
	metrics   *obs.Metrics
	seq       atomic.Uint64
}

// NewProcessor wires the terminal stage. Bus and metrics may be nil
// in tests.
func NewProcessor(lifecycle *og.Lifecycle, book *state.Book, sinks *audit.Multi, b *bus.Bus, metrics *obs.Metrics) *Processor {
	return &Processor{
		lifecycle: lifecycle,
		book:      book,
		sinks:     sinks,
		bus:       b,
		metrics:   metrics,
	}
}

// Audit records a non-terminal transition that has already been
// applied to the lifecycle tracker.
func (p *Processor) Audit(ctx context.Context, order schema.Order) {
	p.sinks.Record(ctx, audit.OrderEvent(p.seq.Add(1), order))
}

// Settle finalizes an executed order from its trade result. The
// returned order carries the terminal status.
func (p *Processor) Settle(ctx context.Context, order schema.Order, trade schema.Trade) (schema.Order, error) {
	now := time.Now().UTC().UnixNano()
	var next schema.Order
	switch trade.Result {
	case schema.TradeResultConfirmed:
		next = order.WithStatus(schema.StatusConfirmed, now)
	default:
		next = order.WithRejection(trade.Reason, now)
	}

	applied, err := p.lifecycle.Apply(next)
	if err != nil {
		return order, err
	}
	if err := p.lifecycle.RecordTrade(trade); err != nil {
		return applied, err
	}
	if trade.Result == schema.TradeResultConfirmed {
		p.book.ApplyTrade(applied, trade)
	}

	e := audit.TradeEvent(p.seq.Add(1), applied, trade)
	if p.bus != nil {
		p.bus.Publish(bus.TopicTrades, bus.Event{Header: e.Header, Order: applied, Trade: trade})
	}
	p.finish(ctx, e, applied)
	return applied, nil
}

// Reject terminates an order before it reached a venue. No trade is
// recorded and exposure is untouched.
func (p *Processor) Reject(ctx context.Context, order schema.Order, reason string) (schema.Order, error) {
	now := time.Now().UTC().UnixNano()
	applied, err := p.lifecycle.Apply(order.WithRejection(reason, now))
	if err != nil {
		return order, err
	}
	p.finish(ctx, audit.OrderEvent(p.seq.Add(1), applied), applied)
	return applied, nil
}

func (p *Processor) finish(ctx context.Context, e audit.Event, order schema.Order) {
	p.sinks.Record(ctx, e)
	p.metrics.IncOrderTerminal(order.Status.String(), order.Reason)
	if p.bus != nil {
		header := e.Header
		header.Type = schema.EventNotice
		p.bus.Publish(bus.TopicNotices, bus.Event{Header: header, Order: order, Trade: e.Trade})
	}
}
