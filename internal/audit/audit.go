// Package audit records order and trade history to durable sinks.
// Recording is best-effort from the pipeline's point of view: a sink
// failure is counted and logged but never stalls execution.
package audit

import (
	"context"

	"github.com/yanun0323/logs"

	"execpipe/internal/obs"
	"execpipe/internal/schema"
)

// Event is one auditable fact. Header.Type selects the payload:
// EventOrder carries Order, EventTrade carries both Order and Trade,
// EventTick carries Tick.
type Event struct {
	Header schema.EventHeader
	Order  schema.Order
	Trade  schema.Trade
	Tick   schema.Tick
}

// OrderEvent builds an audit event for an order transition.
func OrderEvent(seq uint64, order schema.Order) Event {
	return Event{
		Header: schema.NewHeader(schema.EventOrder, 0, seq, order.UpdatedAt, order.UpdatedAt),
		Order:  order,
	}
}

// TradeEvent builds an audit event for an execution result.
func TradeEvent(seq uint64, order schema.Order, trade schema.Trade) Event {
	return Event{
		Header: schema.NewHeader(schema.EventTrade, 0, seq, trade.ExecutedAt, trade.ExecutedAt),
		Order:  order,
		Trade:  trade,
	}
}

// TickEvent builds a journal event for a market data update, keeping
// the header the tick was published with.
func TickEvent(header schema.EventHeader, tick schema.Tick) Event {
	return Event{Header: header, Tick: tick}
}

// Sink persists audit events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	// Record persists one event.
	Record(ctx context.Context, e Event) error
	// Close flushes and releases the sink.
	Close() error
}

// Multi fans an event out to several sinks. Failures are isolated per
// sink; Record itself never returns an error.
type Multi struct {
	sinks   []Sink
	metrics *obs.Metrics
}

// NewMulti combines sinks. Metrics may be nil.
func NewMulti(metrics *obs.Metrics, sinks ...Sink) *Multi {
	return &Multi{sinks: sinks, metrics: metrics}
}

// Record delivers the event to every sink.
func (m *Multi) Record(ctx context.Context, e Event) {
	for _, sink := range m.sinks {
		if err := sink.Record(ctx, e); err != nil {
			m.metrics.IncAuditFailure(sink.Name())
			logs.Errorf("audit sink %s: %v", sink.Name(), err)
		}
	}
}

// Close closes every sink, returning the first error.
func (m *Multi) Close() error {
	var first error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// LogSink writes audit events to the structured log. Intended for
// local runs where no durable sink is configured.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Record(ctx context.Context, e Event) error {
	switch e.Header.Type {
	case schema.EventTrade:
		logs.Infof("audit trade order=%d venue=%d result=%s reason=%q",
			e.Trade.OrderID, e.Trade.VenueID, e.Trade.Result, e.Trade.Reason)
	default:
		logs.Infof("audit order=%d status=%s reason=%q",
			e.Order.ID, e.Order.Status, e.Order.Reason)
	}
	return nil
}

func (LogSink) Close() error { return nil }
