package og

import (
	"testing"

	"execpipe/internal/schema"
)

func created(id uint64) schema.Order {
	return schema.Order{ID: id, ClientID: 1, InstrumentID: 1, Side: schema.OrderSideBuy, Status: schema.StatusCreated, Qty: 10}
}

func TestFullChainIsMonotonic(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	for _, status := range []schema.OrderStatus{
		schema.StatusRiskChecked,
		schema.StatusCompliant,
		schema.StatusRouted,
		schema.StatusConfirmed,
	} {
		var err error
		o, err = l.Apply(o.WithStatus(status, 0))
		if err != nil {
			t.Fatalf("apply %v: %v", status, err)
		}
	}

	want := []schema.OrderStatus{
		schema.StatusCreated,
		schema.StatusRiskChecked,
		schema.StatusCompliant,
		schema.StatusRouted,
		schema.StatusConfirmed,
	}
	got := l.History(1)
	if len(got) != len(want) {
		t.Fatalf("history length: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("history[%d]: got %v want %v", i, got[i], want[i])
		}
	}
}

func TestRejectionAllowedFromEveryNonTerminalStatus(t *testing.T) {
	for _, from := range []schema.OrderStatus{
		schema.StatusCreated,
		schema.StatusRiskChecked,
		schema.StatusCompliant,
		schema.StatusRouted,
	} {
		l := NewLifecycle()
		o := created(1)
		if err := l.Track(o); err != nil {
			t.Fatalf("track: %v", err)
		}
		for _, step := range []schema.OrderStatus{
			schema.StatusRiskChecked,
			schema.StatusCompliant,
			schema.StatusRouted,
		} {
			if from == schema.StatusCreated {
				break
			}
			var err error
			o, err = l.Apply(o.WithStatus(step, 0))
			if err != nil {
				t.Fatalf("advance to %v: %v", step, err)
			}
			if step == from {
				break
			}
		}
		if _, err := l.Apply(o.WithRejection("risk-breach:credit", 0)); err != nil {
			t.Fatalf("reject from %v: %v", from, err)
		}
	}
}

func TestSkippedTransitionRejected(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := l.Apply(o.WithStatus(schema.StatusRouted, 0)); err != ErrInvalidTransition {
		t.Fatalf("skip created->routed: got %v want ErrInvalidTransition", err)
	}
	if _, err := l.Apply(o.WithStatus(schema.StatusConfirmed, 0)); err != ErrInvalidTransition {
		t.Fatalf("skip created->confirmed: got %v want ErrInvalidTransition", err)
	}
}

func TestBackwardTransitionRejected(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	o, err := l.Apply(o.WithStatus(schema.StatusRiskChecked, 0))
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := l.Apply(o.WithStatus(schema.StatusCreated, 0)); err != ErrInvalidTransition {
		t.Fatalf("backward: got %v want ErrInvalidTransition", err)
	}
}

func TestTerminalStatusIsFinal(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	o, err := l.Apply(o.WithRejection("compliance-violation:restricted-instrument", 0))
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := l.Apply(o.WithStatus(schema.StatusRiskChecked, 0)); err != ErrInvalidTransition {
		t.Fatalf("transition out of terminal: got %v want ErrInvalidTransition", err)
	}
}

func TestDuplicateTrackRejected(t *testing.T) {
	l := NewLifecycle()
	if err := l.Track(created(1)); err != nil {
		t.Fatalf("track: %v", err)
	}
	if err := l.Track(created(1)); err != ErrDuplicateOrder {
		t.Fatalf("duplicate track: got %v want ErrDuplicateOrder", err)
	}
}

func TestTradeRequiresRoutedStatus(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	trade := schema.Trade{ID: "t-1", OrderID: 1, Result: schema.TradeResultConfirmed}
	if err := l.RecordTrade(trade); err != ErrTradeBeforeRouted {
		t.Fatalf("trade before routed: got %v want ErrTradeBeforeRouted", err)
	}

	o, _ = l.Apply(o.WithStatus(schema.StatusRiskChecked, 0))
	o, _ = l.Apply(o.WithStatus(schema.StatusCompliant, 0))
	o, _ = l.Apply(o.WithVenue(1, 0))
	if err := l.RecordTrade(trade); err != nil {
		t.Fatalf("trade after routed: %v", err)
	}
}

func TestAtMostOneConfirmedTrade(t *testing.T) {
	l := NewLifecycle()
	o := created(1)
	if err := l.Track(o); err != nil {
		t.Fatalf("track: %v", err)
	}
	o, _ = l.Apply(o.WithStatus(schema.StatusRiskChecked, 0))
	o, _ = l.Apply(o.WithStatus(schema.StatusCompliant, 0))
	o, _ = l.Apply(o.WithVenue(1, 0))

	first := schema.Trade{ID: "t-1", OrderID: 1, Result: schema.TradeResultConfirmed}
	if err := l.RecordTrade(first); err != nil {
		t.Fatalf("first confirmed trade: %v", err)
	}
	second := schema.Trade{ID: "t-2", OrderID: 1, Result: schema.TradeResultConfirmed}
	if err := l.RecordTrade(second); err != ErrDuplicateFill {
		t.Fatalf("second confirmed trade: got %v want ErrDuplicateFill", err)
	}
	// A rejected attempt may still be recorded alongside.
	rejected := schema.Trade{ID: "t-3", OrderID: 1, Result: schema.TradeResultRejected}
	if err := l.RecordTrade(rejected); err != nil {
		t.Fatalf("rejected trade: %v", err)
	}
	if got := len(l.Trades(1)); got != 2 {
		t.Fatalf("trades: got %d want 2", got)
	}
}
