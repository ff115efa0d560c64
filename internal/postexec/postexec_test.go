package postexec

import (
	"context"
	"sync"
	"testing"

	"execpipe/internal/audit"
	"execpipe/internal/bus"
	"execpipe/internal/og"
	"execpipe/internal/schema"
	"execpipe/internal/state"
)

type memSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Record(ctx context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *memSink) Close() error { return nil }

func (s *memSink) last(t *testing.T) audit.Event {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		t.Fatal("no audit events recorded")
	}
	return s.events[len(s.events)-1]
}

func routedOrder(t *testing.T, lifecycle *og.Lifecycle, id uint64) schema.Order {
	t.Helper()
	order := schema.Order{
		ID:           id,
		ClientID:     1,
		InstrumentID: 1,
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Status:       schema.StatusCreated,
		Price:        100,
		Qty:          10,
		CreatedAt:    1,
		UpdatedAt:    1,
	}
	if err := lifecycle.Track(order); err != nil {
		t.Fatalf("track: %v", err)
	}
	for _, status := range []schema.OrderStatus{schema.StatusRiskChecked, schema.StatusCompliant} {
		next, err := lifecycle.Apply(order.WithStatus(status, 2))
		if err != nil {
			t.Fatalf("apply %s: %v", status, err)
		}
		order = next
	}
	next, err := lifecycle.Apply(order.WithVenue(1, 3))
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	return next
}

func TestSettleConfirmedUpdatesExposure(t *testing.T) {
	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	sink := &memSink{}
	proc := NewProcessor(lifecycle, book, audit.NewMulti(nil, sink), nil, nil)

	order := routedOrder(t, lifecycle, 1)
	trade := schema.Trade{
		ID:         "t-1",
		OrderID:    order.ID,
		VenueID:    order.VenueID,
		Token:      "tok",
		Result:     schema.TradeResultConfirmed,
		ExecPrice:  100,
		ExecQty:    10,
		ExecutedAt: 4,
	}

	final, err := proc.Settle(context.Background(), order, trade)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if final.Status != schema.StatusConfirmed {
		t.Fatalf("status: %s", final.Status)
	}
	if got, _ := lifecycle.Get(order.ID); got.Status != schema.StatusConfirmed {
		t.Fatalf("lifecycle status: %s", got.Status)
	}
	if exp := book.View().ClientExposure(order.ClientID); exp != 1000 {
		t.Fatalf("client exposure: %d", exp)
	}
	if trades := lifecycle.Trades(order.ID); len(trades) != 1 {
		t.Fatalf("trades: %d", len(trades))
	}
	if e := sink.last(t); e.Header.Type != schema.EventTrade {
		t.Fatalf("audit event type: %v", e.Header.Type)
	}
}

func TestSettleRejectedLeavesExposureUntouched(t *testing.T) {
	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	proc := NewProcessor(lifecycle, book, audit.NewMulti(nil), nil, nil)

	order := routedOrder(t, lifecycle, 1)
	trade := schema.Trade{
		ID:      "t-1",
		OrderID: order.ID,
		VenueID: order.VenueID,
		Result:  schema.TradeResultRejected,
		Reason:  "venue-reject:insufficient-liquidity",
	}

	final, err := proc.Settle(context.Background(), order, trade)
	if err != nil {
		t.Fatalf("settle: %v", err)
	}
	if final.Status != schema.StatusRejected || final.Reason != trade.Reason {
		t.Fatalf("final: %+v", final)
	}
	if exp := book.View().ClientExposure(order.ClientID); exp != 0 {
		t.Fatalf("client exposure: %d", exp)
	}
}

func TestRejectBeforeExecution(t *testing.T) {
	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	sink := &memSink{}
	proc := NewProcessor(lifecycle, book, audit.NewMulti(nil, sink), nil, nil)

	order := schema.Order{ID: 1, ClientID: 1, InstrumentID: 1, Status: schema.StatusCreated, Price: 100, Qty: 10}
	if err := lifecycle.Track(order); err != nil {
		t.Fatalf("track: %v", err)
	}

	final, err := proc.Reject(context.Background(), order, "risk-breach:credit")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if final.Status != schema.StatusRejected || final.Reason != "risk-breach:credit" {
		t.Fatalf("final: %+v", final)
	}
	if trades := lifecycle.Trades(order.ID); len(trades) != 0 {
		t.Fatalf("unexpected trades: %d", len(trades))
	}
	if e := sink.last(t); e.Header.Type != schema.EventOrder {
		t.Fatalf("audit event type: %v", e.Header.Type)
	}
}

func TestTerminalNoticePublishedToBus(t *testing.T) {
	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	b := bus.New(nil)
	sub, err := b.Subscribe(bus.TopicNotices, 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	proc := NewProcessor(lifecycle, book, audit.NewMulti(nil), b, nil)

	order := schema.Order{ID: 1, ClientID: 1, InstrumentID: 1, Status: schema.StatusCreated, Price: 100, Qty: 10}
	if err := lifecycle.Track(order); err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := proc.Reject(context.Background(), order, "no-eligible-venue"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	select {
	case e := <-sub.C():
		if e.Header.Type != schema.EventNotice {
			t.Fatalf("notice header type: %v", e.Header.Type)
		}
		if e.Order.Status != schema.StatusRejected || e.Order.Reason != "no-eligible-venue" {
			t.Fatalf("notice: %+v", e.Order)
		}
	default:
		t.Fatal("no notice published")
	}
}

func TestSettledTradePublishedToTradesTopic(t *testing.T) {
	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	b := bus.New(nil)
	sub, err := b.Subscribe(bus.TopicTrades, 4)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	proc := NewProcessor(lifecycle, book, audit.NewMulti(nil), b, nil)

	order := routedOrder(t, lifecycle, 1)
	trade := schema.Trade{
		ID:      "t-1",
		OrderID: order.ID,
		VenueID: order.VenueID,
		Result:    schema.TradeResultConfirmed,
		ExecPrice: order.Price,
		ExecQty:   order.Qty,
	}
	if _, err := proc.Settle(context.Background(), order, trade); err != nil {
		t.Fatalf("settle: %v", err)
	}

	select {
	case e := <-sub.C():
		if e.Header.Type != schema.EventTrade {
			t.Fatalf("trade header type: %v", e.Header.Type)
		}
		if e.Trade.ID != "t-1" || e.Order.Status != schema.StatusConfirmed {
			t.Fatalf("trade event: %+v", e)
		}
	default:
		t.Fatal("no trade published")
	}
}
