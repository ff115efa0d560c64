package pipeline

import (
	"context"
	"testing"
	"time"

	"execpipe/internal/audit"
	"execpipe/internal/bus"
	"execpipe/internal/compliance"
	"execpipe/internal/execution"
	"execpipe/internal/execution/venuesim"
	"execpipe/internal/og"
	"execpipe/internal/postexec"
	"execpipe/internal/risk"
	"execpipe/internal/router"
	"execpipe/internal/schema"
	"execpipe/internal/state"
)

type harness struct {
	pipeline  *Pipeline
	lifecycle *og.Lifecycle
	book      *state.Book
	venue     *venuesim.Client
	reg       *schema.Registry
}

type harnessOptions struct {
	creditLimit schema.Notional
	refData     compliance.RefData
	behavior    venuesim.Behavior
	queueSize   int
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()
	if opts.creditLimit == 0 {
		opts.creditLimit = 1_000_000_000
	}

	reg := schema.NewRegistry()
	venueID, err := reg.AddVenue("alpha", 10)
	if err != nil {
		t.Fatalf("add venue: %v", err)
	}
	instrumentID, err := reg.AddInstrument("BTC-USD", schema.ScaleSpec{PriceScale: 2, QuantityScale: 4})
	if err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	if _, err := reg.AddClient("acme", opts.creditLimit); err != nil {
		t.Fatalf("add client: %v", err)
	}

	table := router.NewTable(reg)
	table.UpdateQuote(venueID, instrumentID, router.Quote{
		BidPrice: 14990, BidSize: 1_000_000,
		AskPrice: 15010, AskSize: 1_000_000,
		TsRecv: 1,
	})

	lifecycle := og.NewLifecycle()
	book := state.NewBook()
	venue := venuesim.New(venuesim.Config{Behavior: opts.behavior})
	exec := execution.NewEngine(
		execution.Config{AckTimeout: 100 * time.Millisecond, QueryTimeout: 50 * time.Millisecond},
		map[schema.VenueID]execution.VenueClient{venueID: venue},
		nil,
		nil,
	)
	post := postexec.NewProcessor(lifecycle, book, audit.NewMulti(nil), nil, nil)

	p := New(Config{QueueSize: opts.queueSize, Workers: 2}, Deps{
		Lifecycle:  lifecycle,
		Book:       book,
		Risk:       risk.NewEngine(risk.Config{}, reg),
		Compliance: compliance.NewEngine(opts.refData, compliance.DefaultRules()...),
		Router:     router.NewRouter(router.BestExecution{}, table),
		Table:      table,
		Exec:       exec,
		Post:       post,
		Bus:        bus.New(nil),
	})

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		p.Stop()
		cancel()
	})

	return &harness{pipeline: p, lifecycle: lifecycle, book: book, venue: venue, reg: reg}
}

func (h *harness) order(id uint64) schema.Order {
	now := time.Now().UTC().UnixNano()
	return schema.Order{
		ID:           id,
		ClientID:     1,
		InstrumentID: 1,
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Status:       schema.StatusCreated,
		Price:        15000,
		Qty:          100,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (h *harness) waitTerminal(t *testing.T, id uint64) schema.Order {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if order, ok := h.lifecycle.Get(id); ok && order.Status.Terminal() {
			return order
		}
		time.Sleep(time.Millisecond)
	}
	order, _ := h.lifecycle.Get(id)
	t.Fatalf("order %d not terminal: %+v", id, order)
	return schema.Order{}
}

func TestOrderFlowsToConfirmation(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusConfirmed {
		t.Fatalf("final: %+v", final)
	}
	if final.VenueID != 1 {
		t.Fatalf("venue: %d", final.VenueID)
	}

	want := []schema.OrderStatus{
		schema.StatusCreated,
		schema.StatusRiskChecked,
		schema.StatusCompliant,
		schema.StatusRouted,
		schema.StatusConfirmed,
	}
	history := h.lifecycle.History(1)
	if len(history) != len(want) {
		t.Fatalf("history: %v", history)
	}
	for i, status := range want {
		if history[i] != status {
			t.Fatalf("history[%d] = %s, want %s", i, history[i], status)
		}
	}

	if exp := h.book.View().ClientExposure(1); exp != 1_500_000 {
		t.Fatalf("exposure: %d", exp)
	}
	if trades := h.lifecycle.Trades(1); len(trades) != 1 || trades[0].Result != schema.TradeResultConfirmed {
		t.Fatalf("trades: %+v", trades)
	}
}

func TestRiskBreachStopsBeforeVenue(t *testing.T) {
	h := newHarness(t, harnessOptions{creditLimit: 100, behavior: venuesim.BehaviorFill})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusRejected || final.Reason != risk.ReasonCredit {
		t.Fatalf("final: %+v", final)
	}
	if h.venue.Fills() != 0 {
		t.Fatal("rejected order reached the venue")
	}
	if trades := h.lifecycle.Trades(1); len(trades) != 0 {
		t.Fatalf("trades: %+v", trades)
	}
	if exp := h.book.View().ClientExposure(1); exp != 0 {
		t.Fatalf("exposure: %d", exp)
	}
}

func TestComplianceViolationRejects(t *testing.T) {
	h := newHarness(t, harnessOptions{
		refData: compliance.RefData{
			Restricted: map[schema.InstrumentID]struct{}{1: {}},
		},
		behavior: venuesim.BehaviorFill,
	})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusRejected {
		t.Fatalf("final: %+v", final)
	}
	if final.Reason != compliance.ReasonPrefix+"restricted-instrument" {
		t.Fatalf("reason: %q", final.Reason)
	}
	if h.venue.Fills() != 0 {
		t.Fatal("restricted order reached the venue")
	}
}

func TestVenueRejectTerminatesOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorReject})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusRejected {
		t.Fatalf("final: %+v", final)
	}
	if final.Reason != execution.ReasonPrefixReject+"insufficient-liquidity" {
		t.Fatalf("reason: %q", final.Reason)
	}
	if exp := h.book.View().ClientExposure(1); exp != 0 {
		t.Fatalf("exposure: %d", exp)
	}
}

func TestSilentVenueTimesOut(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorSilent})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusRejected || final.Reason != execution.ReasonVenueTimeout {
		t.Fatalf("final: %+v", final)
	}

	// The attempt is recorded as a rejected trade; the venue filled
	// nothing.
	trades := h.lifecycle.Trades(1)
	if len(trades) != 1 || trades[0].Result != schema.TradeResultRejected {
		t.Fatalf("trades: %+v", trades)
	}
	if trades[0].Reason != execution.ReasonVenueTimeout {
		t.Fatalf("trade reason: %q", trades[0].Reason)
	}
	if h.venue.Fills() != 0 {
		t.Fatalf("unexpected fills: %d", h.venue.Fills())
	}
}

func TestDuplicateSubmitRejected(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.pipeline.Submit(h.order(1)); err != og.ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
	h.waitTerminal(t, 1)
}

func TestSubmitAfterStopFails(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	h.pipeline.Stop()
	if err := h.pipeline.Submit(h.order(1)); err != ErrPipelineClosed {
		t.Fatalf("expected ErrPipelineClosed, got %v", err)
	}
}

func TestCancelBeforeExecution(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	// Stop the stages from picking the order up before the cancel by
	// submitting while the pipeline is saturated with a predecessor.
	if err := h.pipeline.Submit(h.order(1)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := h.pipeline.Cancel(1); err != nil && err != ErrOrderTerminal {
		t.Fatalf("cancel: %v", err)
	}

	final := h.waitTerminal(t, 1)
	switch final.Status {
	case schema.StatusRejected:
		if final.Reason != ReasonCancelled {
			t.Fatalf("reason: %q", final.Reason)
		}
		if h.venue.Fills() != 0 {
			t.Fatal("cancelled order reached the venue")
		}
	case schema.StatusConfirmed:
		// The race went to execution; the fill stands.
	default:
		t.Fatalf("final: %+v", final)
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	if err := h.pipeline.Cancel(42); err != og.ErrUnknownOrder {
		t.Fatalf("expected ErrUnknownOrder, got %v", err)
	}
}

func TestMarketOrderUsesReferencePriceForRisk(t *testing.T) {
	// Ask 15010 * qty 100 = 1_501_000 notional exceeds the limit even
	// though the order itself carries no price.
	h := newHarness(t, harnessOptions{creditLimit: 1_000_000, behavior: venuesim.BehaviorFill})

	order := h.order(1)
	order.Type = schema.OrderTypeMarket
	order.Price = 0
	if err := h.pipeline.Submit(order); err != nil {
		t.Fatalf("submit: %v", err)
	}

	final := h.waitTerminal(t, 1)
	if final.Status != schema.StatusRejected || final.Reason != risk.ReasonCredit {
		t.Fatalf("final: %+v", final)
	}
}

func TestManyOrdersAllTerminate(t *testing.T) {
	h := newHarness(t, harnessOptions{behavior: venuesim.BehaviorFill})

	const n = 200
	for i := uint64(1); i <= n; i++ {
		if err := h.pipeline.Submit(h.order(i)); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= n; i++ {
		final := h.waitTerminal(t, i)
		if final.Status != schema.StatusConfirmed {
			t.Fatalf("order %d: %+v", i, final)
		}
	}
	if h.venue.Fills() != n {
		t.Fatalf("fills: %d", h.venue.Fills())
	}
}
