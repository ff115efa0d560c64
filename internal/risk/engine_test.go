package risk

import (
	"testing"

	"execpipe/internal/schema"
)

type fakeExposure struct {
	clients     map[schema.ClientID]schema.Notional
	instruments map[schema.InstrumentID]schema.Notional
}

func (f fakeExposure) ClientExposure(id schema.ClientID) schema.Notional {
	return f.clients[id]
}

func (f fakeExposure) InstrumentExposure(id schema.InstrumentID) schema.Notional {
	return f.instruments[id]
}

func testRegistry(t *testing.T, creditLimit schema.Notional) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	if _, err := reg.AddClient("acme", creditLimit); err != nil {
		t.Fatalf("add client: %v", err)
	}
	if _, err := reg.AddInstrument("AAPL", schema.ScaleSpec{PriceScale: 2, QuantityScale: 0}); err != nil {
		t.Fatalf("add instrument: %v", err)
	}
	return reg
}

func buyOrder(price schema.Price, qty schema.Quantity) schema.Order {
	return schema.Order{
		ID:           1,
		ClientID:     1,
		InstrumentID: 1,
		Side:         schema.OrderSideBuy,
		Type:         schema.OrderTypeLimit,
		Status:       schema.StatusCreated,
		Price:        price,
		Qty:          qty,
	}
}

func TestCheckPassesWithinLimits(t *testing.T) {
	e := NewEngine(Config{MaxInstrumentNotional: 10_000}, testRegistry(t, 10_000))
	v := e.Check(buyOrder(100, 10), fakeExposure{})
	if !v.Passed {
		t.Fatalf("expected pass, got reason %q", v.Reason)
	}
}

func TestCreditBreach(t *testing.T) {
	e := NewEngine(Config{}, testRegistry(t, 1_000))
	exp := fakeExposure{clients: map[schema.ClientID]schema.Notional{1: 500}}
	v := e.Check(buyOrder(100, 10), exp)
	if v.Passed {
		t.Fatal("expected credit breach")
	}
	if v.Reason != ReasonCredit {
		t.Fatalf("reason: got %q want %q", v.Reason, ReasonCredit)
	}
}

func TestConcentrationBreach(t *testing.T) {
	e := NewEngine(Config{MaxInstrumentNotional: 1_000}, testRegistry(t, 100_000))
	exp := fakeExposure{instruments: map[schema.InstrumentID]schema.Notional{1: 900}}
	v := e.Check(buyOrder(100, 10), exp)
	if v.Passed {
		t.Fatal("expected concentration breach")
	}
	if v.Reason != ReasonConcentration {
		t.Fatalf("reason: got %q want %q", v.Reason, ReasonConcentration)
	}
}

func TestCreditReportedBeforeConcentration(t *testing.T) {
	// Both limits breached: the credit reason must win.
	e := NewEngine(Config{MaxInstrumentNotional: 100}, testRegistry(t, 100))
	v := e.Check(buyOrder(100, 10), fakeExposure{})
	if v.Passed {
		t.Fatal("expected breach")
	}
	if v.Reason != ReasonCredit {
		t.Fatalf("priority: got %q want %q", v.Reason, ReasonCredit)
	}
}

func TestNotionalOverflowTreatedAsCreditBreach(t *testing.T) {
	e := NewEngine(Config{}, testRegistry(t, 1_000))
	huge := buyOrder(schema.Price(int64(1)<<62), schema.Quantity(int64(1)<<62))
	v := e.Check(huge, fakeExposure{})
	if v.Passed || v.Reason != ReasonCredit {
		t.Fatalf("overflow: passed=%v reason=%q", v.Passed, v.Reason)
	}
}

func TestUnknownClientRejected(t *testing.T) {
	e := NewEngine(Config{}, testRegistry(t, 1_000))
	order := buyOrder(10, 1)
	order.ClientID = 99
	if v := e.Check(order, fakeExposure{}); v.Passed {
		t.Fatal("unknown client passed risk")
	}
}

func TestCheckDoesNotMutateExposure(t *testing.T) {
	e := NewEngine(Config{}, testRegistry(t, 100_000))
	exp := fakeExposure{clients: map[schema.ClientID]schema.Notional{1: 500}}
	_ = e.Check(buyOrder(100, 10), exp)
	_ = e.Check(buyOrder(100, 10), exp)
	if exp.clients[1] != 500 {
		t.Fatalf("exposure mutated: %d", exp.clients[1])
	}
}
