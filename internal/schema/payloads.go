package schema

// Price is a scaled integer. The scale is defined per instrument.
type Price int64

// Quantity is a scaled integer. The scale is defined per instrument.
type Quantity int64

// Notional is a scaled integer combining price and quantity scales.
type Notional int64

const maxInt64 = int64(^uint64(0) >> 1)

// Tick is a single normalized market-data update. Ticks are immutable;
// the bus only forwards them by value.
type Tick struct {
	InstrumentID InstrumentID
	Source       uint16
	Flags        uint16
	Price        Price
	Size         Quantity
	BidPrice     Price
	BidSize      Quantity
	AskPrice     Price
	AskSize      Quantity
	TsEvent      int64
	TsRecv       int64
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "buy"
	case OrderSideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// OrderType describes order type.
type OrderType uint16

const (
	OrderTypeUnknown OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unknown"
	}
}

// OrderStatus tracks the lifecycle of an order. Transitions are
// monotonic; see the og package for the allowed chain.
type OrderStatus uint16

const (
	StatusUnknown OrderStatus = iota
	StatusCreated
	StatusRiskChecked
	StatusCompliant
	StatusRouted
	StatusConfirmed
	StatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusRiskChecked:
		return "risk-checked"
	case StatusCompliant:
		return "compliant"
	case StatusRouted:
		return "routed"
	case StatusConfirmed:
		return "confirmed"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the order lifecycle.
func (s OrderStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Order is a client request tracked through the pipeline. Each stage
// owns its input value and emits a new value; the ID never changes.
type Order struct {
	ID           uint64
	ClientID     ClientID
	InstrumentID InstrumentID
	Side         OrderSide
	Type         OrderType
	Status       OrderStatus
	Reason       string
	VenueID      VenueID
	Price        Price
	Qty          Quantity
	CreatedAt    int64
	UpdatedAt    int64
}

// WithStatus returns a copy of the order advanced to the given status.
func (o Order) WithStatus(status OrderStatus, now int64) Order {
	o.Status = status
	o.UpdatedAt = now
	return o
}

// WithVenue returns a routed copy of the order.
func (o Order) WithVenue(venueID VenueID, now int64) Order {
	o.VenueID = venueID
	o.Status = StatusRouted
	o.UpdatedAt = now
	return o
}

// WithRejection returns a terminal rejected copy with a reason.
func (o Order) WithRejection(reason string, now int64) Order {
	o.Status = StatusRejected
	o.Reason = reason
	o.UpdatedAt = now
	return o
}

// Notional returns price*qty and an overflow flag. Market orders carry
// no price; callers substitute a reference price first.
func (o Order) Notional() (Notional, bool) {
	p := int64(o.Price)
	q := int64(o.Qty)
	if p == 0 || q == 0 {
		return 0, false
	}
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	if p > maxInt64/q {
		return 0, true
	}
	return Notional(int64(o.Price) * int64(o.Qty)), false
}

// RiskVerdict is the outcome of a risk check. Ephemeral; consumed
// within a single pipeline pass.
type RiskVerdict struct {
	OrderID uint64
	Passed  bool
	Reason  string
}

// ComplianceVerdict is the outcome of a compliance check.
type ComplianceVerdict struct {
	OrderID uint64
	Passed  bool
	Reason  string
}

// TradeResult describes the outcome of an execution attempt.
type TradeResult uint16

const (
	TradeResultUnknown TradeResult = iota
	TradeResultConfirmed
	TradeResultRejected
)

func (r TradeResult) String() string {
	switch r {
	case TradeResultConfirmed:
		return "confirmed"
	case TradeResultRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// VenueHealth reports whether a venue's order path answers. Published
// by the execution layer and consumed by the routing table.
type VenueHealth struct {
	VenueID   VenueID
	Reachable bool
	Ts        int64
}

// Trade records one execution attempt. Each trade references exactly
// one order; an order may accumulate several trades on partial fills.
type Trade struct {
	ID         string
	OrderID    uint64
	VenueID    VenueID
	Token      string
	Result     TradeResult
	Reason     string
	ExecPrice  Price
	ExecQty    Quantity
	ExecutedAt int64
}
