// Package intake turns client order requests into validated pipeline
// orders. It is the only place where external representations (symbol
// names, decimal strings) are mapped to internal identifiers and
// scaled integers.
package intake

import (
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"execpipe/internal/schema"
)

// Request is the wire form of an order submission.
type Request struct {
	Client     string `json:"client" validate:"required"`
	Instrument string `json:"instrument" validate:"required"`
	Side       string `json:"side" validate:"required,oneof=buy sell"`
	Type       string `json:"type" validate:"required,oneof=limit market"`
	Price      string `json:"price" validate:"omitempty"`
	Qty        string `json:"qty" validate:"required"`
}

// ValidationError explains why a request was refused. It is safe to
// return to clients.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Reason
}

// Intake validates requests and assigns order identity. Safe for
// concurrent use.
type Intake struct {
	reg      *schema.Registry
	validate *validator.Validate
	nextID   atomic.Uint64
}

// New creates an intake bound to the registry.
func New(reg *schema.Registry) *Intake {
	return &Intake{
		reg:      reg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Submit validates the request and returns a created order. The
// returned error is always a ValidationError when non-nil.
func (i *Intake) Submit(req Request) (schema.Order, error) {
	if err := i.validate.Struct(req); err != nil {
		return schema.Order{}, firstFieldError(err)
	}

	clientID, ok := i.reg.ClientIDByName(req.Client)
	if !ok {
		return schema.Order{}, ValidationError{Field: "client", Reason: "unknown client"}
	}
	instrumentID, ok := i.reg.InstrumentIDByName(req.Instrument)
	if !ok {
		return schema.Order{}, ValidationError{Field: "instrument", Reason: "unknown instrument"}
	}
	instrument, _ := i.reg.Instrument(instrumentID)

	side := schema.OrderSideBuy
	if req.Side == "sell" {
		side = schema.OrderSideSell
	}
	orderType := schema.OrderTypeLimit
	if req.Type == "market" {
		orderType = schema.OrderTypeMarket
	}

	var price schema.Price
	switch orderType {
	case schema.OrderTypeLimit:
		if req.Price == "" {
			return schema.Order{}, ValidationError{Field: "price", Reason: "required for limit orders"}
		}
		d, err := decimal.NewFromString(req.Price)
		if err != nil {
			return schema.Order{}, ValidationError{Field: "price", Reason: "not a decimal"}
		}
		if !d.IsPositive() {
			return schema.Order{}, ValidationError{Field: "price", Reason: "must be > 0"}
		}
		scaled := d.Shift(int32(instrument.Scale.PriceScale))
		if !scaled.IsInteger() {
			return schema.Order{}, ValidationError{Field: "price", Reason: "exceeds instrument precision"}
		}
		price = schema.Price(scaled.IntPart())
	case schema.OrderTypeMarket:
		if req.Price != "" {
			return schema.Order{}, ValidationError{Field: "price", Reason: "not allowed for market orders"}
		}
	}

	qd, err := decimal.NewFromString(req.Qty)
	if err != nil {
		return schema.Order{}, ValidationError{Field: "qty", Reason: "not a decimal"}
	}
	if !qd.IsPositive() {
		return schema.Order{}, ValidationError{Field: "qty", Reason: "must be > 0"}
	}
	scaledQty := qd.Shift(int32(instrument.Scale.QuantityScale))
	if !scaledQty.IsInteger() {
		return schema.Order{}, ValidationError{Field: "qty", Reason: "exceeds instrument precision"}
	}

	now := time.Now().UTC().UnixNano()
	return schema.Order{
		ID:           i.nextID.Add(1),
		ClientID:     clientID,
		InstrumentID: instrumentID,
		Side:         side,
		Type:         orderType,
		Status:       schema.StatusCreated,
		Price:        price,
		Qty:          schema.Quantity(scaledQty.IntPart()),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

func firstFieldError(err error) error {
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok || len(fieldErrs) == 0 {
		return ValidationError{Field: "request", Reason: err.Error()}
	}
	fe := fieldErrs[0]
	reason := "invalid value"
	switch fe.Tag() {
	case "required":
		reason = "required"
	case "oneof":
		reason = "must be one of: " + fe.Param()
	}
	return ValidationError{Field: jsonField(fe.Field()), Reason: reason}
}

func jsonField(name string) string {
	switch name {
	case "Client":
		return "client"
	case "Instrument":
		return "instrument"
	case "Side":
		return "side"
	case "Type":
		return "type"
	case "Price":
		return "price"
	case "Qty":
		return "qty"
	default:
		return name
	}
}
