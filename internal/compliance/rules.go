package compliance

import "execpipe/internal/schema"

// RestrictedInstrumentRule blocks orders in restricted instruments.
type RestrictedInstrumentRule struct{}

func (RestrictedInstrumentRule) Name() string { return "restricted-instrument" }

func (RestrictedInstrumentRule) Allow(order schema.Order, ref RefData) bool {
	_, restricted := ref.Restricted[order.InstrumentID]
	return !restricted
}

// ShortSaleBanRule blocks sell orders in instruments under a short
// sale ban.
type ShortSaleBanRule struct{}

func (ShortSaleBanRule) Name() string { return "short-sale-ban" }

func (ShortSaleBanRule) Allow(order schema.Order, ref RefData) bool {
	if order.Side != schema.OrderSideSell {
		return true
	}
	_, banned := ref.ShortSaleBans[order.InstrumentID]
	return !banned
}

// MaxOrderQtyRule enforces the internal policy cap on order size.
// A zero cap disables the rule.
type MaxOrderQtyRule struct{}

func (MaxOrderQtyRule) Name() string { return "max-order-qty" }

func (MaxOrderQtyRule) Allow(order schema.Order, ref RefData) bool {
	if ref.MaxOrderQty <= 0 {
		return true
	}
	return order.Qty <= ref.MaxOrderQty
}

// DefaultRules returns the standard rule order: regulatory rules
// first, internal policy rules after.
func DefaultRules() []Rule {
	return []Rule{
		RestrictedInstrumentRule{},
		ShortSaleBanRule{},
		MaxOrderQtyRule{},
	}
}
