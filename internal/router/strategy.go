package router

import (
	"sort"

	"execpipe/internal/schema"
)

// Strategy selects an execution venue for an order from the current
// venue states. Implementations must be deterministic for a given
// (order, states) pair.
type Strategy interface {
	Name() string
	Select(order schema.Order, states States) (schema.VenueID, bool)
}

type candidate struct {
	venueID schema.VenueID
	cost    int64
	size    schema.Quantity
}

// eligible collects venues that are reachable and currently quote
// liquidity on the order's side of the book.
func eligible(order schema.Order, states States) []candidate {
	out := make([]candidate, 0, len(states))
	for _, state := range states {
		if !state.Reachable {
			continue
		}
		quote, ok := state.Quotes[order.InstrumentID]
		if !ok {
			continue
		}
		var price schema.Price
		var size schema.Quantity
		switch order.Side {
		case schema.OrderSideBuy:
			price, size = quote.AskPrice, quote.AskSize
		case schema.OrderSideSell:
			price, size = quote.BidPrice, quote.BidSize
		default:
			continue
		}
		if price <= 0 || size <= 0 {
			continue
		}
		out = append(out, candidate{
			venueID: state.VenueID,
			cost:    expectedCost(order.Side, price, state.FeeBps),
			size:    size,
		})
	}
	return out
}

// expectedCost folds the venue fee into the quoted price, in basis
// points. Buys minimize cost; sells are mapped onto the same scale by
// negating proceeds so lower is always better.
func expectedCost(side schema.OrderSide, price schema.Price, feeBps int64) int64 {
	switch side {
	case schema.OrderSideBuy:
		return int64(price) * (10_000 + feeBps)
	case schema.OrderSideSell:
		return -(int64(price) * (10_000 - feeBps))
	default:
		return int64(price) * 10_000
	}
}

// BestExecution minimizes expected cost (price plus venue fee). Ties
// break on the lower venue ID for determinism.
type BestExecution struct{}

func (BestExecution) Name() string { return "best-execution" }

func (BestExecution) Select(order schema.Order, states States) (schema.VenueID, bool) {
	cands := eligible(order, states)
	if len(cands) == 0 {
		return 0, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].cost != cands[j].cost {
			return cands[i].cost < cands[j].cost
		}
		return cands[i].venueID < cands[j].venueID
	})
	return cands[0].venueID, true
}

// SmartOrderRouting prefers the deepest quote on the order's side,
// falling back to cost and then venue ID on ties. It trades a little
// price for a better chance of a full fill.
type SmartOrderRouting struct{}

func (SmartOrderRouting) Name() string { return "smart-order-routing" }

func (SmartOrderRouting) Select(order schema.Order, states States) (schema.VenueID, bool) {
	cands := eligible(order, states)
	if len(cands) == 0 {
		return 0, false
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].size != cands[j].size {
			return cands[i].size > cands[j].size
		}
		if cands[i].cost != cands[j].cost {
			return cands[i].cost < cands[j].cost
		}
		return cands[i].venueID < cands[j].venueID
	})
	return cands[0].venueID, true
}

// StrategyByName resolves a configured strategy name.
func StrategyByName(name string) (Strategy, bool) {
	switch name {
	case "", "best-execution":
		return BestExecution{}, true
	case "smart-order-routing":
		return SmartOrderRouting{}, true
	default:
		return nil, false
	}
}
