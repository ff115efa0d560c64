package router

import (
	"errors"
	"time"

	"execpipe/internal/schema"
)

// ErrNoEligibleVenue means no reachable venue currently quotes the
// instrument; the order is rejected, never silently retried.
var ErrNoEligibleVenue = errors.New("no eligible venue")

// ReasonNoEligibleVenue is the terminal rejection reason for routing
// failures.
const ReasonNoEligibleVenue = "no-eligible-venue"

// Router assigns venues to compliant orders using a pluggable
// strategy over the copy-on-write venue table.
type Router struct {
	strategy Strategy
	table    *Table
}

// NewRouter creates a router with the given strategy and venue table.
func NewRouter(strategy Strategy, table *Table) *Router {
	return &Router{strategy: strategy, table: table}
}

// Route returns a routed copy of the order or ErrNoEligibleVenue.
func (r *Router) Route(order schema.Order) (schema.Order, error) {
	venueID, ok := r.strategy.Select(order, r.table.Snapshot())
	if !ok {
		return schema.Order{}, ErrNoEligibleVenue
	}
	return order.WithVenue(venueID, time.Now().UTC().UnixNano()), nil
}
