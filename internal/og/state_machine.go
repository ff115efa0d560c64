package og

import (
	"errors"
	"sync"

	"execpipe/internal/schema"
)

var (
	ErrDuplicateOrder    = errors.New("order already exists")
	ErrUnknownOrder      = errors.New("order not found")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrTradeBeforeRouted = errors.New("trade recorded before order was routed")
	ErrDuplicateFill     = errors.New("order already has a confirmed trade")
	ErrNotCreated        = errors.New("order must start in created status")
)

// allowed maps each status to its legal successors. The chain is
// monotonic: no skips, no reversals, and Rejected is reachable from
// every non-terminal status.
var allowed = map[schema.OrderStatus][]schema.OrderStatus{
	schema.StatusCreated:     {schema.StatusRiskChecked, schema.StatusRejected},
	schema.StatusRiskChecked: {schema.StatusCompliant, schema.StatusRejected},
	schema.StatusCompliant:   {schema.StatusRouted, schema.StatusRejected},
	schema.StatusRouted:      {schema.StatusConfirmed, schema.StatusRejected},
}

// Lifecycle owns the canonical view of every order's status history
// and its trades.
type Lifecycle struct {
	mu      sync.RWMutex
	orders  map[uint64]schema.Order
	history map[uint64][]schema.OrderStatus
	trades  map[uint64][]schema.Trade
}

// NewLifecycle creates an empty lifecycle store.
func NewLifecycle() *Lifecycle {
	return &Lifecycle{
		orders:  make(map[uint64]schema.Order),
		history: make(map[uint64][]schema.OrderStatus),
		trades:  make(map[uint64][]schema.Trade),
	}
}

// Track registers a freshly created order.
func (l *Lifecycle) Track(order schema.Order) error {
	if order.Status != schema.StatusCreated {
		return ErrNotCreated
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[order.ID]; ok {
		return ErrDuplicateOrder
	}
	l.orders[order.ID] = order
	l.history[order.ID] = []schema.OrderStatus{schema.StatusCreated}
	return nil
}

// Apply advances an order to the next status, rejecting skipped or
// backward transitions.
func (l *Lifecycle) Apply(next schema.Order) (schema.Order, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.orders[next.ID]
	if !ok {
		return schema.Order{}, ErrUnknownOrder
	}
	if !transitionAllowed(cur.Status, next.Status) {
		return cur, ErrInvalidTransition
	}
	l.orders[next.ID] = next
	l.history[next.ID] = append(l.history[next.ID], next.Status)
	return next, nil
}

// RecordTrade attaches an execution attempt to an order. A trade may
// only exist for orders that reached at least Routed, and at most one
// confirmed trade may exist per order.
func (l *Lifecycle) RecordTrade(trade schema.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[trade.OrderID]; !ok {
		return ErrUnknownOrder
	}
	routed := false
	for _, s := range l.history[trade.OrderID] {
		if s == schema.StatusRouted {
			routed = true
			break
		}
	}
	if !routed {
		return ErrTradeBeforeRouted
	}
	if trade.Result == schema.TradeResultConfirmed {
		for _, existing := range l.trades[trade.OrderID] {
			if existing.Result == schema.TradeResultConfirmed {
				return ErrDuplicateFill
			}
		}
	}
	l.trades[trade.OrderID] = append(l.trades[trade.OrderID], trade)
	return nil
}

// Forget removes an order that never advanced beyond Created. Used
// when admission fails after tracking; advanced orders stay.
func (l *Lifecycle) Forget(id uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.orders[id]
	if !ok {
		return ErrUnknownOrder
	}
	if cur.Status != schema.StatusCreated {
		return ErrInvalidTransition
	}
	delete(l.orders, id)
	delete(l.history, id)
	delete(l.trades, id)
	return nil
}

// Get returns the current order value.
func (l *Lifecycle) Get(id uint64) (schema.Order, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	o, ok := l.orders[id]
	return o, ok
}

// History returns the observed status sequence for an order.
func (l *Lifecycle) History(id uint64) []schema.OrderStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h := l.history[id]
	out := make([]schema.OrderStatus, len(h))
	copy(out, h)
	return out
}

// Trades returns the execution attempts recorded for an order.
func (l *Lifecycle) Trades(id uint64) []schema.Trade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ts := l.trades[id]
	out := make([]schema.Trade, len(ts))
	copy(out, ts)
	return out
}

func transitionAllowed(from, to schema.OrderStatus) bool {
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}
