package state

import (
	"sync"
	"sync/atomic"
	"time"

	"execpipe/internal/schema"
)

// View is an immutable exposure snapshot. Readers across the pipeline
// always see a consistent view; only the post-execution stage installs
// new ones.
type View struct {
	clients     map[schema.ClientID]schema.Notional
	instruments map[schema.InstrumentID]schema.Notional
	updatedAt   int64
}

// ClientExposure returns the used credit for a client.
func (v View) ClientExposure(id schema.ClientID) schema.Notional {
	return v.clients[id]
}

// InstrumentExposure returns the open notional for an instrument.
func (v View) InstrumentExposure(id schema.InstrumentID) schema.Notional {
	return v.instruments[id]
}

// UpdatedAt returns when the snapshot was installed, unix nanos.
func (v View) UpdatedAt() int64 {
	return v.updatedAt
}

// Book holds exposure state with copy-on-write snapshots. There is
// exactly one writer (post-execution); the read path never locks.
type Book struct {
	mu sync.Mutex
	v  atomic.Value
}

// NewBook creates an empty exposure book.
func NewBook() *Book {
	b := &Book{}
	b.v.Store(View{
		clients:     map[schema.ClientID]schema.Notional{},
		instruments: map[schema.InstrumentID]schema.Notional{},
	})
	return b
}

// View returns the current immutable snapshot.
func (b *Book) View() View {
	return b.v.Load().(View)
}

// ApplyTrade folds a confirmed trade into a new snapshot. Rejected
// trades leave exposure untouched.
func (b *Book) ApplyTrade(order schema.Order, trade schema.Trade) {
	if trade.Result != schema.TradeResultConfirmed {
		return
	}
	p := int64(trade.ExecPrice)
	q := int64(trade.ExecQty)
	if p < 0 {
		p = -p
	}
	if q < 0 {
		q = -q
	}
	notional := schema.Notional(p * q)

	b.mu.Lock()
	defer b.mu.Unlock()
	cur := b.View()
	next := View{
		clients:     make(map[schema.ClientID]schema.Notional, len(cur.clients)+1),
		instruments: make(map[schema.InstrumentID]schema.Notional, len(cur.instruments)+1),
		updatedAt:   time.Now().UTC().UnixNano(),
	}
	for id, n := range cur.clients {
		next.clients[id] = n
	}
	for id, n := range cur.instruments {
		next.instruments[id] = n
	}
	next.clients[order.ClientID] += notional
	next.instruments[order.InstrumentID] += notional
	b.v.Store(next)
}

// Restore replaces the current snapshot with persisted state.
func (b *Book) Restore(snap Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := View{
		clients:     make(map[schema.ClientID]schema.Notional, len(snap.Clients)),
		instruments: make(map[schema.InstrumentID]schema.Notional, len(snap.Instruments)),
		updatedAt:   time.Now().UTC().UnixNano(),
	}
	for _, entry := range snap.Clients {
		next.clients[entry.ClientID] = entry.Exposure
	}
	for _, entry := range snap.Instruments {
		next.instruments[entry.InstrumentID] = entry.Exposure
	}
	b.v.Store(next)
}
