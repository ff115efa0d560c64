package router

import (
	"context"
	"sync"
	"sync/atomic"

	"execpipe/internal/bus"
	"execpipe/internal/schema"
)

// Quote is the latest liquidity view for one instrument at one venue.
type Quote struct {
	BidPrice schema.Price
	BidSize  schema.Quantity
	AskPrice schema.Price
	AskSize  schema.Quantity
	TsRecv   int64
}

// VenueState is the routing view of a single venue.
type VenueState struct {
	VenueID   schema.VenueID
	Reachable bool
	FeeBps    int64
	Quotes    map[schema.InstrumentID]Quote
}

// States is an immutable venue-state snapshot keyed by venue ID.
type States map[schema.VenueID]VenueState

// Table holds venue states with copy-on-write snapshots. A background
// watcher is the only writer; Route reads snapshots lock-free.
type Table struct {
	mu sync.Mutex
	v  atomic.Value
}

// NewTable creates a table pre-populated from the registry: every
// venue starts reachable with its configured fee and no quotes.
func NewTable(reg *schema.Registry) *Table {
	t := &Table{}
	states := make(States, reg.VenueCount())
	for i := 0; i < reg.VenueCount(); i++ {
		venue, ok := reg.VenueAt(i)
		if !ok {
			continue
		}
		states[venue.ID] = VenueState{
			VenueID:   venue.ID,
			Reachable: true,
			FeeBps:    venue.FeeBps,
			Quotes:    map[schema.InstrumentID]Quote{},
		}
	}
	t.v.Store(states)
	return t
}

// Snapshot returns the current immutable states.
func (t *Table) Snapshot() States {
	return t.v.Load().(States)
}

// UpdateQuote installs a new snapshot with the quote replaced.
func (t *Table) UpdateQuote(venueID schema.VenueID, instrumentID schema.InstrumentID, quote Quote) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.Snapshot()
	if _, ok := cur[venueID]; !ok {
		return
	}
	next := cloneStates(cur)
	ns := next[venueID]
	ns.Quotes[instrumentID] = quote
	next[venueID] = ns
	t.v.Store(next)
}

// SetReachable installs a new snapshot with the venue's reachability
// flag replaced.
func (t *Table) SetReachable(venueID schema.VenueID, reachable bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.Snapshot()
	state, ok := cur[venueID]
	if !ok || state.Reachable == reachable {
		return
	}
	next := cloneStates(cur)
	ns := next[venueID]
	ns.Reachable = reachable
	next[venueID] = ns
	t.v.Store(next)
}

// Watch refreshes the table from bus events until the context is
// done: tick events update quotes, venue health events flip
// reachability. venueBySource maps a feed source ID to the venue it
// quotes for; ticks from unmapped sources are ignored.
func (t *Table) Watch(ctx context.Context, sub *bus.Subscription, venueBySource map[uint16]schema.VenueID) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-sub.C():
			if !ok {
				return
			}
			switch e.Header.Type {
			case schema.EventTick:
				venueID, ok := venueBySource[e.Tick.Source]
				if !ok {
					continue
				}
				t.UpdateQuote(venueID, e.Tick.InstrumentID, Quote{
					BidPrice: e.Tick.BidPrice,
					BidSize:  e.Tick.BidSize,
					AskPrice: e.Tick.AskPrice,
					AskSize:  e.Tick.AskSize,
					TsRecv:   e.Tick.TsRecv,
				})
			case schema.EventVenueStatus:
				t.SetReachable(e.Venue.VenueID, e.Venue.Reachable)
			}
		}
	}
}

func cloneStates(cur States) States {
	next := make(States, len(cur))
	for id, state := range cur {
		quotes := make(map[schema.InstrumentID]Quote, len(state.Quotes))
		for k, q := range state.Quotes {
			quotes[k] = q
		}
		state.Quotes = quotes
		next[id] = state
	}
	return next
}
