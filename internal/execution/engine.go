package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/logs"

	"execpipe/internal/bus"
	"execpipe/internal/obs"
	"execpipe/internal/schema"
)

// Terminal rejection reasons produced by the execution layer.
const (
	ReasonVenueTimeout     = "venue-timeout"
	ReasonVenueUnavailable = "venue-unavailable"
	ReasonPrefixReject     = "venue-reject:"
)

// VenueAck is a venue's answer to a send attempt.
type VenueAck struct {
	Accepted  bool
	Reason    string
	ExecPrice schema.Price
	ExecQty   schema.Quantity
}

// VenueStatus answers a status query for an idempotency token.
type VenueStatus struct {
	Known bool
	Ack   VenueAck
}

// VenueClient is the abstract venue transport. Implementations must
// guarantee at most one execution per idempotency token: a duplicate
// token returns the original ack instead of filling again.
type VenueClient interface {
	Send(ctx context.Context, order schema.Order, token string) (VenueAck, error)
	Query(ctx context.Context, token string) (VenueStatus, error)
}

// Config bounds the venue interaction.
type Config struct {
	AckTimeout   time.Duration
	QueryTimeout time.Duration
	// TripThreshold is the number of consecutive unanswered sends
	// after which a venue is reported unreachable.
	TripThreshold int
}

func (c Config) withDefaults() Config {
	if c.AckTimeout <= 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = time.Second
	}
	if c.TripThreshold <= 0 {
		c.TripThreshold = 3
	}
	return c
}

// Engine transmits routed orders to their venue and finalizes each
// attempt as exactly one trade. It also tracks venue health: a venue
// that stops answering is reported on the bus so the router can stop
// selecting it, and reported reachable again once it answers.
type Engine struct {
	cfg     Config
	clients map[schema.VenueID]VenueClient
	bus     *bus.Bus
	metrics *obs.Metrics

	mu     sync.Mutex
	tokens map[uint64]string
	trips  map[schema.VenueID]int
	seq    uint64
}

// NewEngine creates an execution engine over per-venue clients. The
// bus carries venue health events and may be nil in tests.
func NewEngine(cfg Config, clients map[schema.VenueID]VenueClient, b *bus.Bus, metrics *obs.Metrics) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		clients: clients,
		bus:     b,
		metrics: metrics,
		tokens:  make(map[uint64]string),
		trips:   make(map[schema.VenueID]int),
	}
}

// Execute sends the order to its routed venue and returns the trade
// recording the attempt. On an unanswered ack it issues exactly one
// status query before finalizing; it never resends blindly.
func (e *Engine) Execute(ctx context.Context, order schema.Order) schema.Trade {
	now := time.Now().UTC().UnixNano()
	token := e.tokenFor(order.ID)

	client, ok := e.clients[order.VenueID]
	if !ok {
		return e.rejected(order, token, ReasonVenueUnavailable, now)
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.cfg.AckTimeout)
	ack, err := client.Send(sendCtx, order, token)
	cancel()
	if err == nil {
		e.venueUp(order.VenueID)
		return e.fromAck(order, token, ack)
	}

	// Unanswered send: one status query resolves whether the venue
	// recorded the attempt. Resending would risk a duplicate fill.
	logs.Infof("venue ack missing for order %d, querying token %s", order.ID, token)
	queryCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.QueryTimeout)
	status, qerr := client.Query(queryCtx, token)
	cancel()
	if qerr == nil && status.Known {
		e.venueUp(order.VenueID)
		return e.fromAck(order, token, status.Ack)
	}

	e.metrics.IncVenueTimeout()
	e.venueDown(order.VenueID)
	return e.rejected(order, token, ReasonVenueTimeout, time.Now().UTC().UnixNano())
}

// venueDown counts a consecutive unanswered send. Crossing the trip
// threshold publishes an unreachable venue health event.
func (e *Engine) venueDown(venueID schema.VenueID) {
	e.mu.Lock()
	e.trips[venueID]++
	tripped := e.trips[venueID] == e.cfg.TripThreshold
	e.mu.Unlock()
	if tripped {
		logs.Errorf("venue %d unanswered %d times, marking unreachable", venueID, e.cfg.TripThreshold)
		e.publishHealth(venueID, false)
	}
}

// venueUp clears the timeout streak. A venue that had tripped is
// reported reachable again.
func (e *Engine) venueUp(venueID schema.VenueID) {
	e.mu.Lock()
	recovered := e.trips[venueID] >= e.cfg.TripThreshold
	e.trips[venueID] = 0
	e.mu.Unlock()
	if recovered {
		logs.Infof("venue %d answering again, marking reachable", venueID)
		e.publishHealth(venueID, true)
	}
}

func (e *Engine) publishHealth(venueID schema.VenueID, reachable bool) {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	e.seq++
	seq := e.seq
	e.mu.Unlock()
	now := time.Now().UTC().UnixNano()
	e.bus.Publish(bus.TopicTicks, bus.Event{
		Header: schema.NewHeader(schema.EventVenueStatus, 0, seq, now, now),
		Venue:  schema.VenueHealth{VenueID: venueID, Reachable: reachable, Ts: now},
	})
}

// tokenFor returns the idempotency token for an order, minting one on
// first use. Re-executing the same order reuses the token so the venue
// can dedupe.
func (e *Engine) tokenFor(orderID uint64) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if token, ok := e.tokens[orderID]; ok {
		return token
	}
	token := uuid.NewString()
	e.tokens[orderID] = token
	return token
}

func (e *Engine) fromAck(order schema.Order, token string, ack VenueAck) schema.Trade {
	now := time.Now().UTC().UnixNano()
	if !ack.Accepted {
		reason := ack.Reason
		if reason == "" {
			reason = "unspecified"
		}
		return e.rejected(order, token, ReasonPrefixReject+reason, now)
	}
	execQty := ack.ExecQty
	if execQty == 0 {
		execQty = order.Qty
	}
	execPrice := ack.ExecPrice
	if execPrice == 0 {
		execPrice = order.Price
	}
	return schema.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		VenueID:    order.VenueID,
		Token:      token,
		Result:     schema.TradeResultConfirmed,
		ExecPrice:  execPrice,
		ExecQty:    execQty,
		ExecutedAt: now,
	}
}

func (e *Engine) rejected(order schema.Order, token, reason string, now int64) schema.Trade {
	return schema.Trade{
		ID:         uuid.NewString(),
		OrderID:    order.ID,
		VenueID:    order.VenueID,
		Token:      token,
		Result:     schema.TradeResultRejected,
		Reason:     reason,
		ExecutedAt: now,
	}
}
