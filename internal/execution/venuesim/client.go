// Package venuesim provides an in-memory venue client for local runs
// and tests. It honors the idempotency contract: a duplicate token
// returns the original ack and never fills twice.
package venuesim

import (
	"context"
	"sync"

	"execpipe/internal/execution"
	"execpipe/internal/schema"
)

// Behavior scripts how the simulated venue answers.
type Behavior uint8

const (
	// BehaviorFill acknowledges and fills every order at its price.
	BehaviorFill Behavior = iota
	// BehaviorReject rejects every order with RejectReason.
	BehaviorReject
	// BehaviorSilent never answers a send; queries still work and
	// report whether the attempt was recorded.
	BehaviorSilent
)

// Config scripts the simulated venue.
type Config struct {
	Behavior Behavior
	// RejectReason is reported for BehaviorReject.
	RejectReason string
	// RecordSilent controls whether BehaviorSilent records the attempt
	// before going quiet, making a later status query find it.
	RecordSilent bool
}

// Client is a scripted in-memory venue.
type Client struct {
	cfg Config

	mu   sync.Mutex
	acks map[string]execution.VenueAck
}

var _ execution.VenueClient = (*Client)(nil)

// New creates a simulated venue client.
func New(cfg Config) *Client {
	if cfg.RejectReason == "" {
		cfg.RejectReason = "insufficient-liquidity"
	}
	return &Client{cfg: cfg, acks: make(map[string]execution.VenueAck)}
}

// Send answers per the scripted behavior. Duplicate tokens short-
// circuit to the original ack.
func (c *Client) Send(ctx context.Context, order schema.Order, token string) (execution.VenueAck, error) {
	c.mu.Lock()
	if ack, ok := c.acks[token]; ok {
		c.mu.Unlock()
		return ack, nil
	}

	switch c.cfg.Behavior {
	case BehaviorFill:
		ack := execution.VenueAck{
			Accepted:  true,
			ExecPrice: order.Price,
			ExecQty:   order.Qty,
		}
		c.acks[token] = ack
		c.mu.Unlock()
		return ack, nil
	case BehaviorReject:
		ack := execution.VenueAck{Accepted: false, Reason: c.cfg.RejectReason}
		c.acks[token] = ack
		c.mu.Unlock()
		return ack, nil
	default:
		if c.cfg.RecordSilent {
			c.acks[token] = execution.VenueAck{
				Accepted:  true,
				ExecPrice: order.Price,
				ExecQty:   order.Qty,
			}
		}
		c.mu.Unlock()
		<-ctx.Done()
		return execution.VenueAck{}, ctx.Err()
	}
}

// Query reports the recorded ack for a token, if any.
func (c *Client) Query(ctx context.Context, token string) (execution.VenueStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ack, ok := c.acks[token]
	if !ok {
		return execution.VenueStatus{}, nil
	}
	return execution.VenueStatus{Known: true, Ack: ack}, nil
}

// Fills returns how many distinct tokens were filled.
func (c *Client) Fills() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ack := range c.acks {
		if ack.Accepted {
			n++
		}
	}
	return n
}
