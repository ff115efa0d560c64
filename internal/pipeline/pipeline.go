// Package pipeline chains the order stages: risk, compliance, routing
// and execution. Each stage runs on its own goroutine over bounded
// channels; admission is the only non-blocking hop, so an accepted
// order is never dropped inside the pipeline.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"execpipe/internal/bus"
	"execpipe/internal/compliance"
	"execpipe/internal/execution"
	"execpipe/internal/obs"
	"execpipe/internal/og"
	"execpipe/internal/postexec"
	"execpipe/internal/risk"
	"execpipe/internal/router"
	"execpipe/internal/schema"
	"execpipe/internal/state"
)

var (
	ErrPipelineBusy   = errors.New("pipeline queue full")
	ErrPipelineClosed = errors.New("pipeline closed")
	ErrOrderTerminal  = errors.New("order already terminal")
)

// ReasonCancelled marks orders cancelled by the client before they
// reached a venue.
const ReasonCancelled = "cancelled-by-client"

// Config sizes the pipeline.
type Config struct {
	// QueueSize bounds each stage channel. Defaults to 1024.
	QueueSize int
	// Workers is the execution worker count. Defaults to 4.
	Workers int
}

func (c Config) withDefaults() Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1024
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	return c
}

// Deps are the stage engines the pipeline drives.
type Deps struct {
	Lifecycle  *og.Lifecycle
	Book       *state.Book
	Risk       *risk.Engine
	Compliance *compliance.Engine
	Router     *router.Router
	Table      *router.Table
	Exec       *execution.Engine
	Post       *postexec.Processor
	Bus        *bus.Bus
	Metrics    *obs.Metrics
}

// Pipeline owns the stage goroutines. Submit and Cancel are safe for
// concurrent use.
type Pipeline struct {
	cfg  Config
	deps Deps

	created   chan schema.Order
	risked    chan schema.Order
	compliant chan schema.Order
	routed    chan schema.Order

	cancelMu  sync.Mutex
	cancelled map[uint64]struct{}

	closeOnce sync.Once
	closedMu  sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
	seq       atomic.Uint64
}

// New builds a stopped pipeline; call Start before submitting.
func New(cfg Config, deps Deps) *Pipeline {
	cfg = cfg.withDefaults()
	return &Pipeline{
		cfg:       cfg,
		deps:      deps,
		created:   make(chan schema.Order, cfg.QueueSize),
		risked:    make(chan schema.Order, cfg.QueueSize),
		compliant: make(chan schema.Order, cfg.QueueSize),
		routed:    make(chan schema.Order, cfg.QueueSize),
		cancelled: make(map[uint64]struct{}),
	}
}

// Start launches the stage goroutines. The context bounds blocking
// calls made by the stages, not the pipeline lifetime; use Stop to
// drain and shut down.
func (p *Pipeline) Start(ctx context.Context) {
	p.wg.Add(3)
	go p.runRiskStage(ctx)
	go p.runComplianceStage(ctx)
	go p.runRoutingStage(ctx)

	var workers sync.WaitGroup
	workers.Add(p.cfg.Workers)
	for i := 0; i < p.cfg.Workers; i++ {
		go func() {
			defer workers.Done()
			p.runExecutionWorker(ctx)
		}()
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		workers.Wait()
	}()
}

// Stop refuses new submissions, drains every stage and waits for the
// workers to finish.
func (p *Pipeline) Stop() {
	p.closeOnce.Do(func() {
		p.closedMu.Lock()
		p.closed = true
		p.closedMu.Unlock()
		close(p.created)
	})
	p.wg.Wait()
}

// Submit admits a created order. It never blocks: a full admission
// queue fails with ErrPipelineBusy and the order is not tracked.
func (p *Pipeline) Submit(order schema.Order) error {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed {
		return ErrPipelineClosed
	}
	if err := p.deps.Lifecycle.Track(order); err != nil {
		return err
	}
	select {
	case p.created <- order:
		p.deps.Metrics.IncOrderSubmitted()
		p.publishOrder(order)
		return nil
	default:
		if err := p.deps.Lifecycle.Forget(order.ID); err != nil {
			logs.Errorf("forget order %d: %v", order.ID, err)
		}
		return ErrPipelineBusy
	}
}

// Cancel requests best-effort cancellation. The order is rejected at
// the next stage boundary; once handed to a venue the execution
// result stands.
func (p *Pipeline) Cancel(id uint64) error {
	order, ok := p.deps.Lifecycle.Get(id)
	if !ok {
		return og.ErrUnknownOrder
	}
	if order.Status.Terminal() {
		return ErrOrderTerminal
	}
	p.cancelMu.Lock()
	p.cancelled[id] = struct{}{}
	p.cancelMu.Unlock()
	return nil
}

func (p *Pipeline) takeCancel(id uint64) bool {
	p.cancelMu.Lock()
	defer p.cancelMu.Unlock()
	if _, ok := p.cancelled[id]; !ok {
		return false
	}
	delete(p.cancelled, id)
	return true
}

func (p *Pipeline) clearCancel(id uint64) {
	p.cancelMu.Lock()
	delete(p.cancelled, id)
	p.cancelMu.Unlock()
}

func (p *Pipeline) runRiskStage(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.risked)
	for order := range p.created {
		if p.takeCancel(order.ID) {
			p.reject(ctx, order, ReasonCancelled)
			continue
		}
		start := time.Now()
		verdict := p.deps.Risk.Check(p.withReferencePrice(order), p.deps.Book.View())
		p.deps.Metrics.ObserveStage("risk", time.Since(start))
		if !verdict.Passed {
			p.reject(ctx, order, verdict.Reason)
			continue
		}
		next, err := p.advance(ctx, order, schema.StatusRiskChecked)
		if err != nil {
			continue
		}
		p.risked <- next
	}
}

func (p *Pipeline) runComplianceStage(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.compliant)
	for order := range p.risked {
		if p.takeCancel(order.ID) {
			p.reject(ctx, order, ReasonCancelled)
			continue
		}
		start := time.Now()
		verdict := p.deps.Compliance.Check(order)
		p.deps.Metrics.ObserveStage("compliance", time.Since(start))
		if !verdict.Passed {
			p.reject(ctx, order, verdict.Reason)
			continue
		}
		next, err := p.advance(ctx, order, schema.StatusCompliant)
		if err != nil {
			continue
		}
		p.compliant <- next
	}
}

func (p *Pipeline) runRoutingStage(ctx context.Context) {
	defer p.wg.Done()
	defer close(p.routed)
	for order := range p.compliant {
		if p.takeCancel(order.ID) {
			p.reject(ctx, order, ReasonCancelled)
			continue
		}
		start := time.Now()
		routedOrder, err := p.deps.Router.Route(order)
		p.deps.Metrics.ObserveStage("route", time.Since(start))
		if err != nil {
			p.reject(ctx, order, router.ReasonNoEligibleVenue)
			continue
		}
		applied, err := p.deps.Lifecycle.Apply(routedOrder)
		if err != nil {
			logs.Errorf("apply routed order %d: %v", order.ID, err)
			continue
		}
		p.deps.Post.Audit(ctx, applied)
		p.publishOrder(applied)
		p.routed <- applied
	}
}

func (p *Pipeline) runExecutionWorker(ctx context.Context) {
	for order := range p.routed {
		if p.takeCancel(order.ID) {
			p.reject(ctx, order, ReasonCancelled)
			continue
		}
		start := time.Now()
		trade := p.deps.Exec.Execute(ctx, order)
		p.deps.Metrics.ObserveStage("execute", time.Since(start))
		p.clearCancel(order.ID)
		final, err := p.deps.Post.Settle(ctx, order, trade)
		if err != nil {
			logs.Errorf("settle order %d: %v", order.ID, err)
			continue
		}
		p.publishOrder(final)
	}
}

func (p *Pipeline) advance(ctx context.Context, order schema.Order, status schema.OrderStatus) (schema.Order, error) {
	now := time.Now().UTC().UnixNano()
	applied, err := p.deps.Lifecycle.Apply(order.WithStatus(status, now))
	if err != nil {
		logs.Errorf("advance order %d to %s: %v", order.ID, status, err)
		return schema.Order{}, err
	}
	p.deps.Post.Audit(ctx, applied)
	p.publishOrder(applied)
	return applied, nil
}

func (p *Pipeline) reject(ctx context.Context, order schema.Order, reason string) {
	p.clearCancel(order.ID)
	applied, err := p.deps.Post.Reject(ctx, order, reason)
	if err != nil {
		logs.Errorf("reject order %d: %v", order.ID, err)
		return
	}
	p.publishOrder(applied)
}

func (p *Pipeline) publishOrder(order schema.Order) {
	if p.deps.Bus == nil {
		return
	}
	header := schema.NewHeader(schema.EventOrder, 0, p.seq.Add(1), order.UpdatedAt, order.UpdatedAt)
	p.deps.Bus.Publish(bus.TopicOrders, bus.Event{Header: header, Order: order})
}

// withReferencePrice substitutes a venue quote as the price of a
// market order so notional checks have something to work with. The
// forwarded order keeps its zero price.
func (p *Pipeline) withReferencePrice(order schema.Order) schema.Order {
	if order.Type != schema.OrderTypeMarket || order.Price != 0 || p.deps.Table == nil {
		return order
	}
	var ref schema.Price
	for _, venue := range p.deps.Table.Snapshot() {
		if !venue.Reachable {
			continue
		}
		quote, ok := venue.Quotes[order.InstrumentID]
		if !ok {
			continue
		}
		price := quote.AskPrice
		if order.Side == schema.OrderSideSell {
			price = quote.BidPrice
		}
		// The most expensive quote keeps the credit check conservative.
		if price > ref {
			ref = price
		}
	}
	order.Price = ref
	return order
}
