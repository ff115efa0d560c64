package compliance

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"execpipe/internal/schema"
)

// ReasonPrefix is prepended to the failing rule name in verdicts.
const ReasonPrefix = "compliance-violation:"

// RefData is the static reference data rules evaluate against. It is
// distributed as an immutable snapshot; the refresher installs whole
// replacements, never edits in place.
type RefData struct {
	Restricted    map[schema.InstrumentID]struct{}
	ShortSaleBans map[schema.InstrumentID]struct{}
	MaxOrderQty   schema.Quantity
}

// Rule is a side-effect-free predicate over an order and reference
// data. Rules must not perform I/O.
type Rule interface {
	Name() string
	Allow(order schema.Order, ref RefData) bool
}

// RefSource supplies fresh reference data for the background refresher.
type RefSource interface {
	Fetch(ctx context.Context) (RefData, error)
}

// Engine applies an ordered rule list; the first failing rule names
// the rejection reason.
type Engine struct {
	rules []Rule
	ref   atomic.Value
}

// NewEngine creates an engine with the given rule order and initial
// reference data.
func NewEngine(ref RefData, rules ...Rule) *Engine {
	e := &Engine{rules: rules}
	e.ref.Store(ref)
	return e
}

// Check evaluates the order against the current reference snapshot.
func (e *Engine) Check(order schema.Order) schema.ComplianceVerdict {
	ref := e.ref.Load().(RefData)
	for _, rule := range e.rules {
		if !rule.Allow(order, ref) {
			return schema.ComplianceVerdict{
				OrderID: order.ID,
				Passed:  false,
				Reason:  ReasonPrefix + rule.Name(),
			}
		}
	}
	return schema.ComplianceVerdict{OrderID: order.ID, Passed: true}
}

// UpdateRef installs a new reference snapshot.
func (e *Engine) UpdateRef(ref RefData) {
	e.ref.Store(ref)
}

// RunRefresher periodically refreshes reference data from the source
// until the context is done. Fetch failures keep the last good
// snapshot.
func (e *Engine) RunRefresher(ctx context.Context, src RefSource, interval time.Duration) {
	if src == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ref, err := src.Fetch(ctx)
			if err != nil {
				logs.Errorf("compliance refdata refresh failed, err: %+v", err)
				continue
			}
			e.UpdateRef(ref)
		}
	}
}
