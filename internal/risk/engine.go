package risk

import (
	"execpipe/internal/schema"
)

// Rejection reasons, in breach-priority order.
const (
	ReasonCredit        = "risk-breach:credit"
	ReasonConcentration = "risk-breach:concentration"
)

// Config defines risk limits beyond the per-client credit limits held
// in the registry.
type Config struct {
	// MaxInstrumentNotional caps open notional per instrument across
	// all clients. Zero disables the check.
	MaxInstrumentNotional schema.Notional `json:"maxInstrumentNotional" mapstructure:"maxInstrumentNotional"`
}

// ExposureView is the read side of the exposure book. Implementations
// must be immutable snapshots.
type ExposureView interface {
	ClientExposure(schema.ClientID) schema.Notional
	InstrumentExposure(schema.InstrumentID) schema.Notional
}

// Engine evaluates orders against credit and concentration limits.
// Check is a pure function of its inputs; exposure is only ever
// written by the post-execution stage.
type Engine struct {
	cfg Config
	reg *schema.Registry
}

// NewEngine creates a risk engine over static limits.
func NewEngine(cfg Config, reg *schema.Registry) *Engine {
	return &Engine{cfg: cfg, reg: reg}
}

// Check evaluates an order against the exposure snapshot. When several
// limits are breached the first by fixed priority is reported: credit
// before concentration.
func (e *Engine) Check(order schema.Order, exposure ExposureView) schema.RiskVerdict {
	verdict := schema.RiskVerdict{OrderID: order.ID, Passed: true}

	notional, overflow := order.Notional()
	if overflow {
		verdict.Passed = false
		verdict.Reason = ReasonCredit
		return verdict
	}

	client, ok := e.reg.Client(order.ClientID)
	if !ok || exceeds(exposure.ClientExposure(order.ClientID), notional, client.CreditLimit) {
		verdict.Passed = false
		verdict.Reason = ReasonCredit
		return verdict
	}

	if e.cfg.MaxInstrumentNotional > 0 &&
		exceeds(exposure.InstrumentExposure(order.InstrumentID), notional, e.cfg.MaxInstrumentNotional) {
		verdict.Passed = false
		verdict.Reason = ReasonConcentration
		return verdict
	}

	return verdict
}

// exceeds reports whether current+delta breaches limit, treating
// additions that would overflow as breaches.
func exceeds(current, delta schema.Notional, limit schema.Notional) bool {
	sum := int64(current) + int64(delta)
	if sum < int64(current) {
		return true
	}
	return schema.Notional(sum) > limit
}
