package ingest

import (
	"math/rand"
	"time"
)

// Backoff produces exponentially growing reconnect delays with jitter.
// It is stateful: Next advances the delay, Reset rewinds it after a
// healthy connection. Not safe for concurrent use.
type Backoff struct {
	// Min is the first delay. Defaults to 250ms.
	Min time.Duration
	// Max caps the delay. Defaults to 5s.
	Max time.Duration
	// Factor grows the delay per attempt. Defaults to 2.0.
	Factor float64
	// Jitter randomizes each delay by +-Jitter fraction (0-1).
	Jitter float64

	attempt int
}

// Next returns the delay to wait before the next reconnect attempt.
func (b *Backoff) Next() time.Duration {
	min := b.Min
	if min <= 0 {
		min = 250 * time.Millisecond
	}
	max := b.Max
	if max <= 0 {
		max = 5 * time.Second
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 0; i < b.attempt; i++ {
		wait = time.Duration(float64(wait) * factor)
		if wait >= max {
			wait = max
			break
		}
	}
	b.attempt++

	jitter := b.Jitter
	if jitter <= 0 {
		return wait
	}
	if jitter > 1 {
		jitter = 1
	}
	delta := float64(wait) * jitter
	return wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
}

// Reset rewinds the delay to Min. Callers invoke it after a connection
// stays healthy long enough to trust.
func (b *Backoff) Reset() {
	b.attempt = 0
}
