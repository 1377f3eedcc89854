package gateway

import (
	"time"

	"github.com/cenkalti/backoff"
)

// reconnectPolicy yields the delay before each reconnect attempt. Delays
// start at one second and double on every consecutive failure up to a thirty
// second ceiling. Reset is called after a successful connect so the next
// failure starts back at the floor.
//
// Randomization is disabled: a single client reconnecting to its own gateway
// gains nothing from jitter, and fixed delays keep behavior predictable.
type reconnectPolicy struct {
	b *backoff.ExponentialBackOff
}

func newReconnectPolicy() *reconnectPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	b.Reset()
	return &reconnectPolicy{b: b}
}

// Next returns the delay for the next reconnect attempt and advances the
// schedule.
func (p *reconnectPolicy) Next() time.Duration {
	return p.b.NextBackOff()
}

// Reset returns the schedule to its one second floor.
func (p *reconnectPolicy) Reset() {
	p.b.Reset()
}
