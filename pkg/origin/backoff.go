package origin

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// exponentialJitter yields base*2^n + jitter for the n-th retry.
type exponentialJitter struct {
	base    time.Duration
	jitter  time.Duration
	retries int
	random  func() float64
}

var _ backoff.BackOff = (*exponentialJitter)(nil)

func newExponentialJitter(base, jitter time.Duration) *exponentialJitter {
	return &exponentialJitter{
		base:   base,
		jitter: jitter,
		random: rand.Float64,
	}
}

func (b *exponentialJitter) NextBackOff() time.Duration {
	delay := b.base << b.retries
	delay += time.Duration(b.random() * float64(b.jitter))
	b.retries++
	return delay
}

func (b *exponentialJitter) Reset() {
	b.retries = 0
}
