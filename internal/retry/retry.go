// Package retry implements the storage retry policy used by every
// safety-critical S3 and ledger call in the pipeline: a linearly increasing
// delay of 1s, 2s, 3s, ... capped at 30s per attempt, abandoned once the
// total sleep budget is spent. Transient throttling must not be mistaken
// for a permanent error, so callers treat an abandoned retry as a soft
// failure and record a terminal marker instead of crashing.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	initialDelay = 1 * time.Second
	delayIncr    = 1 * time.Second
	maxDelay     = 30 * time.Second

	// defaultBudget is the total sleep allowed across all attempts,
	// the sum of the full 1..30s schedule.
	defaultBudget = 465 * time.Second
)

// linearBackOff yields initialDelay, then grows by delayIncr up to maxDelay,
// and stops once the cumulative sleep would exceed the budget.
type linearBackOff struct {
	next   time.Duration
	slept  time.Duration
	budget time.Duration
}

func (b *linearBackOff) NextBackOff() time.Duration {
	if b.slept+b.next > b.budget {
		return backoff.Stop
	}
	d := b.next
	b.slept += d
	if b.next < maxDelay {
		b.next += delayIncr
	}
	return d
}

func (b *linearBackOff) Reset() {
	b.next = initialDelay
	b.slept = 0
}

// New returns a fresh BackOff implementing the pipeline retry schedule.
func New() backoff.BackOff {
	b := &linearBackOff{budget: defaultBudget}
	b.Reset()
	return b
}

// Do runs fn under the pipeline retry schedule, honoring ctx cancellation.
// The operation name is only used for logging when the budget is exhausted.
func Do(ctx context.Context, op string, fn func() error) error {
	err := backoff.Retry(fn, backoff.WithContext(New(), ctx))
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("Retry budget exhausted")
	}
	return err
}
