// internal/journey/poller.go
package journey

import (
	"context"
	"time"

	commonerrors "insurance-journey/internal/common/errors"
	"insurance-journey/internal/common/metrics"
)

const (
	// DefaultPollInterval matches the backend's worker cadence closely
	// enough that a decision is usually observed within a few ticks.
	DefaultPollInterval = 2000 * time.Millisecond
	DefaultMaxAttempts  = 15
)

// SleepFunc waits for d or until the context is cancelled. Tests inject
// an instant version so polling is deterministic without a wall clock.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Poller is the explicit state object for one bounded wait: attempt
// count, cap, interval, and the injectable sleep. One Poller drives one
// logical wait; the caller cancels the context to stop it early.
type Poller[T any] struct {
	Wait        string
	Interval    time.Duration
	MaxAttempts int
	Sleep       SleepFunc
}

// NewPoller creates a poller with defaults applied for zero values.
func NewPoller[T any](wait string, interval time.Duration, maxAttempts int) *Poller[T] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return &Poller[T]{
		Wait:        wait,
		Interval:    interval,
		MaxAttempts: maxAttempts,
		Sleep:       sleepWithContext,
	}
}

// Run fetches the resource until the terminal predicate holds, the
// attempt cap is reached, or the context is cancelled.
//
// On a terminal state the state is returned with a nil error. If the cap
// is exhausted the last observed state is returned together with a
// *commonerrors.PollTimeout, resolved exactly once. A fetch failure ends
// the loop immediately and surfaces that error; it is never silently
// retried.
func (p *Poller[T]) Run(ctx context.Context, fetch func(ctx context.Context) (T, error), terminal func(T) bool) (T, error) {
	var last T

	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepWithContext
	}

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return last, err
		}

		metrics.PollAttempts.WithLabelValues(p.Wait).Inc()

		state, err := fetch(ctx)
		if err != nil {
			metrics.PollOutcomes.WithLabelValues(p.Wait, "fetch_error").Inc()
			return last, err
		}
		last = state

		if terminal(state) {
			metrics.PollOutcomes.WithLabelValues(p.Wait, "terminal").Inc()
			return state, nil
		}

		if attempt < p.MaxAttempts {
			if err := sleep(ctx, p.Interval); err != nil {
				return last, err
			}
		}
	}

	metrics.PollOutcomes.WithLabelValues(p.Wait, "timeout").Inc()
	return last, commonerrors.NewPollTimeout(p.Wait, p.MaxAttempts)
}
