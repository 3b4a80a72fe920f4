package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// RetryPolicy bounds the optimistic-lock retry loop around instance
// mutations. Only store.ErrVersionConflict is retried; every other error
// passes through immediately.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the standard bounded-backoff policy:
// 5 attempts, 200ms base delay, 1.5x growth, capped at 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		Multiplier:  1.5,
		MaxDelay:    2 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	return p
}

// Do runs fn until it succeeds, fails with a non-conflict error, or all
// attempts are spent. Each redo starts from a fresh read inside fn;
// stale in-memory state is never resumed. Exhaustion returns a CONFLICT
// error wrapping store.ErrVersionConflict so callers can tell retry
// exhaustion apart from state-guard conflicts.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var err error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err = fn(ctx)
		if err == nil || !errors.Is(err, store.ErrVersionConflict) {
			return err
		}
		versionConflicts.Inc()
	}

	retryExhaustions.Inc()
	return &model.Error{
		Code:    model.CodeConflict,
		Message: "workflow was modified concurrently; refresh and retry",
		Err:     err,
	}
}
