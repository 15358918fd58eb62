package crm

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Policy bounds the retry behavior for transient store errors.
type Policy struct {
	Attempts int           // total attempts including the first
	Base     time.Duration // first backoff delay, doubled per retry
	Max      time.Duration // cap on a single backoff delay
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		Base:     500 * time.Millisecond,
		Max:      8 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Base <= 0 {
		p.Base = d.Base
	}
	if p.Max <= 0 {
		p.Max = d.Max
	}
	return p
}

// Do runs fn, retrying with capped exponential backoff while the error is
// retryable under the predicate. Validation and logical errors must never be
// retried; pass IsTransient unless a caller has a narrower predicate. The
// last error is returned once attempts are exhausted.
func Do(ctx context.Context, logger *zap.Logger, policy Policy, retryable func(error) bool, fn func() error) error {
	policy = policy.withDefaults()
	if retryable == nil {
		retryable = IsTransient
	}

	var err error
	delay := policy.Base
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt >= policy.Attempts {
			return err
		}
		if logger != nil {
			logger.Warn("Transient store error, backing off",
				zap.Int("Attempt", attempt),
				zap.Duration("Delay", delay),
				zap.Error(err),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.Max {
			delay = policy.Max
		}
	}
}
