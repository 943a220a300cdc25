// internal/retry/retry.go
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Policy is the one retry rule shared by every transport call.
// Total attempts are 1 + MaxRetries; delays grow BaseDelay, BaseDelay*Multiplier, ...
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Multiplier float64
}

// DefaultPolicy retries three times after 500, 1000 and 2000 ms.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2}
}

// Attempts returns the total number of calls the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Delays lists the waits between attempts, in order.
func (p Policy) Delays() []time.Duration {
	b := p.backOff()
	b.Reset()
	out := make([]time.Duration, 0, p.Attempts()-1)
	for i := 1; i < p.Attempts(); i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         time.Hour,
	}
}

type options struct {
	logger *zap.Logger
	op     string
	notify func(attempt int, err error, next time.Duration)
}

// Option customizes a single Do call.
type Option func(*options)

// WithLogger logs every failed attempt at debug level under the given operation name.
func WithLogger(logger *zap.Logger, operation string) Option {
	return func(o *options) {
		o.logger = logger
		o.op = operation
	}
}

// WithNotify registers a callback invoked before each wait.
func WithNotify(fn func(attempt int, err error, next time.Duration)) Option {
	return func(o *options) {
		o.notify = fn
	}
}

// Permanent marks an error that must not be retried.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Do runs op under the policy. Errors marked Permanent stop immediately.
// The returned error is always the underlying cause.
func Do[T any](ctx context.Context, p Policy, op func() (T, error), opts ...Option) (T, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	attempt := 0
	notify := func(err error, next time.Duration) {
		if o.logger != nil {
			o.logger.Debug("Retrying after error",
				zap.String("operation", o.op),
				zap.Int("attempt", attempt),
				zap.Duration("next", next),
				zap.Error(err))
		}
		if o.notify != nil {
			o.notify(attempt, err, next)
		}
	}

	res, err := backoff.Retry(ctx, func() (T, error) {
		attempt++
		return op()
	},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.Attempts())),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}
	}
	return res, err
}
