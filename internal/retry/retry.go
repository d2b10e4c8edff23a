// Package retry provides the bounded exponential retry policy shared by the
// generator, publisher and notifier.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Policy configures retry behavior for one external capability.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	// Default: 3
	MaxAttempts int

	// BaseDelay is the delay before the second attempt.
	// Default: 1 second
	BaseDelay time.Duration

	// MaxDelay caps the delay between attempts.
	// Default: 30 seconds
	MaxDelay time.Duration

	// Multiplier grows the delay after every failed attempt.
	// Default: 2
	Multiplier float64

	// Jitter randomizes each delay by +/- Jitter*delay. Zero disables it.
	Jitter float64

	// AttemptTimeout bounds a single attempt. Zero means no per-attempt limit.
	AttemptTimeout time.Duration
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (p *Policy) ApplyDefaults() {
	defaults := DefaultPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaults.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = defaults.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaults.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = 0
	}
}

// Delays returns the nominal (unjittered) waits between attempts.
func (p Policy) Delays() []time.Duration {
	p.ApplyDefaults()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	d := p.BaseDelay
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, d)
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return delays
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
}

// Operation is one attempt. attempt starts at 1.
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// NotifyFunc observes a failed attempt before the wait that follows it.
type NotifyFunc func(attempt int, err error, next time.Duration)

type options struct {
	retryable func(error) bool
	notify    NotifyFunc
	delay     func(error) (time.Duration, bool)
}

// Option customizes a Do call.
type Option func(*options)

// WithClassifier treats errors for which retryable returns false as permanent.
func WithClassifier(retryable func(error) bool) Option {
	return func(o *options) { o.retryable = retryable }
}

// WithNotify registers a callback for every failed attempt that will be retried.
func WithNotify(fn NotifyFunc) Option {
	return func(o *options) { o.notify = fn }
}

// WithDelay lets the failed attempt's error choose the next wait, for example
// from a rate limit reset time. The hint is capped at the policy's MaxDelay.
func WithDelay(hint func(err error) (time.Duration, bool)) Option {
	return func(o *options) { o.delay = hint }
}

// hintedBackOff returns a one-shot override before falling back to the
// exponential schedule.
type hintedBackOff struct {
	backoff.BackOff
	next time.Duration
}

func (h *hintedBackOff) NextBackOff() time.Duration {
	if h.next > 0 {
		d := h.next
		h.next = 0
		return d
	}
	return h.BackOff.NextBackOff()
}

// Permanent marks err as non-retryable. Do returns the unwrapped err.
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *backoff.PermanentError
	return errors.As(err, &perm)
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs op until it succeeds, fails permanently, runs out of attempts, or
// ctx is done. It returns the result, the number of attempts made, and the
// final error.
func Do[T any](ctx context.Context, p Policy, op Operation[T], opts ...Option) (T, int, error) {
	p.ApplyDefaults()

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	var (
		attempts int
		lastErr  error
	)
	bo := &hintedBackOff{BackOff: p.backOff()}
	attempt := func() (T, error) {
		attempts++

		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := op(actx, attempts)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if !IsPermanent(err) && o.retryable != nil && !o.retryable(err) {
			return v, backoff.Permanent(err)
		}
		if o.delay != nil {
			if d, ok := o.delay(err); ok && d > 0 {
				bo.next = min(d, p.MaxDelay)
			}
		}
		return v, err
	}

	retryOpts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
	}
	if o.notify != nil {
		retryOpts = append(retryOpts, backoff.WithNotify(func(err error, next time.Duration) {
			o.notify(attempts, err, next)
		}))
	}

	v, err := backoff.Retry(ctx, attempt, retryOpts...)
	if err == nil {
		return v, attempts, nil
	}

	var perm *backoff.PermanentError
	switch {
	case errors.As(err, &perm):
		return v, attempts, perm.Err
	case ctx.Err() != nil && lastErr != nil && !errors.Is(lastErr, err):
		return v, attempts, fmt.Errorf("%w (last error: %v)", err, lastErr)
	case IsRetryable(err, o.retryable) && attempts >= p.MaxAttempts:
		return v, attempts, &ExhaustedError{Attempts: attempts, Err: err}
	default:
		return v, attempts, err
	}
}

// IsRetryable applies retryable to err, treating permanent errors as final.
func IsRetryable(err error, retryable func(error) bool) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	if retryable == nil {
		return true
	}
	return retryable(err)
}

// StatusError reports an unexpected HTTP response status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
	}
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// RetryableStatus reports whether an HTTP status code is worth retrying.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return code >= 500 && code < 600
}

// HTTPClassifier retries transport failures and retryable status codes.
func HTTPClassifier(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return RetryableStatus(se.Code)
	}
	return true
}
