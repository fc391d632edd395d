package activity

import (
	"context"
	"time"

	provision "github.com/goliatone/go-provision"
)

// DefaultMaxAttempts bounds retries when no option overrides it.
const DefaultMaxAttempts = 3

// Option configures an Executor or a single Run call.
type Option func(*Executor)

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

// WithRetryStrategy lets you define a custom backoff approach.
func WithRetryStrategy(s RetryStrategy) Option {
	return func(e *Executor) {
		if s != nil {
			e.strategy = s
		}
	}
}

// WithPerAttemptTimeout bounds each individual invocation.
func WithPerAttemptTimeout(d time.Duration) Option {
	return func(e *Executor) {
		e.perAttemptTimeout = d
	}
}

// WithRetryPredicate overrides the transient-vs-fatal classification. The
// predicate returns true when the error is worth retrying.
func WithRetryPredicate(p func(error) bool) Option {
	return func(e *Executor) {
		if p != nil {
			e.retryPredicate = p
		}
	}
}

func WithLogger(l provision.Logger) Option {
	return func(e *Executor) {
		e.logger = l
	}
}

// Executor invokes single units of work against external collaborators
// with bounded retry. It isolates the retry/backoff concern so the
// orchestration plan stays declarative.
type Executor struct {
	maxAttempts       int
	strategy          RetryStrategy
	perAttemptTimeout time.Duration
	retryPredicate    func(error) bool
	logger            provision.Logger
}

// NewExecutor constructs an executor, applying defaults for unset options.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{
		maxAttempts:    DefaultMaxAttempts,
		strategy:       DefaultStrategy(),
		retryPredicate: DefaultRetryPredicate,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	e.logger = provision.NormalizeLogger(e.logger)
	return e
}

func (e *Executor) with(opts []Option) *Executor {
	if len(opts) == 0 {
		return e
	}
	cp := *e
	for _, opt := range opts {
		if opt != nil {
			opt(&cp)
		}
	}
	return &cp
}

// Run invokes a value-producing activity under the executor's retry policy.
// Per-call options override the executor's defaults for this invocation.
func Run[T any](ctx context.Context, e *Executor, name string, fn func(context.Context) (T, error), opts ...Option) (T, error) {
	var zero T
	if e == nil {
		e = NewExecutor()
	}
	cfg := e.with(opts)

	var trail []Attempt
	var lastErr error

	for attempt := 1; attempt <= cfg.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, wrapAbort(name, attempt-1, trail, err)
		}

		started := time.Now().UTC()
		value, err := invoke(ctx, cfg.perAttemptTimeout, fn)
		if err == nil {
			return value, nil
		}
		lastErr = err

		if !cfg.retryPredicate(err) {
			trail = append(trail, Attempt{Number: attempt, StartedAt: started, Outcome: OutcomeFatal, Err: err})
			cfg.logger.Error("activity %s failed fatally on attempt %d: %v", name, attempt, err)
			return zero, wrapFailure(name, true, attempt, trail, err)
		}

		trail = append(trail, Attempt{Number: attempt, StartedAt: started, Outcome: OutcomeRetryable, Err: err})
		if attempt < cfg.maxAttempts {
			cfg.logger.Warn("activity %s attempt %d of %d failed: %v", name, attempt, cfg.maxAttempts, err)
			if sleepErr := sleepContext(ctx, cfg.strategy.SleepDuration(attempt-1, err)); sleepErr != nil {
				return zero, wrapAbort(name, attempt, trail, sleepErr)
			}
		}
	}

	cfg.logger.Error("activity %s exhausted %d attempts: %v", name, cfg.maxAttempts, lastErr)
	return zero, wrapFailure(name, false, cfg.maxAttempts, trail, lastErr)
}

// Exec invokes a value-less activity under the executor's retry policy.
func Exec(ctx context.Context, e *Executor, name string, fn func(context.Context) error, opts ...Option) error {
	_, err := Run(ctx, e, name, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, opts...)
	return err
}

func invoke[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return fn(attemptCtx)
	}
	return fn(ctx)
}

func wrapFailure(name string, fatal bool, attempts int, trail []Attempt, cause error) error {
	ae := &Error{Name: name, Fatal: fatal, Attempts: attempts, Trail: trail, Err: cause}
	base := provision.ErrActivityExhausted
	if fatal {
		base = provision.ErrActivityFatal
	}
	return provision.CloneError(base, ae.Error(), ae, map[string]any{
		"activity": name,
		"attempts": attempts,
		"fatal":    fatal,
	})
}

func wrapAbort(name string, attempts int, trail []Attempt, cause error) error {
	ae := &Error{Name: name, Fatal: true, Attempts: attempts, Trail: trail, Err: cause}
	return provision.CloneError(provision.ErrTimeout, ae.Error(), ae, map[string]any{
		"activity": name,
		"attempts": attempts,
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
