package txn

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// Options tune a single managed execution.
type Options struct {
	// Timeout bounds one attempt. Zero means no attempt deadline.
	Timeout time.Duration
	// RetryAttempts is the maximum number of retries after the first attempt.
	RetryAttempts int
	// RetryDelay is the backoff base; attempt N waits RetryDelay * N.
	RetryDelay time.Duration
}

// DefaultOptions mirror the engine-wide retry policy.
func DefaultOptions() Options {
	return Options{
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// Result is the value returned by Execute in place of an exception.
type Result struct {
	Success       bool
	Data          any
	Err           error
	ErrorType     ErrorType
	ExecutionTime time.Duration
	RetryCount    int
}

// Clock provides time, injectable for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Manager executes operations as atomic units of work, classifies failures
// and transparently retries the transient ones.
type Manager struct {
	uow   UnitOfWork
	log   zerolog.Logger
	clock Clock
	sleep func(ctx context.Context, d time.Duration) error
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithClock overrides the default clock.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithSleep overrides the backoff sleep, used by tests to avoid real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ManagerOption {
	return func(m *Manager) {
		if sleep != nil {
			m.sleep = sleep
		}
	}
}

// NewManager constructs a transaction manager.
func NewManager(uow UnitOfWork, log zerolog.Logger, opts ...ManagerOption) (*Manager, error) {
	if uow == nil {
		return nil, errors.New("txn: nil unit of work")
	}
	m := &Manager{
		uow:   uow,
		log:   log,
		clock: systemClock{},
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Execute runs op as one atomic unit and returns a Result instead of an
// error. TIMEOUT, DEADLOCK and CONNECTION failures are retried with linear
// backoff up to opts.RetryAttempts; everything else fails on the first try.
func (m *Manager) Execute(ctx context.Context, name string, op func(ctx context.Context) (any, error), opts Options) Result {
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	start := m.clock.Now()

	var lastErr error
	var lastType ErrorType
	retries := 0
	for attempt := 0; ; attempt++ {
		var data any
		err := m.runAttempt(ctx, op, opts, &data)
		if err == nil {
			return Result{
				Success:       true,
				Data:          data,
				ExecutionTime: m.clock.Now().Sub(start),
				RetryCount:    retries,
			}
		}

		lastErr = err
		lastType = Classify(err)
		m.log.Warn().
			Str("operation", name).
			Int("attempt", attempt+1).
			Str("error_type", string(lastType)).
			Err(err).
			Msg("transaction attempt failed")

		if !lastType.Retryable() || attempt >= opts.RetryAttempts {
			break
		}
		retries++
		delay := opts.RetryDelay * time.Duration(attempt+1)
		if delay > 0 {
			if err := m.sleep(ctx, delay); err != nil {
				lastErr = err
				lastType = ErrorTimeout
				break
			}
		}
	}

	m.log.Error().
		Str("operation", name).
		Str("error_type", string(lastType)).
		Int("retries", retries).
		Err(lastErr).
		Msg("transaction failed")

	return Result{
		Success:       false,
		Err:           lastErr,
		ErrorType:     lastType,
		ExecutionTime: m.clock.Now().Sub(start),
		RetryCount:    retries,
	}
}

func (m *Manager) runAttempt(ctx context.Context, op func(ctx context.Context) (any, error), opts Options, out *any) error {
	attemptCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	return m.uow.WithinTx(attemptCtx, func(txCtx context.Context) error {
		data, err := op(txCtx)
		if err != nil {
			return err
		}
		*out = data
		return nil
	})
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
