package fallback

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"rental-cloud/internal/errorlog"
	"rental-cloud/internal/observability/metrics"
	"rental-cloud/internal/txn"
)

// Category classifies what part of the system an incident came from.
type Category string

const (
	CategoryDatabase       Category = "DATABASE"
	CategoryBillGeneration Category = "BILL_GENERATION"
	CategoryConsistency    Category = "CONSISTENCY"
	CategoryValidation     Category = "VALIDATION"
	CategorySystem         Category = "SYSTEM"
	CategoryUnknown        Category = "UNKNOWN"
)

// ClassifyError assigns a category to an unlabelled incident. Tagged
// transaction errors carry their kind; otherwise the message decides.
func ClassifyError(err error) Category {
	if err == nil {
		return CategoryUnknown
	}
	switch txn.Classify(err) {
	case txn.ErrorValidation:
		return CategoryValidation
	case txn.ErrorConnection, txn.ErrorTimeout, txn.ErrorDeadlock:
		return CategoryDatabase
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "database"), strings.Contains(msg, "connection"):
		return CategoryDatabase
	case strings.Contains(msg, "bill"):
		return CategoryBillGeneration
	case strings.Contains(msg, "consistency"):
		return CategoryConsistency
	case strings.Contains(msg, "validation"):
		return CategoryValidation
	default:
		return CategorySystem
	}
}

// Incident is a failure handed to the fallback manager for recovery.
type Incident struct {
	Category  Category
	Operation string
	Err       error
	// Retry re-runs the failed operation when the original caller can
	// offer one; strategies that recover by retrying require it.
	Retry func(ctx context.Context) error
	// Context carries strategy-specific payload, e.g. the reading ids of
	// a failed aggregate generation.
	Context map[string]any
}

// Outcome reports how an incident was resolved.
type Outcome struct {
	Handled  bool
	Strategy string
	Attempts int
	// Err is the last error when no strategy recovered.
	Err error
}

// Strategy is one recovery path. Condition decides applicability; Handle is
// retried up to MaxRetries before the manager falls through to the next
// matching strategy.
type Strategy struct {
	Name       string
	Priority   int
	MaxRetries int
	Condition  func(ctx context.Context, incident *Incident) bool
	Handle     func(ctx context.Context, incident *Incident) error
}

// Manager dispatches incidents to recovery strategies in priority order.
// A strategy whose retries are exhausted does not end handling; the next
// matching strategy gets its turn, so the catch-all always runs last.
type Manager struct {
	strategies []Strategy
	timeout    time.Duration
	errs       *errorlog.Recorder
	log        zerolog.Logger
}

// Option configures the manager.
type Option func(*Manager)

// WithHandlerTimeout bounds each handler invocation. Default 30s.
func WithHandlerTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// WithErrorRecorder assigns the structured error sink.
func WithErrorRecorder(errs *errorlog.Recorder) Option {
	return func(m *Manager) {
		m.errs = errs
	}
}

// NewManager constructs a fallback manager with the given strategies.
func NewManager(log zerolog.Logger, strategies []Strategy, opts ...Option) (*Manager, error) {
	for _, s := range strategies {
		if s.Name == "" || s.Condition == nil || s.Handle == nil {
			return nil, errors.New("fallback: strategy needs a name, condition and handler")
		}
	}
	m := &Manager{
		strategies: make([]Strategy, len(strategies)),
		timeout:    30 * time.Second,
		log:        log,
	}
	copy(m.strategies, strategies)
	sort.SliceStable(m.strategies, func(i, j int) bool {
		return m.strategies[i].Priority > m.strategies[j].Priority
	})
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Register adds a strategy, keeping priority order.
func (m *Manager) Register(s Strategy) error {
	if s.Name == "" || s.Condition == nil || s.Handle == nil {
		return errors.New("fallback: strategy needs a name, condition and handler")
	}
	m.strategies = append(m.strategies, s)
	sort.SliceStable(m.strategies, func(i, j int) bool {
		return m.strategies[i].Priority > m.strategies[j].Priority
	})
	return nil
}

// HandleError walks matching strategies from highest priority down. Each is
// retried until its MaxRetries budget is spent, then the next one runs.
func (m *Manager) HandleError(ctx context.Context, incident *Incident) Outcome {
	if incident == nil || incident.Err == nil {
		return Outcome{Handled: true}
	}
	if incident.Category == "" {
		incident.Category = ClassifyError(incident.Err)
	}

	outcome := Outcome{Err: incident.Err}
	for _, strategy := range m.strategies {
		if !strategy.Condition(ctx, incident) {
			continue
		}
		attempts := strategy.MaxRetries
		if attempts < 1 {
			attempts = 1
		}
		for attempt := 0; attempt < attempts; attempt++ {
			outcome.Attempts++
			err := m.runHandler(ctx, strategy, incident)
			if err == nil {
				outcome.Handled = true
				outcome.Strategy = strategy.Name
				outcome.Err = nil
				metrics.FallbackHandled(string(incident.Category), metrics.ResultSuccess)
				m.log.Info().
					Str("strategy", strategy.Name).
					Str("category", string(incident.Category)).
					Str("operation", incident.Operation).
					Int("attempts", outcome.Attempts).
					Msg("incident recovered")
				return outcome
			}
			outcome.Err = err
			m.log.Warn().Err(err).
				Str("strategy", strategy.Name).
				Str("operation", incident.Operation).
				Int("attempt", attempt+1).
				Msg("fallback attempt failed")
			if ctx.Err() != nil {
				metrics.FallbackHandled(string(incident.Category), metrics.ResultError)
				return outcome
			}
		}
	}

	metrics.FallbackHandled(string(incident.Category), metrics.ResultError)
	m.errs.Record(errorlog.Entry{
		Type:     "FALLBACK_EXHAUSTED",
		Severity: errorlog.SeverityCritical,
		Message:  fmt.Sprintf("no strategy recovered %s: %v", incident.Operation, outcome.Err),
		Context: map[string]any{
			"category":  string(incident.Category),
			"operation": incident.Operation,
		},
	})
	return outcome
}

func (m *Manager) runHandler(ctx context.Context, strategy Strategy, incident *Incident) error {
	handlerCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- strategy.Handle(handlerCtx, incident)
	}()
	select {
	case err := <-done:
		return err
	case <-handlerCtx.Done():
		return fmt.Errorf("fallback: strategy %s: %w", strategy.Name, handlerCtx.Err())
	}
}

// IsTransient reports whether the incident's error is the kind a delayed
// retry can recover from.
func IsTransient(err error) bool {
	return txn.Classify(err).Retryable()
}
