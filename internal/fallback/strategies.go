package fallback

import (
	"context"
	"errors"
	"fmt"
	"time"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/consistency"
	"rental-cloud/internal/errorlog"
)

// SingleBillGenerator is the per-reading generation path used to downgrade a
// failed aggregate run.
type SingleBillGenerator interface {
	GenerateUtilityBillForReading(ctx context.Context, readingID string) (*billing.Bill, error)
}

// ReadingSynchronizer repairs reading/bill linkage drift.
type ReadingSynchronizer interface {
	SyncAll(ctx context.Context, opts consistency.RepairOptions) (*consistency.SyncReport, error)
}

// ContextKeyReadingIDs carries the reading ids of a failed aggregate
// generation in Incident.Context.
const ContextKeyReadingIDs = "reading_ids"

// DatabaseRetryStrategy retries the caller's operation after a short delay
// for transient database failures.
func DatabaseRetryStrategy(delay time.Duration) Strategy {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return Strategy{
		Name:       "database_retry",
		Priority:   100,
		MaxRetries: 3,
		Condition: func(_ context.Context, incident *Incident) bool {
			return incident.Retry != nil && IsTransient(incident.Err)
		},
		Handle: func(ctx context.Context, incident *Incident) error {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
			return incident.Retry(ctx)
		},
	}
}

// SingleGenerationStrategy downgrades a failed aggregate utility generation
// to one bill per reading. Readings that fail individually keep the strategy
// failing so the incident falls through.
func SingleGenerationStrategy(generator SingleBillGenerator) Strategy {
	return Strategy{
		Name:       "downgrade_to_single",
		Priority:   80,
		MaxRetries: 1,
		Condition: func(_ context.Context, incident *Incident) bool {
			if incident.Category != CategoryBillGeneration {
				return false
			}
			_, ok := readingIDs(incident)
			return ok
		},
		Handle: func(ctx context.Context, incident *Incident) error {
			ids, _ := readingIDs(incident)
			var failed []string
			for _, id := range ids {
				if _, err := generator.GenerateUtilityBillForReading(ctx, id); err != nil {
					failed = append(failed, id)
				}
			}
			if len(failed) > 0 {
				return fmt.Errorf("fallback: single generation failed for %d of %d readings", len(failed), len(ids))
			}
			return nil
		},
	}
}

// ConsistencyRepairStrategy answers consistency incidents by running a full
// synchronization sweep with auto-repair.
func ConsistencyRepairStrategy(sync ReadingSynchronizer) Strategy {
	return Strategy{
		Name:       "consistency_sync",
		Priority:   60,
		MaxRetries: 1,
		Condition: func(_ context.Context, incident *Incident) bool {
			return incident.Category == CategoryConsistency
		},
		Handle: func(ctx context.Context, incident *Incident) error {
			report, err := sync.SyncAll(ctx, consistency.RepairOptions{SkipCritical: true})
			if err != nil {
				return err
			}
			if report.Failed > 0 {
				return fmt.Errorf("fallback: sync left %d issue(s) unrepaired", report.Failed)
			}
			return nil
		},
	}
}

// ManualInterventionStrategy is the catch-all: it records a CRITICAL entry
// for an operator and reports the incident as handled so callers do not spin.
func ManualInterventionStrategy(errs *errorlog.Recorder) Strategy {
	return Strategy{
		Name:       "manual_intervention",
		Priority:   0,
		MaxRetries: 1,
		Condition: func(_ context.Context, _ *Incident) bool {
			return true
		},
		Handle: func(_ context.Context, incident *Incident) error {
			errs.Record(errorlog.Entry{
				Type:     "MANUAL_INTERVENTION",
				Severity: errorlog.SeverityCritical,
				Message:  fmt.Sprintf("operation %s needs manual intervention: %v", incident.Operation, incident.Err),
				Context: map[string]any{
					"category":  string(incident.Category),
					"operation": incident.Operation,
				},
			})
			return nil
		},
	}
}

// DefaultStrategies assembles the standard recovery chain.
func DefaultStrategies(generator SingleBillGenerator, sync ReadingSynchronizer, errs *errorlog.Recorder) ([]Strategy, error) {
	if generator == nil || sync == nil {
		return nil, errors.New("fallback: nil dependency")
	}
	return []Strategy{
		DatabaseRetryStrategy(0),
		SingleGenerationStrategy(generator),
		ConsistencyRepairStrategy(sync),
		ManualInterventionStrategy(errs),
	}, nil
}

func readingIDs(incident *Incident) ([]string, bool) {
	raw, ok := incident.Context[ContextKeyReadingIDs]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, len(v) > 0
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}
