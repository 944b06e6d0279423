package consistency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/cache"
	metering "rental-cloud/internal/metering/domain"
)

const (
	syncStatsCacheKey = "stats:reading_sync"
	syncStatsTTL      = 10 * time.Minute
	recentChangeSpan  = 7 * 24 * time.Hour
)

// ReadingCheck is the consistency verdict for one meter reading.
type ReadingCheck struct {
	ReadingID   string
	Consistent  bool
	DetailCount int
	// Issue is set when the reading is inconsistent.
	Issue *Issue
}

// SyncReport summarizes a synchronization sweep over readings.
type SyncReport struct {
	Checked  int
	Repaired int
	Failed   int
	Skipped  int
	Issues   []Issue
	Duration time.Duration
}

// SyncStats is an aggregate view of reading/bill linkage health.
type SyncStats struct {
	TotalReadings        int       `json:"totalReadings"`
	BilledReadings       int       `json:"billedReadings"`
	InconsistentReadings int       `json:"inconsistentReadings"`
	RecentChanges        int       `json:"recentChanges"`
	GeneratedAt          time.Time `json:"generatedAt"`
}

// Synchronizer keeps meter reading billed-state and bill details in step.
// It detects drift in both directions and hands repairs to the repair
// engine so fixes go through the same transactional path as the auditor's.
type Synchronizer struct {
	bills    billing.Repository
	readings metering.ReadingRepository
	repairer *Repairer
	cache    *cache.Cache
	clock    Clock
	log      zerolog.Logger
}

// SynchronizerOption configures the synchronizer.
type SynchronizerOption func(*Synchronizer)

// WithSyncCache enables stats caching.
func WithSyncCache(c *cache.Cache) SynchronizerOption {
	return func(s *Synchronizer) {
		s.cache = c
	}
}

// WithSyncClock overrides the default clock.
func WithSyncClock(clock Clock) SynchronizerOption {
	return func(s *Synchronizer) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewSynchronizer constructs the reading/bill synchronizer.
func NewSynchronizer(
	bills billing.Repository,
	readings metering.ReadingRepository,
	repairer *Repairer,
	log zerolog.Logger,
	opts ...SynchronizerOption,
) (*Synchronizer, error) {
	if bills == nil || readings == nil {
		return nil, errors.New("consistency: nil repository")
	}
	if repairer == nil {
		return nil, errors.New("consistency: nil repairer")
	}
	s := &Synchronizer{
		bills:    bills,
		readings: readings,
		repairer: repairer,
		clock:    SystemClock{},
		log:      log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CheckReading inspects one reading's linkage to bill details.
func (s *Synchronizer) CheckReading(ctx context.Context, readingID string) (*ReadingCheck, error) {
	reading, err := s.readings.GetByID(ctx, readingID)
	if err != nil {
		return nil, err
	}
	return s.checkOne(ctx, reading)
}

// CheckReadings inspects a batch of readings and returns a verdict for each.
// Unknown ids are reported inconsistent rather than failing the batch.
func (s *Synchronizer) CheckReadings(ctx context.Context, readingIDs []string) ([]ReadingCheck, error) {
	out := make([]ReadingCheck, 0, len(readingIDs))
	for _, id := range readingIDs {
		reading, err := s.readings.GetByID(ctx, id)
		if err != nil {
			if errors.Is(err, metering.ErrReadingNotFound) {
				out = append(out, ReadingCheck{
					ReadingID:  id,
					Consistent: false,
					Issue: &Issue{
						Type:     IssueCheckError,
						Severity: SeverityMedium,
						EntityID: id,
						Message:  fmt.Sprintf("reading %s not found", id),
					},
				})
				continue
			}
			return nil, err
		}
		check, err := s.checkOne(ctx, reading)
		if err != nil {
			return nil, err
		}
		out = append(out, *check)
	}
	return out, nil
}

func (s *Synchronizer) checkOne(ctx context.Context, reading *metering.MeterReading) (*ReadingCheck, error) {
	count, err := s.bills.CountDetailsByReading(ctx, reading.ID)
	if err != nil {
		return nil, err
	}
	check := &ReadingCheck{ReadingID: reading.ID, DetailCount: count, Consistent: true}

	billed := reading.IsBilled || reading.Status == metering.ReadingBilled
	switch {
	case count > 1:
		check.Consistent = false
		check.Issue = &Issue{
			Type:     IssueDuplicateReadingDetails,
			Severity: SeverityHigh,
			EntityID: reading.ID,
			Message:  fmt.Sprintf("reading %s is referenced by %d bill details", reading.ID, count),
			Context:  map[string]any{"details": count},
		}
	case billed && count == 0:
		check.Consistent = false
		check.Issue = &Issue{
			Type:     IssueOrphanedReading,
			Severity: SeverityMedium,
			EntityID: reading.ID,
			Message:  fmt.Sprintf("reading %s is marked billed but no bill detail references it", reading.ID),
			Fix:      FixResetOrphanedRead,
		}
	case !billed && count == 1:
		check.Consistent = false
		check.Issue = &Issue{
			Type:     IssueUnmarkedReading,
			Severity: SeverityHigh,
			EntityID: reading.ID,
			Message:  fmt.Sprintf("reading %s has a bill detail but is not marked billed", reading.ID),
			Fix:      FixMarkReadingBilled,
		}
	}
	return check, nil
}

// SyncAll sweeps every reading, collects linkage issues and repairs the ones
// that carry a fix. Duplicate-detail anomalies are reported but never
// auto-repaired.
func (s *Synchronizer) SyncAll(ctx context.Context, opts RepairOptions) (*SyncReport, error) {
	start := s.clock.Now()
	readings, err := s.readings.List(ctx)
	if err != nil {
		return nil, err
	}

	report := &SyncReport{Checked: len(readings)}
	for i := range readings {
		check, err := s.checkOne(ctx, &readings[i])
		if err != nil {
			return nil, err
		}
		if check.Issue != nil {
			report.Issues = append(report.Issues, *check.Issue)
		}
	}

	if len(report.Issues) > 0 {
		summary := s.repairer.Repair(ctx, report.Issues, opts)
		report.Repaired = summary.Fixed
		report.Failed = summary.Failed
		report.Skipped = summary.Skipped
	}

	report.Duration = s.clock.Now().Sub(start)
	s.invalidateStats()
	s.log.Info().
		Int("checked", report.Checked).
		Int("issues", len(report.Issues)).
		Int("repaired", report.Repaired).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("reading synchronization finished")
	return report, nil
}

// Stats returns aggregate linkage health, cached for ten minutes.
func (s *Synchronizer) Stats(ctx context.Context) (*SyncStats, error) {
	if s.cache == nil {
		return s.computeStats(ctx)
	}
	value, err := s.cache.GetOrSet(ctx, syncStatsCacheKey, syncStatsTTL, func(ctx context.Context) (any, error) {
		return s.computeStats(ctx)
	})
	if err != nil {
		return nil, err
	}
	return value.(*SyncStats), nil
}

func (s *Synchronizer) computeStats(ctx context.Context) (*SyncStats, error) {
	readings, err := s.readings.List(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	stats := &SyncStats{
		TotalReadings: len(readings),
		GeneratedAt:   now,
	}
	for i := range readings {
		reading := &readings[i]
		if reading.IsBilled || reading.Status == metering.ReadingBilled {
			stats.BilledReadings++
		}
		check, err := s.checkOne(ctx, reading)
		if err != nil {
			return nil, err
		}
		if !check.Consistent {
			stats.InconsistentReadings++
		}
	}
	recent, err := s.readings.CountUpdatedSince(ctx, now.Add(-recentChangeSpan))
	if err != nil {
		return nil, err
	}
	stats.RecentChanges = recent
	return stats, nil
}

func (s *Synchronizer) invalidateStats() {
	if s.cache != nil {
		s.cache.Delete(syncStatsCacheKey)
	}
}
