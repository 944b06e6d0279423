package consistency

import (
	"context"
	"testing"
	"time"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/cache"
	"rental-cloud/internal/logger"
	metering "rental-cloud/internal/metering/domain"
)

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time { return c.now }

func (c *tickClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newSynchronizer(t *testing.T, f *fixture, opts ...SynchronizerOption) *Synchronizer {
	t.Helper()
	sync, err := NewSynchronizer(f.bills, f.readings, f.repairer, logger.Nop(), opts...)
	if err != nil {
		t.Fatalf("synchronizer: %v", err)
	}
	return sync
}

func seedReading(t *testing.T, f *fixture, id string, billed bool) *metering.MeterReading {
	t.Helper()
	date := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	reading, err := metering.NewMeterReading(id, "m-1", "c-1", "room-1", metering.MeterElectricity, 0, 100, 0.6, date)
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if billed {
		reading.MarkBilled()
	}
	if err := f.readings.Create(context.Background(), reading); err != nil {
		t.Fatalf("seed reading: %v", err)
	}
	return reading
}

func seedDetail(t *testing.T, f *fixture, id, readingID string) {
	t.Helper()
	err := f.bills.AddDetail(context.Background(), &billing.BillDetail{
		ID: id, BillID: "b-1", MeterReadingID: readingID,
		MeterType: billing.CategoryElectricity, Usage: 100, UnitPrice: 0.6, Amount: 60,
	})
	if err != nil {
		t.Fatalf("seed detail: %v", err)
	}
}

func TestCheckReadingVerdicts(t *testing.T) {
	f := newFixture(t)
	sync := newSynchronizer(t, f)
	ctx := context.Background()

	seedReading(t, f, "r-clean", true)
	seedDetail(t, f, "d-clean", "r-clean")

	seedReading(t, f, "r-orphan", true)

	seedReading(t, f, "r-unmarked", false)
	seedDetail(t, f, "d-unmarked", "r-unmarked")

	seedReading(t, f, "r-dup", true)
	seedDetail(t, f, "d-dup-1", "r-dup")
	seedDetail(t, f, "d-dup-2", "r-dup")

	cases := []struct {
		readingID string
		issueType IssueType
	}{
		{"r-clean", ""},
		{"r-orphan", IssueOrphanedReading},
		{"r-unmarked", IssueUnmarkedReading},
		{"r-dup", IssueDuplicateReadingDetails},
	}
	for _, tc := range cases {
		check, err := sync.CheckReading(ctx, tc.readingID)
		if err != nil {
			t.Fatalf("%s: %v", tc.readingID, err)
		}
		if tc.issueType == "" {
			if !check.Consistent || check.Issue != nil {
				t.Fatalf("%s should be consistent: %+v", tc.readingID, check)
			}
			continue
		}
		if check.Consistent || check.Issue == nil {
			t.Fatalf("%s should be inconsistent: %+v", tc.readingID, check)
		}
		if check.Issue.Type != tc.issueType {
			t.Fatalf("%s issue %s, want %s", tc.readingID, check.Issue.Type, tc.issueType)
		}
	}
}

func TestCheckReadingsReportsUnknownIDs(t *testing.T) {
	f := newFixture(t)
	sync := newSynchronizer(t, f)
	seedReading(t, f, "r-1", false)

	checks, err := sync.CheckReadings(context.Background(), []string{"r-1", "r-ghost"})
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(checks))
	}
	if !checks[0].Consistent {
		t.Fatalf("known unbilled reading without details should be consistent: %+v", checks[0])
	}
	ghost := checks[1]
	if ghost.Consistent || ghost.Issue == nil || ghost.Issue.Type != IssueCheckError {
		t.Fatalf("unknown id should report a check error, got %+v", ghost)
	}
}

func TestSyncAllRepairsLinkage(t *testing.T) {
	f := newFixture(t)
	sync := newSynchronizer(t, f)
	ctx := context.Background()

	seedReading(t, f, "r-orphan", true)
	seedReading(t, f, "r-unmarked", false)
	seedDetail(t, f, "d-1", "r-unmarked")
	seedReading(t, f, "r-dup", true)
	seedDetail(t, f, "d-dup-1", "r-dup")
	seedDetail(t, f, "d-dup-2", "r-dup")

	report, err := sync.SyncAll(ctx, RepairOptions{})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if report.Checked != 3 {
		t.Fatalf("checked %d, want 3", report.Checked)
	}
	if len(report.Issues) != 3 {
		t.Fatalf("got %d issues, want 3: %+v", len(report.Issues), report.Issues)
	}
	// Orphan and unmarked carry fixes; duplicate details never auto-repair.
	if report.Repaired != 2 {
		t.Fatalf("repaired %d, want 2", report.Repaired)
	}
	if report.Skipped != 1 {
		t.Fatalf("skipped %d, want 1 (duplicate details)", report.Skipped)
	}

	orphan, err := f.readings.GetByID(ctx, "r-orphan")
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if orphan.IsBilled {
		t.Fatalf("orphaned reading should be reset")
	}
	unmarked, err := f.readings.GetByID(ctx, "r-unmarked")
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	if !unmarked.IsBilled {
		t.Fatalf("reading with a detail should be marked billed")
	}
}

func TestStatsAreCachedUntilInvalidated(t *testing.T) {
	f := newFixture(t)
	clock := &tickClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	store := cache.New(cache.WithClock(clock))
	sync := newSynchronizer(t, f, WithSyncCache(store), WithSyncClock(clock))
	ctx := context.Background()

	seedReading(t, f, "r-1", true)
	seedDetail(t, f, "d-1", "r-1")

	first, err := sync.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if first.TotalReadings != 1 || first.BilledReadings != 1 {
		t.Fatalf("unexpected stats: %+v", first)
	}

	// A new reading does not surface while the cached snapshot is fresh.
	seedReading(t, f, "r-2", false)
	cached, err := sync.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if cached.TotalReadings != 1 {
		t.Fatalf("stats should come from cache, got %+v", cached)
	}

	// SyncAll drops the snapshot.
	if _, err := sync.SyncAll(ctx, RepairOptions{}); err != nil {
		t.Fatalf("sync: %v", err)
	}
	fresh, err := sync.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if fresh.TotalReadings != 2 {
		t.Fatalf("stats should refresh after sync, got %+v", fresh)
	}

	// And the snapshot also ages out on its own.
	seedReading(t, f, "r-3", false)
	clock.Advance(11 * time.Minute)
	aged, err := sync.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if aged.TotalReadings != 3 {
		t.Fatalf("stats should expire after the TTL, got %+v", aged)
	}
}

func TestStatsCountRecentChanges(t *testing.T) {
	f := newFixture(t)
	clock := &tickClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	sync := newSynchronizer(t, f, WithSyncClock(clock))
	ctx := context.Background()

	recent := seedReading(t, f, "r-1", false)
	recent.UpdatedAt = clock.Now().Add(-time.Hour)
	if err := f.readings.Create(ctx, recent); err != nil {
		t.Fatalf("seed: %v", err)
	}
	stale := seedReading(t, f, "r-2", false)
	stale.UpdatedAt = clock.Now().AddDate(0, 0, -30)
	if err := f.readings.Create(ctx, stale); err != nil {
		t.Fatalf("seed: %v", err)
	}

	stats, err := sync.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.RecentChanges != 1 {
		t.Fatalf("only the recently touched reading should count, got %+v", stats)
	}
	if stats.TotalReadings != 2 {
		t.Fatalf("total %d, want 2", stats.TotalReadings)
	}
	if stats.GeneratedAt.IsZero() {
		t.Fatalf("generatedAt not stamped")
	}
}
