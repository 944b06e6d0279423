package alerting

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	billing "rental-cloud/internal/billing/domain"
	billingmem "rental-cloud/internal/billing/infrastructure/memory"
	"rental-cloud/internal/consistency"
	"rental-cloud/internal/errorlog"
	"rental-cloud/internal/logger"
	metering "rental-cloud/internal/metering/domain"
	meteringmem "rental-cloud/internal/metering/infrastructure/memory"
)

func TestLoadThresholdsMissingFileKeepsDefaults(t *testing.T) {
	got, err := LoadThresholds(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if got != DefaultThresholds() {
		t.Fatalf("got %+v, want defaults", got)
	}
	got, err = LoadThresholds("")
	if err != nil || got != DefaultThresholds() {
		t.Fatalf("empty path should return defaults, got %+v (%v)", got, err)
	}
}

func TestLoadThresholdsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	content := `errorRate: 0.25
billStall: 6h
inconsistentReadings: 12
criticalCooldown: 15m
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := LoadThresholds(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ErrorRate != 0.25 || got.BillStall != 6*time.Hour || got.InconsistentReadings != 12 {
		t.Fatalf("overrides not applied: %+v", got)
	}
	if got.CriticalCooldown != 15*time.Minute {
		t.Fatalf("cooldown override not applied: %+v", got)
	}
	// Untouched fields keep their defaults.
	if got.ProbeLatency != DefaultThresholds().ProbeLatency {
		t.Fatalf("probe latency changed unexpectedly: %+v", got)
	}
}

func TestLoadThresholdsRejectsBadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thresholds.yaml")
	if err := os.WriteFile(path, []byte("billStall: four hours\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadThresholds(path); err == nil {
		t.Fatalf("unparseable duration should error")
	}
}

type stubStats struct {
	stats *consistency.SyncStats
	err   error
}

func (s *stubStats) Stats(context.Context) (*consistency.SyncStats, error) {
	return s.stats, s.err
}

func findRule(t *testing.T, rules []Rule, id string) Rule {
	t.Helper()
	for _, r := range rules {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not built", id)
	return Rule{}
}

func TestHighErrorRateRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	errs := errorlog.NewRecorder(logger.Nop(), errorlog.WithClock(clock))
	bills := billingmem.NewBillRepository()
	readings := meteringmem.NewReadingRepository()
	rules := DefaultRules(DefaultThresholds(), errs, bills, readings, nil, nil, clock)
	rule := findRule(t, rules, "high_error_rate")
	ctx := context.Background()

	// No traffic at all: silent.
	firing, err := rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("empty window should not fire: %v %v", firing, err)
	}

	// Mostly successes: below the 10% line.
	for i := 0; i < 20; i++ {
		errs.Observe()
	}
	errs.Record(errorlog.Entry{Type: "BILL_GENERATION", Severity: errorlog.SeverityHigh, Message: "one failure"})
	firing, err = rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("1/21 should stay below threshold: %v %v", firing, err)
	}

	// Pile on failures until the ratio crosses.
	for i := 0; i < 5; i++ {
		errs.Record(errorlog.Entry{Type: "BILL_GENERATION", Severity: errorlog.SeverityHigh, Message: "failure"})
	}
	firing, err = rule.Condition(ctx)
	if err != nil || !firing {
		t.Fatalf("6/26 should fire: %v %v", firing, err)
	}
}

func TestBillGenerationStalledRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	errs := errorlog.NewRecorder(logger.Nop())
	bills := billingmem.NewBillRepository()
	readings := meteringmem.NewReadingRepository()
	rules := DefaultRules(DefaultThresholds(), errs, bills, readings, nil, nil, clock)
	rule := findRule(t, rules, "bill_generation_stalled")
	if rule.Severity != SeverityCritical {
		t.Fatalf("stall rule severity %s, want CRITICAL", rule.Severity)
	}
	ctx := context.Background()

	// No bills ever: nothing to compare against, stays quiet.
	firing, err := rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("no bill history should not fire: %v %v", firing, err)
	}

	lastBill := clock.Now().Add(-6 * time.Hour)
	if err := bills.Create(ctx, &billing.Bill{
		ID: "b-1", ContractID: "c-1", BillNumber: "BILL001R000001",
		Type: billing.BillRent, Amount: 100, Status: billing.BillPending,
		CreatedAt: lastBill,
	}); err != nil {
		t.Fatalf("seed bill: %v", err)
	}

	// Stalled for six hours but no reading waiting: quiet.
	firing, err = rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("stall without waiting readings should not fire: %v %v", firing, err)
	}

	reading, err := metering.NewMeterReading("r-1", "m-1", "c-1", "room-1", metering.MeterElectricity, 0, 50, 0.6, clock.Now())
	if err != nil {
		t.Fatalf("reading: %v", err)
	}
	reading.CreatedAt = clock.Now().Add(-2 * time.Hour)
	if err := readings.Create(ctx, reading); err != nil {
		t.Fatalf("seed reading: %v", err)
	}
	firing, err = rule.Condition(ctx)
	if err != nil || !firing {
		t.Fatalf("stall with a waiting reading should fire: %v %v", firing, err)
	}

	// A fresh bill clears the stall.
	if err := bills.Create(ctx, &billing.Bill{
		ID: "b-2", ContractID: "c-1", BillNumber: "BILL001R000002",
		Type: billing.BillRent, Amount: 100, Status: billing.BillPending,
		CreatedAt: clock.Now().Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("seed bill: %v", err)
	}
	firing, err = rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("fresh bill should clear the stall: %v %v", firing, err)
	}
}

func TestInconsistentReadingsRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	errs := errorlog.NewRecorder(logger.Nop())
	source := &stubStats{stats: &consistency.SyncStats{InconsistentReadings: 3}}
	rules := DefaultRules(DefaultThresholds(), errs, billingmem.NewBillRepository(), meteringmem.NewReadingRepository(), source, nil, clock)
	rule := findRule(t, rules, "inconsistent_readings")
	ctx := context.Background()

	firing, err := rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("3 inconsistencies is under the default limit of 5: %v %v", firing, err)
	}

	source.stats.InconsistentReadings = 6
	firing, err = rule.Condition(ctx)
	if err != nil || !firing {
		t.Fatalf("6 inconsistencies should fire: %v %v", firing, err)
	}

	source.stats = nil
	source.err = errors.New("stats unavailable")
	if _, err := rule.Condition(ctx); err == nil {
		t.Fatalf("stats failure should surface as an evaluation error")
	}
}

func TestSlowHealthProbeRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	errs := errorlog.NewRecorder(logger.Nop())
	probeErr := error(nil)
	probeCost := time.Duration(0)
	probe := Probe(func(context.Context) error {
		clock.Advance(probeCost)
		return probeErr
	})
	rules := DefaultRules(DefaultThresholds(), errs, billingmem.NewBillRepository(), meteringmem.NewReadingRepository(), nil, probe, clock)
	rule := findRule(t, rules, "slow_health_probe")
	ctx := context.Background()

	firing, err := rule.Condition(ctx)
	if err != nil || firing {
		t.Fatalf("instant healthy probe should not fire: %v %v", firing, err)
	}

	probeCost = 3 * time.Second
	firing, err = rule.Condition(ctx)
	if err != nil || !firing {
		t.Fatalf("3s probe should exceed the 2s limit: %v %v", firing, err)
	}

	probeCost = 0
	probeErr = errors.New("connection refused")
	firing, err = rule.Condition(ctx)
	if err != nil || !firing {
		t.Fatalf("failing probe should fire: %v %v", firing, err)
	}
}

func TestOptionalRulesOmittedWithoutSources(t *testing.T) {
	errs := errorlog.NewRecorder(logger.Nop())
	rules := DefaultRules(DefaultThresholds(), errs, billingmem.NewBillRepository(), meteringmem.NewReadingRepository(), nil, nil, nil)
	if len(rules) != 2 {
		t.Fatalf("without stats and probe only the core rules remain, got %d", len(rules))
	}
}
