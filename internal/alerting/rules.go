package alerting

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	billing "rental-cloud/internal/billing/domain"
	"rental-cloud/internal/consistency"
	"rental-cloud/internal/errorlog"
	metering "rental-cloud/internal/metering/domain"
)

// Thresholds are the tunable limits behind the default rules. The zero
// value is unusable; start from DefaultThresholds.
type Thresholds struct {
	// ErrorRate fires when the recorded failure ratio exceeds this value
	// over the window.
	ErrorRate       float64
	ErrorRateWindow time.Duration
	// BillStall fires when no bill has been created for this long while
	// unbilled readings are waiting.
	BillStall time.Duration
	// InconsistentReadings fires when that many readings disagree with
	// their bill details.
	InconsistentReadings int
	// ProbeLatency fires when the health probe takes longer than this.
	ProbeLatency time.Duration
	// Cooldowns per severity.
	CriticalCooldown time.Duration
	DefaultCooldown  time.Duration
}

// DefaultThresholds returns the stock limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:            0.10,
		ErrorRateWindow:      24 * time.Hour,
		BillStall:            4 * time.Hour,
		InconsistentReadings: 5,
		ProbeLatency:         2 * time.Second,
		CriticalCooldown:     30 * time.Minute,
		DefaultCooldown:      2 * time.Hour,
	}
}

// thresholdsFile is the YAML shape; durations are strings like "4h".
type thresholdsFile struct {
	ErrorRate            *float64 `yaml:"errorRate"`
	ErrorRateWindow      string   `yaml:"errorRateWindow"`
	BillStall            string   `yaml:"billStall"`
	InconsistentReadings *int     `yaml:"inconsistentReadings"`
	ProbeLatency         string   `yaml:"probeLatency"`
	CriticalCooldown     string   `yaml:"criticalCooldown"`
	DefaultCooldown      string   `yaml:"defaultCooldown"`
}

// LoadThresholds reads threshold overrides from a YAML file. A missing path
// returns the defaults unchanged; values absent from the file keep their
// defaults.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return t, nil
		}
		return t, fmt.Errorf("alerting: read thresholds file: %w", err)
	}
	var file thresholdsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return t, fmt.Errorf("alerting: parse thresholds file: %w", err)
	}
	if file.ErrorRate != nil {
		t.ErrorRate = *file.ErrorRate
	}
	if file.InconsistentReadings != nil {
		t.InconsistentReadings = *file.InconsistentReadings
	}
	for _, d := range []struct {
		raw  string
		into *time.Duration
	}{
		{file.ErrorRateWindow, &t.ErrorRateWindow},
		{file.BillStall, &t.BillStall},
		{file.ProbeLatency, &t.ProbeLatency},
		{file.CriticalCooldown, &t.CriticalCooldown},
		{file.DefaultCooldown, &t.DefaultCooldown},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return t, fmt.Errorf("alerting: parse duration %q: %w", d.raw, err)
		}
		*d.into = parsed
	}
	return t, nil
}

// Probe measures one round trip to a dependency, typically the database.
type Probe func(ctx context.Context) error

// StatsSource exposes reading/bill linkage health.
type StatsSource interface {
	Stats(ctx context.Context) (*consistency.SyncStats, error)
}

// DefaultRules builds the stock rule set.
func DefaultRules(
	t Thresholds,
	errs *errorlog.Recorder,
	bills billing.Repository,
	readings metering.ReadingRepository,
	stats StatsSource,
	probe Probe,
	clock Clock,
) []Rule {
	if clock == nil {
		clock = SystemClock{}
	}
	rules := []Rule{
		{
			ID:       "high_error_rate",
			Severity: SeverityHigh,
			Message:  fmt.Sprintf("bill generation error rate above %.0f%% in the last %s", t.ErrorRate*100, t.ErrorRateWindow),
			Cooldown: t.DefaultCooldown,
			Enabled:  true,
			Condition: func(_ context.Context) (bool, error) {
				if errs.CountSince(clock.Now().Add(-t.ErrorRateWindow)) == 0 {
					return false, nil
				}
				return errs.ErrorRate() > t.ErrorRate, nil
			},
		},
		{
			ID:       "bill_generation_stalled",
			Severity: SeverityCritical,
			Message:  fmt.Sprintf("no bill generated for %s while readings are waiting", t.BillStall),
			Cooldown: t.CriticalCooldown,
			Enabled:  true,
			Condition: func(ctx context.Context) (bool, error) {
				last, err := bills.LastCreatedAt(ctx)
				if err != nil {
					return false, err
				}
				now := clock.Now()
				if last.IsZero() || now.Sub(last) < t.BillStall {
					return false, nil
				}
				waiting, err := readings.ListCreatedBetween(ctx, last, now)
				if err != nil {
					return false, err
				}
				for i := range waiting {
					if !waiting[i].IsBilled && waiting[i].Status != metering.ReadingCancelled {
						return true, nil
					}
				}
				return false, nil
			},
		},
	}
	if stats != nil {
		rules = append(rules, Rule{
			ID:       "inconsistent_readings",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("more than %d readings disagree with their bill details", t.InconsistentReadings),
			Cooldown: t.DefaultCooldown,
			Enabled:  true,
			Condition: func(ctx context.Context) (bool, error) {
				s, err := stats.Stats(ctx)
				if err != nil {
					return false, err
				}
				return s.InconsistentReadings > t.InconsistentReadings, nil
			},
		})
	}
	if probe != nil {
		rules = append(rules, Rule{
			ID:       "slow_health_probe",
			Severity: SeverityMedium,
			Message:  fmt.Sprintf("health probe failing or slower than %s", t.ProbeLatency),
			Cooldown: t.DefaultCooldown,
			Enabled:  true,
			Condition: func(ctx context.Context) (bool, error) {
				start := clock.Now()
				if err := probe(ctx); err != nil {
					return true, nil
				}
				return clock.Now().Sub(start) > t.ProbeLatency, nil
			},
		})
	}
	return rules
}
