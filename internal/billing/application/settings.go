package application

import (
	"context"
	"fmt"
	"time"
)

// Settings are the billing knobs read from the settings provider.
type Settings struct {
	// ReminderDays is the advance window for upcoming rent bills.
	ReminderDays int
	// AutoGenerateBills gates the scheduled upcoming-bill scan.
	AutoGenerateBills bool
	// UsageAnomalyThreshold flags readings whose usage jumps by this factor.
	UsageAnomalyThreshold float64
}

// SettingsProvider supplies billing settings and global fallback unit prices.
type SettingsProvider interface {
	BillingSettings(ctx context.Context) (Settings, error)
	// GlobalUnitPrice returns the fallback price for a breakdown category
	// (electricity, water, gas).
	GlobalUnitPrice(ctx context.Context, category string) (float64, error)
}

// StaticSettings is a SettingsProvider backed by fixed values, typically
// loaded once from configuration.
type StaticSettings struct {
	Values Settings
	Prices map[string]float64
}

// BillingSettings returns the fixed settings.
func (s StaticSettings) BillingSettings(ctx context.Context) (Settings, error) {
	_ = ctx
	return s.Values, nil
}

// GlobalUnitPrice returns the fixed price for a category.
func (s StaticSettings) GlobalUnitPrice(ctx context.Context, category string) (float64, error) {
	_ = ctx
	price, ok := s.Prices[category]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("billing: no global unit price for %q", category)
	}
	return price, nil
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }
