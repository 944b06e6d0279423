package alerting

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"rental-cloud/internal/alerting/notify"
	"rental-cloud/internal/observability/metrics"
)

// Severity ranks alerts.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rule is one alert condition evaluated on every sweep.
type Rule struct {
	ID       string
	Severity Severity
	Message  string
	// Cooldown suppresses re-notification while the condition stays true.
	Cooldown time.Duration
	Enabled  bool
	// Condition reports whether the alert should fire. An error counts as
	// a failed evaluation, not a firing alert.
	Condition func(ctx context.Context) (bool, error)
}

// ActiveAlert is a currently-firing alert.
type ActiveAlert struct {
	RuleID      string
	Severity    Severity
	Message     string
	FiredAt     time.Time
	LastSeenAt  time.Time
	Occurrences int
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Manager evaluates alert rules on a schedule and notifies on transitions.
// Alert state lives in memory only; a restart starts clean.
type Manager struct {
	channel notify.Channel
	clock   Clock
	log     zerolog.Logger

	mu        sync.Mutex
	rules     []Rule
	active    map[string]*ActiveAlert
	lastFired map[string]time.Time
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

// NewManager constructs the alert manager.
func NewManager(channel notify.Channel, log zerolog.Logger, rules []Rule, opts ...ManagerOption) (*Manager, error) {
	if channel == nil {
		return nil, errors.New("alerting: nil notification channel")
	}
	for _, r := range rules {
		if r.ID == "" || r.Condition == nil {
			return nil, errors.New("alerting: rule needs an id and a condition")
		}
	}
	m := &Manager{
		channel:   channel,
		clock:     SystemClock{},
		log:       log,
		rules:     rules,
		active:    make(map[string]*ActiveAlert),
		lastFired: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddRule registers an additional rule.
func (m *Manager) AddRule(r Rule) error {
	if r.ID == "" || r.Condition == nil {
		return errors.New("alerting: rule needs an id and a condition")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, r)
	return nil
}

// Evaluate runs every enabled rule once. A firing condition notifies unless
// the rule is still in cooldown; a condition that has gone quiet resolves
// its active alert.
func (m *Manager) Evaluate(ctx context.Context) {
	m.mu.Lock()
	rules := make([]Rule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	now := m.clock.Now()
	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		firing, err := rule.Condition(ctx)
		if err != nil {
			m.log.Warn().Err(err).Str("rule", rule.ID).Msg("alert condition evaluation failed")
			continue
		}
		if !firing {
			m.resolve(rule.ID, "condition cleared")
			continue
		}
		m.fire(ctx, rule, now)
	}
}

func (m *Manager) fire(ctx context.Context, rule Rule, now time.Time) {
	m.mu.Lock()
	alert, known := m.active[rule.ID]
	if known {
		alert.LastSeenAt = now
		alert.Occurrences++
	} else {
		alert = &ActiveAlert{
			RuleID:      rule.ID,
			Severity:    rule.Severity,
			Message:     rule.Message,
			FiredAt:     now,
			LastSeenAt:  now,
			Occurrences: 1,
		}
		m.active[rule.ID] = alert
	}
	occurrences := alert.Occurrences
	last, fired := m.lastFired[rule.ID]
	inCooldown := fired && now.Sub(last) < rule.Cooldown
	if !inCooldown {
		m.lastFired[rule.ID] = now
	}
	m.mu.Unlock()

	if inCooldown {
		return
	}

	metrics.AlertTriggered(string(rule.Severity))
	err := m.channel.Send(ctx, notify.Message{
		Severity:  string(rule.Severity),
		Title:     rule.ID,
		Body:      rule.Message,
		Timestamp: now,
		Metadata:  map[string]any{"occurrences": occurrences},
	})
	if err != nil {
		m.log.Warn().Err(err).Str("rule", rule.ID).Msg("alert notification failed")
	}
	m.log.Warn().
		Str("rule", rule.ID).
		Str("severity", string(rule.Severity)).
		Msg("alert fired")
}

// Resolve clears an active alert by rule id.
func (m *Manager) Resolve(ruleID string) bool {
	return m.resolve(ruleID, "resolved manually")
}

func (m *Manager) resolve(ruleID, reason string) bool {
	m.mu.Lock()
	_, ok := m.active[ruleID]
	if ok {
		delete(m.active, ruleID)
	}
	m.mu.Unlock()
	if ok {
		m.log.Info().Str("rule", ruleID).Str("reason", reason).Msg("alert resolved")
	}
	return ok
}

// Active returns a snapshot of currently-firing alerts.
func (m *Manager) Active() []ActiveAlert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActiveAlert, 0, len(m.active))
	for _, alert := range m.active {
		out = append(out, *alert)
	}
	return out
}

// Start evaluates rules on the given interval until the context ends.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	m.log.Info().Dur("interval", interval).Msg("alert sweep started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("alert sweep stopped")
			return
		case <-ticker.C:
			m.Evaluate(ctx)
		}
	}
}
