package alerting

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rental-cloud/internal/alerting/notify"
	"rental-cloud/internal/logger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingChannel struct {
	mu   sync.Mutex
	sent []notify.Message
	err  error
}

func (c *recordingChannel) Send(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return c.err
}

func (c *recordingChannel) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func boolRule(id string, severity Severity, cooldown time.Duration, firing *bool) Rule {
	return Rule{
		ID:       id,
		Severity: severity,
		Message:  id + " condition met",
		Cooldown: cooldown,
		Enabled:  true,
		Condition: func(context.Context) (bool, error) {
			return *firing, nil
		},
	}
}

func newTestManager(t *testing.T, channel notify.Channel, clock Clock, rules ...Rule) *Manager {
	t.Helper()
	mgr, err := NewManager(channel, logger.Nop(), rules, WithClock(clock))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	return mgr
}

func TestAlertFiresAndRespectsCooldown(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	firing := true
	mgr := newTestManager(t, channel, clock, boolRule("db_down", SeverityCritical, 30*time.Minute, &firing))
	ctx := context.Background()

	mgr.Evaluate(ctx)
	if channel.count() != 1 {
		t.Fatalf("first evaluation should notify, sent %d", channel.count())
	}
	msg := channel.sent[0]
	if msg.Title != "db_down" || msg.Severity != string(SeverityCritical) {
		t.Fatalf("unexpected message: %+v", msg)
	}

	// Still firing inside the cooldown window: no re-send, but the active
	// alert keeps counting.
	clock.Advance(10 * time.Minute)
	mgr.Evaluate(ctx)
	if channel.count() != 1 {
		t.Fatalf("cooldown should suppress re-notification, sent %d", channel.count())
	}
	active := mgr.Active()
	if len(active) != 1 || active[0].Occurrences != 2 {
		t.Fatalf("occurrences should keep counting during cooldown: %+v", active)
	}

	// Past the cooldown the notification goes out again.
	clock.Advance(25 * time.Minute)
	mgr.Evaluate(ctx)
	if channel.count() != 2 {
		t.Fatalf("expired cooldown should re-notify, sent %d", channel.count())
	}
}

func TestAlertResolvesWhenConditionClears(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	firing := true
	mgr := newTestManager(t, channel, clock, boolRule("stall", SeverityHigh, time.Hour, &firing))
	ctx := context.Background()

	mgr.Evaluate(ctx)
	if len(mgr.Active()) != 1 {
		t.Fatalf("alert should be active")
	}

	firing = false
	mgr.Evaluate(ctx)
	if len(mgr.Active()) != 0 {
		t.Fatalf("cleared condition should resolve the alert")
	}

	// Firing again after a clean resolve is a fresh alert.
	firing = true
	clock.Advance(2 * time.Hour)
	mgr.Evaluate(ctx)
	active := mgr.Active()
	if len(active) != 1 || active[0].Occurrences != 1 {
		t.Fatalf("re-fire should start a fresh alert: %+v", active)
	}
}

func TestManualResolve(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	firing := true
	mgr := newTestManager(t, channel, clock, boolRule("noise", SeverityLow, time.Hour, &firing))

	mgr.Evaluate(context.Background())
	if !mgr.Resolve("noise") {
		t.Fatalf("active alert should resolve")
	}
	if mgr.Resolve("noise") {
		t.Fatalf("second resolve should report nothing to do")
	}
}

func TestConditionErrorSkipsRule(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	broken := Rule{
		ID:       "broken",
		Severity: SeverityMedium,
		Enabled:  true,
		Condition: func(context.Context) (bool, error) {
			return false, errors.New("stats backend unreachable")
		},
	}
	firing := true
	mgr := newTestManager(t, channel, clock, broken, boolRule("healthy", SeverityLow, 0, &firing))

	mgr.Evaluate(context.Background())
	if channel.count() != 1 || channel.sent[0].Title != "healthy" {
		t.Fatalf("failed condition must not fire or block others: %+v", channel.sent)
	}
	for _, alert := range mgr.Active() {
		if alert.RuleID == "broken" {
			t.Fatalf("errored rule should not be active")
		}
	}
}

func TestDisabledRuleNeverFires(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	firing := true
	rule := boolRule("muted", SeverityHigh, 0, &firing)
	rule.Enabled = false
	mgr := newTestManager(t, channel, clock, rule)

	mgr.Evaluate(context.Background())
	if channel.count() != 0 || len(mgr.Active()) != 0 {
		t.Fatalf("disabled rule fired")
	}
}

func TestAddRuleValidates(t *testing.T) {
	channel := &recordingChannel{}
	mgr := newTestManager(t, channel, SystemClock{})
	if err := mgr.AddRule(Rule{ID: "no-condition"}); err == nil {
		t.Fatalf("rule without a condition should be rejected")
	}
	firing := false
	if err := mgr.AddRule(boolRule("ok", SeverityLow, 0, &firing)); err != nil {
		t.Fatalf("valid rule rejected: %v", err)
	}
}

func TestConcurrentSweepsReportDistinctOccurrences(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{}
	firing := true
	mgr := newTestManager(t, channel, clock, boolRule("db_down", SeverityCritical, 0, &firing))

	const sweeps = 8
	var wg sync.WaitGroup
	for i := 0; i < sweeps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mgr.Evaluate(context.Background())
		}()
	}
	wg.Wait()

	if channel.count() != sweeps {
		t.Fatalf("sent %d notifications, want %d", channel.count(), sweeps)
	}
	// Each notification carries the count observed when its sweep refreshed
	// the alert, so the counts are exactly 1..sweeps in some order.
	seen := make(map[int]bool)
	for _, msg := range channel.sent {
		n, ok := msg.Metadata["occurrences"].(int)
		if !ok {
			t.Fatalf("occurrences missing: %+v", msg.Metadata)
		}
		if seen[n] {
			t.Fatalf("occurrence count %d reported twice", n)
		}
		seen[n] = true
	}
	for n := 1; n <= sweeps; n++ {
		if !seen[n] {
			t.Fatalf("occurrence count %d never reported", n)
		}
	}
}

func TestNotificationFailureKeepsAlertActive(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 8, 0, 0, 0, time.UTC)}
	channel := &recordingChannel{err: errors.New("webhook 503")}
	firing := true
	mgr := newTestManager(t, channel, clock, boolRule("flap", SeverityHigh, 0, &firing))

	mgr.Evaluate(context.Background())
	if len(mgr.Active()) != 1 {
		t.Fatalf("send failure must not lose the alert")
	}
}
