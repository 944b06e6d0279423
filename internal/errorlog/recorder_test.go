package errorlog

import (
	"strings"
	"testing"
	"time"

	"rental-cloud/internal/logger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newRecorder(opts ...Option) (*Recorder, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock)}, opts...)
	return NewRecorder(logger.Nop(), opts...), clock
}

func TestRecordFillsDefaults(t *testing.T) {
	r, clock := newRecorder()
	r.Record(Entry{Type: "BILL_GENERATION", Message: "boom"})

	recent := r.Recent()
	if len(recent) != 1 {
		t.Fatalf("got %d entries", len(recent))
	}
	e := recent[0]
	if !e.At.Equal(clock.now) {
		t.Fatalf("timestamp not stamped: %v", e.At)
	}
	if e.Severity != SeverityMedium {
		t.Fatalf("default severity %s, want MEDIUM", e.Severity)
	}
	if e.Stack != "" {
		t.Fatalf("medium entries should not capture a stack")
	}
}

func TestHighSeverityCapturesStack(t *testing.T) {
	r, _ := newRecorder()
	r.Record(Entry{Type: "X", Severity: SeverityHigh, Message: "boom"})
	r.Record(Entry{Type: "Y", Severity: SeverityCritical, Message: "worse"})

	for _, e := range r.Recent() {
		if e.Stack == "" {
			t.Fatalf("%s entry missing stack", e.Severity)
		}
		if !strings.Contains(e.Stack, "goroutine") {
			t.Fatalf("stack looks wrong: %q", e.Stack[:40])
		}
	}
}

func TestErrorRateUsesObservedDenominator(t *testing.T) {
	r, _ := newRecorder()
	if got := r.ErrorRate(); got != 0 {
		t.Fatalf("empty recorder rate %v", got)
	}

	for i := 0; i < 9; i++ {
		r.Observe()
	}
	r.Record(Entry{Type: "X", Message: "one failure"})
	if got := r.ErrorRate(); got != 0.1 {
		t.Fatalf("rate %v, want 0.1", got)
	}
}

func TestWindowPrunesOldEntries(t *testing.T) {
	r, clock := newRecorder(WithWindow(time.Hour))
	r.Record(Entry{Type: "OLD", Message: "early failure"})
	r.Observe()

	clock.Advance(2 * time.Hour)
	r.Observe() // any write prunes

	if got := r.CountSince(clock.now.Add(-24 * time.Hour)); got != 0 {
		t.Fatalf("old entry survived the window, count %d", got)
	}
	if got := r.ErrorRate(); got != 0 {
		t.Fatalf("pruned failures still counted, rate %v", got)
	}
	if len(r.Recent()) != 0 {
		t.Fatalf("recent should be empty after pruning")
	}
}

func TestCountSince(t *testing.T) {
	r, clock := newRecorder()
	r.Record(Entry{Type: "A", Message: "first"})
	clock.Advance(time.Hour)
	r.Record(Entry{Type: "B", Message: "second"})

	if got := r.CountSince(clock.now.Add(-30 * time.Minute)); got != 1 {
		t.Fatalf("count %d, want only the second entry", got)
	}
	if got := r.CountSince(clock.now.Add(-2 * time.Hour)); got != 2 {
		t.Fatalf("count %d, want both", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Record(Entry{Type: "X", Message: "ignored"})
	r.Observe()
	if r.ErrorRate() != 0 || r.CountSince(time.Time{}) != 0 || r.Recent() != nil {
		t.Fatalf("nil recorder should be inert")
	}
}
