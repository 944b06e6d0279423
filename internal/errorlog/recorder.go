package errorlog

import (
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Severity ranks recorded entries.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Entry is one structured log record kept in the trailing window.
type Entry struct {
	Type     string
	Severity Severity
	Message  string
	Context  map[string]any
	Stack    string
	At       time.Time
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Recorder is the engine's structured log sink. Every entry goes to the
// underlying zerolog logger and into an in-memory trailing window so alert
// rules can compute error rates without a log store.
type Recorder struct {
	log    zerolog.Logger
	clock  Clock
	window time.Duration

	mu       sync.Mutex
	entries  []Entry
	observed []time.Time
}

// Option configures the recorder.
type Option func(*Recorder)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(r *Recorder) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// WithWindow overrides the trailing retention window.
func WithWindow(window time.Duration) Option {
	return func(r *Recorder) {
		if window > 0 {
			r.window = window
		}
	}
}

// NewRecorder constructs a recorder with a 24h trailing window.
func NewRecorder(log zerolog.Logger, opts ...Option) *Recorder {
	r := &Recorder{
		log:    log,
		clock:  systemClock{},
		window: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record logs an error-class entry and retains it in the window.
func (r *Recorder) Record(entry Entry) {
	if r == nil {
		return
	}
	if entry.At.IsZero() {
		entry.At = r.clock.Now()
	}
	if entry.Severity == "" {
		entry.Severity = SeverityMedium
	}
	if entry.Stack == "" && (entry.Severity == SeverityCritical || entry.Severity == SeverityHigh) {
		entry.Stack = captureStack()
	}

	evt := r.log.Error().
		Str("type", entry.Type).
		Str("severity", string(entry.Severity)).
		Time("at", entry.At)
	for k, v := range entry.Context {
		evt = evt.Interface(k, v)
	}
	if entry.Stack != "" {
		evt = evt.Str("stack", entry.Stack)
	}
	evt.Msg(entry.Message)

	r.mu.Lock()
	r.entries = append(r.entries, entry)
	r.observed = append(r.observed, entry.At)
	r.prune(entry.At)
	r.mu.Unlock()
}

// Observe counts a successful operation so error rates have a denominator.
func (r *Recorder) Observe() {
	if r == nil {
		return
	}
	now := r.clock.Now()
	r.mu.Lock()
	r.observed = append(r.observed, now)
	r.prune(now)
	r.mu.Unlock()
}

// CountSince returns the number of recorded errors after the given time.
func (r *Recorder) CountSince(since time.Time) int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, e := range r.entries {
		if e.At.After(since) {
			count++
		}
	}
	return count
}

// ErrorRate returns errors / observed operations over the retention window.
// Returns 0 when nothing was observed.
func (r *Recorder) ErrorRate() float64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.observed) == 0 {
		return 0
	}
	return float64(len(r.entries)) / float64(len(r.observed))
}

// Recent returns a copy of the retained entries, newest last.
func (r *Recorder) Recent() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Recorder) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	idx := 0
	for idx < len(r.entries) && !r.entries[idx].At.After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.entries = append([]Entry(nil), r.entries[idx:]...)
	}
	idx = 0
	for idx < len(r.observed) && !r.observed[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.observed = append([]time.Time(nil), r.observed[idx:]...)
	}
}

func captureStack() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}
