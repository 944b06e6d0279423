package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// Job is a named unit of periodic work.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

type scheduledJob struct {
	job     Job
	nextRun time.Time
}

// Scheduler runs registered jobs on their intervals. Jobs run sequentially
// within a tick; a failing job is logged and rescheduled, never dropped.
type Scheduler struct {
	clock Clock
	log   zerolog.Logger

	mu   sync.Mutex
	jobs []*scheduledJob
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(s *Scheduler) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New constructs an empty scheduler.
func New(log zerolog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		clock: SystemClock{},
		log:   log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds a job. The first run happens one interval after registration.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("scheduler: job needs a name and a run function")
	}
	if job.Interval <= 0 {
		return errors.New("scheduler: job needs a positive interval")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, &scheduledJob{
		job:     job,
		nextRun: s.clock.Now().Add(job.Interval),
	})
	return nil
}

// Tick runs every job that is due at the given instant and reschedules it.
// Returns the number of jobs run.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []*scheduledJob
	for _, sj := range s.jobs {
		if !sj.nextRun.After(now) {
			due = append(due, sj)
			sj.nextRun = now.Add(sj.job.Interval)
		}
	}
	s.mu.Unlock()

	for _, sj := range due {
		start := s.clock.Now()
		if err := sj.job.Run(ctx); err != nil {
			s.log.Warn().Err(err).Str("job", sj.job.Name).Msg("scheduled job failed")
			continue
		}
		s.log.Debug().
			Str("job", sj.job.Name).
			Dur("duration", s.clock.Now().Sub(start)).
			Msg("scheduled job finished")
	}
	return len(due)
}

// Start ticks at the given resolution until the context ends.
func (s *Scheduler) Start(ctx context.Context, resolution time.Duration) {
	if resolution <= 0 {
		resolution = time.Minute
	}
	ticker := time.NewTicker(resolution)
	defer ticker.Stop()
	s.log.Info().Dur("resolution", resolution).Msg("scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("scheduler stopped")
			return
		case <-ticker.C:
			s.Tick(ctx, s.clock.Now())
		}
	}
}
