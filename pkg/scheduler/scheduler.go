package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Job is a recurring task registered on a Scheduler.
type Job struct {
	scheduler *Scheduler
	interval  time.Duration
	name      string
	task      func(context.Context)
	next      time.Time
}

// Scheduler is a cooperative periodic task runner. It never starts goroutines:
// tasks run on the goroutine that calls Tick.
type Scheduler struct {
	mu     sync.Mutex
	jobs   []*Job
	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now, mainly so tests can drive time explicitly.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// WithLogger sets the logger used to report recovered task panics.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// New creates an empty Scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Every starts the registration of a job that runs once per interval.
// The job is not scheduled until Do is called.
func (s *Scheduler) Every(interval time.Duration) *Job {
	return &Job{scheduler: s, interval: interval}
}

// Named labels the job in log output.
func (j *Job) Named(name string) *Job {
	j.name = name
	return j
}

// Do registers task and schedules its first run one interval from now. The
// task receives the context passed to Tick.
func (j *Job) Do(task func(ctx context.Context)) *Job {
	s := j.scheduler
	j.task = task

	s.mu.Lock()
	defer s.mu.Unlock()
	j.next = s.now().Add(j.interval)
	s.jobs = append(s.jobs, j)
	return j
}

func (j *Job) nextRun() time.Time {
	j.scheduler.mu.Lock()
	defer j.scheduler.mu.Unlock()
	return j.next
}

// Tick runs every job whose due time has passed, each at most once, in
// registration order. A job is rescheduled one interval after it finishes;
// missed intervals are not backfilled. Once ctx is done no further jobs are
// started. It returns the number of jobs run.
func (s *Scheduler) Tick(ctx context.Context) int {
	s.mu.Lock()
	due := make([]*Job, 0, len(s.jobs))
	now := s.now()
	for _, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, j)
		}
	}
	s.mu.Unlock()

	ran := 0
	for _, j := range due {
		if ctx.Err() != nil {
			break
		}
		s.run(ctx, j)
		ran++

		s.mu.Lock()
		j.next = s.now().Add(j.interval)
		s.mu.Unlock()
	}
	return ran
}

// run executes a single job, containing any panic so later jobs still run.
func (s *Scheduler) run(ctx context.Context, j *Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Interface("panic", r).
				Str("job", j.name).
				Dur("interval", j.interval).
				Msg("Recovered from panic in scheduled job.")
		}
	}()
	j.task(ctx)
}
