package syncq

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/msvignesh01/eduflow/internal/errors"
	"github.com/msvignesh01/eduflow/internal/localstore"
)

// Job is periodic background work.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs Jobs on fixed intervals. A job still running when its next
// tick arrives is skipped for that tick.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	jobs    map[string]Job
	entries map[string]cron.EntryID
	started bool
}

// NewScheduler returns a stopped Scheduler.
func NewScheduler(log zerolog.Logger) *Scheduler {
	cl := cronLogger{log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]Job),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.NewInvalidRequest("job name and func are required")
	}
	if job.Every < time.Second {
		return errors.NewInvalidRequest(fmt.Sprintf("job %s: interval must be at least 1s", job.Name))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.Name]; ok {
		return errors.NewInvalidRequest("duplicate job: " + job.Name)
	}
	id := s.cron.Schedule(cron.Every(job.Every), cron.FuncJob(func() { s.run(job) }))
	s.jobs[job.Name] = job
	s.entries[job.Name] = id
	return nil
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Warn().Str("job", job.Name).Err(err).Msg("scheduled job failed")
		return
	}
	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("scheduled job ran")
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return errors.NewNotFound("job " + name)
	}
	return job.Run(ctx)
}

// Start begins running jobs. It is a no-op when already started.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")
}

// Stop cancels running jobs and waits for them to return, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.log.Warn().Msg("scheduler stop timed out waiting for running jobs")
	}
}

// NextRuns returns the next scheduled time of every job.
func (s *Scheduler) NextRuns() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.entries))
	for name, id := range s.entries {
		out[name] = s.cron.Entry(id).Next
	}
	return out
}

// Names returns registered job names, sorted.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DrainJob drains q periodically. Drains skip themselves while offline.
func DrainJob(q *Queue, every time.Duration) Job {
	return Job{
		Name:  "sync-drain",
		Every: every,
		Run: func(ctx context.Context) error {
			_, err := q.Drain(ctx)
			return err
		},
	}
}

// SweepJob removes expired items from store periodically.
func SweepJob(store *localstore.Store, every time.Duration) Job {
	return Job{
		Name:  "store-sweep",
		Every: every,
		Run: func(context.Context) error {
			_, err := store.Sweep()
			return err
		},
	}
}

// cronLogger adapts zerolog to cron's logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg("cron: " + msg)
}

// ConnectivityJob re-checks reachability periodically; transitions reach
// the queue through its connectivity subscription.
func ConnectivityJob(checker interface{ Check(context.Context) bool }, every time.Duration) Job {
	return Job{
		Name:  "connectivity-check",
		Every: every,
		Run: func(ctx context.Context) error {
			checker.Check(ctx)
			return nil
		},
	}
}
