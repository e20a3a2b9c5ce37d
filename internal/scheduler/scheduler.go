// Package scheduler runs the periodic agents on cron schedules.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one schedulable unit of periodic work.
type Job interface {
	Name() string
	Run() error
}

// JobFunc adapts a function to the Job interface.
type JobFunc struct {
	JobName string
	Fn      func() error
}

func (j JobFunc) Name() string { return j.JobName }
func (j JobFunc) Run() error   { return j.Fn() }

// Scheduler wraps cron with named, replaceable entries so interval changes
// from config updates can re-register a job without restarting the runtime.
type Scheduler struct {
	cron   *cron.Cron
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a stopped scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.Named("scheduler"),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins dispatching jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts dispatch and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// AddEvery registers (or replaces) a job that runs at the given interval.
func (s *Scheduler) AddEvery(interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", job.Name())
	}
	spec := fmt.Sprintf("@every %s", interval)

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[job.Name()]; ok {
		s.cron.Remove(old)
	}
	id, err := s.cron.AddFunc(spec, func() {
		if err := job.Run(); err != nil {
			s.logger.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	s.entries[job.Name()] = id
	s.logger.Info("job registered",
		zap.String("job", job.Name()), zap.Duration("interval", interval))
	return nil
}

// Remove deregisters a named job. Unknown names are ignored.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}

// RunNow executes a job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.logger.Debug("running job now", zap.String("job", job.Name()))
	return job.Run()
}
