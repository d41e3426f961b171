// Package scheduler runs the ledger's periodic jobs on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/smarter-poker/diamond-ledger/internal/app/system"
	"github.com/smarter-poker/diamond-ledger/pkg/logger"
)

// Job is one scheduled unit of work.
type Job struct {
	Name string
	Spec string // cron expression, @every and @hourly descriptors accepted
	Run  func(ctx context.Context) error
}

// Scheduler wraps a cron runner behind the service lifecycle.
type Scheduler struct {
	log  *logger.Logger
	jobs []Job

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool
}

var _ system.Service = (*Scheduler)(nil)

func New(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{log: log}
}

// Add registers a job. Call before Start.
func (s *Scheduler) Add(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *Scheduler) Name() string { return "scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)

	c := cron.New()
	for _, job := range s.jobs {
		job := job
		_, err := c.AddFunc(job.Spec, func() {
			if err := job.Run(runCtx); err != nil {
				s.log.WithError(err).WithField("job", job.Name).Error("scheduled job failed")
			}
		})
		if err != nil {
			cancel()
			return fmt.Errorf("schedule %s (%q): %w", job.Name, job.Spec, err)
		}
		s.log.WithField("job", job.Name).WithField("spec", job.Spec).Info("job scheduled")
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	cancel := s.cancel
	s.cron = nil
	s.cancel = nil
	s.running = false
	s.mu.Unlock()

	cancel()
	done := c.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
