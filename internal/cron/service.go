package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
)

const (
	defaultInterval = time.Hour
	defaultTick     = time.Minute
)

// ServiceParams configure the cron service. Tick is how often the registry is
// checked for due jobs.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Tick     time.Duration
	Now      func() time.Time
}

// Service runs due jobs, each under its own lock so replicas split the work.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	tick     time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("lock required")
	}
	if params.Registry == nil || params.Registry.Len() == 0 {
		return nil, fmt.Errorf("at least one job required")
	}
	svc := &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		tick:     params.Tick,
		now:      params.Now,
	}
	if svc.tick <= 0 {
		svc.tick = defaultTick
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc, nil
}

// Run checks for due jobs on every tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		s.runDue(ctx)
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron service context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runDue(ctx context.Context) {
	for _, job := range s.registry.Due(s.now()) {
		if ctx.Err() != nil {
			return
		}
		s.runLocked(ctx, job)
	}
}

// runLocked runs job if this replica wins its lock. A replica that loses
// still reschedules, so it does not retry the job on every tick.
func (s *Service) runLocked(ctx context.Context, job Job) {
	name := job.Name()
	jobCtx := s.logg.WithFields(ctx, map[string]any{"job": name, "event": "cron.job"})

	ttl, _ := s.registry.Interval(name)
	won, err := s.lock.Acquire(ctx, name, ttl)
	if err != nil {
		s.logg.Error(jobCtx, "job lock acquire failed", err)
		return
	}
	if !won {
		s.logg.Debug(jobCtx, "job held by another replica")
		s.registry.Completed(name, s.now())
		return
	}
	defer func() {
		if err := s.lock.Release(ctx, name); err != nil {
			s.logg.Error(jobCtx, "job lock release failed", err)
		}
	}()

	start := time.Now()
	err = job.Run(jobCtx)
	elapsed := time.Since(start)
	finished := s.now()
	s.registry.Completed(name, finished)
	s.metrics.ObserveRun(name, finished, elapsed, err)

	jobCtx = s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		s.logg.Error(jobCtx, "job failed", err)
		return
	}
	s.logg.Info(jobCtx, "job completed")
}
