package cron

import (
	"context"
	"sync"
	"time"
)

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// entry is a job plus its cadence. nextRun is zero until the job first runs,
// so every job is due on the first tick after startup.
type entry struct {
	job     Job
	every   time.Duration
	nextRun time.Time
}

// Registry holds jobs with independent cadences.
type Registry struct {
	mu      sync.Mutex
	entries []*entry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register schedules job every interval. Non-positive intervals fall back to
// defaultInterval; nil jobs are ignored.
func (r *Registry) Register(job Job, every time.Duration) {
	if job == nil {
		return
	}
	if every <= 0 {
		every = defaultInterval
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, &entry{job: job, every: every})
}

// Due returns the jobs whose next run is at or before now, in registration order.
func (r *Registry) Due(now time.Time) []Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []Job
	for _, e := range r.entries {
		if e.nextRun.IsZero() || !now.Before(e.nextRun) {
			due = append(due, e.job)
		}
	}
	return due
}

// Completed pushes the job's next run one interval past at. Failed runs are
// rescheduled too; the next cadence retries them.
func (r *Registry) Completed(name string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.job.Name() == name {
			e.nextRun = at.Add(e.every)
		}
	}
}

// Interval reports the cadence of the named job.
func (r *Registry) Interval(name string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.job.Name() == name {
			return e.every, true
		}
	}
	return 0, false
}

// Len reports how many jobs are registered.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
