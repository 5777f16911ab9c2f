package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
)

type fakeLock struct {
	held     map[string]bool
	ttls     map[string]time.Duration
	released []string
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: map[string]bool{}, ttls: map[string]time.Duration{}}
}

func (f *fakeLock) Acquire(_ context.Context, job string, ttl time.Duration) (bool, error) {
	if f.held[job] {
		return false, nil
	}
	f.held[job] = true
	f.ttls[job] = ttl
	return true, nil
}

func (f *fakeLock) Release(_ context.Context, job string) error {
	delete(f.held, job)
	f.released = append(f.released, job)
	return nil
}

type testJob struct {
	name string
	err  error
	runs int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T, registry *Registry, lock Lock, clk *clock, m *metrics.CronJobMetrics) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Tick:     time.Minute,
		Now:      clk.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestServiceRunsDueJobsEvenWhenOneFails(t *testing.T) {
	ok := &testJob{name: "purchase_expiry"}
	failing := &testJob{name: "purchase_purge", err: errors.New("boom")}
	registry := NewRegistry()
	registry.Register(ok, time.Hour)
	registry.Register(failing, 24*time.Hour)

	reg := prometheus.NewRegistry()
	m := metrics.NewCronJobMetrics(reg)
	lock := newFakeLock()
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(t, registry, lock, clk, m)

	svc.runDue(context.Background())
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failing.runs)
	require.Equal(t, time.Hour, lock.ttls["purchase_expiry"])
	require.Equal(t, 24*time.Hour, lock.ttls["purchase_purge"])
	require.ElementsMatch(t, []string{"purchase_expiry", "purchase_purge"}, lock.released)

	// an hour later only the expiry job is due again
	clk.now = clk.now.Add(time.Hour)
	svc.runDue(context.Background())
	require.Equal(t, 2, ok.runs)
	require.Equal(t, 1, failing.runs)

	// expiry/success and purge/failure series; only expiry has a success timestamp
	require.Equal(t, 2, testutil.CollectAndCount(reg, "cron_job_runs_total"))
	require.Equal(t, 1, testutil.CollectAndCount(reg, "cron_job_last_success_timestamp_seconds"))
}

func TestServiceSkipsJobHeldByAnotherReplica(t *testing.T) {
	job := &testJob{name: "purchase_expiry"}
	registry := NewRegistry()
	registry.Register(job, time.Hour)

	lock := newFakeLock()
	lock.held["purchase_expiry"] = true
	clk := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	svc := newTestService(t, registry, lock, clk, nil)

	svc.runDue(context.Background())
	require.Zero(t, job.runs)

	// the losing replica waits a full interval before trying again
	delete(lock.held, "purchase_expiry")
	clk.now = clk.now.Add(30 * time.Minute)
	svc.runDue(context.Background())
	require.Zero(t, job.runs)

	clk.now = clk.now.Add(30 * time.Minute)
	svc.runDue(context.Background())
	require.Equal(t, 1, job.runs)
}

func TestNewServiceRequiresJobs(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Registry: NewRegistry(),
		Lock:     newFakeLock(),
	})
	require.Error(t, err)
}
