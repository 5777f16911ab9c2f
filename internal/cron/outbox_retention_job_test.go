package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

type fakePublishedOutbox struct {
	remaining int64
	cutoffs   []time.Time
	failAfter int
	err       error
}

func (f *fakePublishedOutbox) DeletePublishedBefore(_ context.Context, cutoff time.Time, limit int) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil && len(f.cutoffs) > f.failAfter {
		return 0, f.err
	}
	n := min(f.remaining, int64(limit))
	f.remaining -= n
	return n, nil
}

type sweptTotals map[string]int64

func (s sweptTotals) AddSwept(operation string, n int64) { s[operation] += n }

func newRetentionJob(t *testing.T, repo publishedOutbox, swept sweptTotals, retention time.Duration) *outboxRetentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		Repository: repo,
		Metrics:    swept,
		Retention:  retention,
	})
	require.NoError(t, err)
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionJobDrainsInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakePublishedOutbox{remaining: 2*retentionBatch + 17}
	swept := sweptTotals{}
	job := newRetentionJob(t, repo, swept, 0)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Len(t, repo.cutoffs, 3)
	require.Equal(t, now.Add(-defaultOutboxRetention), repo.cutoffs[0])
	require.EqualValues(t, 2*retentionBatch+17, swept["outbox_retention"])
}

func TestOutboxRetentionJobReportsPartialProgressOnError(t *testing.T) {
	repo := &fakePublishedOutbox{remaining: 10 * retentionBatch, failAfter: 1, err: errors.New("statement timeout")}
	swept := sweptTotals{}
	job := newRetentionJob(t, repo, swept, 7*24*time.Hour)

	require.ErrorIs(t, job.Run(context.Background()), repo.err)
	require.EqualValues(t, retentionBatch, swept["outbox_retention"])
}

func TestNewOutboxRetentionJobRequiresDependencies(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Repository: &fakePublishedOutbox{}})
	require.Error(t, err)
	_, err = NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
