package cron

import (
	"context"
	"errors"
	"time"

	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	retentionBatch         = 500
	// maxRetentionPasses keeps one run from holding the job lock indefinitely
	// after a long outage; the remainder goes on the next run.
	maxRetentionPasses = 200
)

type publishedOutbox interface {
	DeletePublishedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type sweepRecorder interface {
	AddSwept(operation string, n int64)
}

type OutboxRetentionJobParams struct {
	Logger     *logger.Logger
	Repository publishedOutbox
	Metrics    sweepRecorder
	// Retention is how long a published row is kept. Zero means 30 days.
	Retention time.Duration
}

// NewOutboxRetentionJob deletes published outbox rows once they age past
// Retention. Parked rows are never touched; they wait for manual replay.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository required")
	}
	if params.Retention <= 0 {
		params.Retention = defaultOutboxRetention
	}
	return &outboxRetentionJob{params: params, now: time.Now}, nil
}

type outboxRetentionJob struct {
	params OutboxRetentionJobParams
	now    func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.params.Retention)
	var total int64
	defer func() {
		if j.params.Metrics != nil {
			j.params.Metrics.AddSwept("outbox_retention", total)
		}
	}()

	for pass := 0; pass < maxRetentionPasses; pass++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.params.Repository.DeletePublishedBefore(ctx, cutoff, retentionBatch)
		total += n
		if err != nil {
			return err
		}
		if n < retentionBatch {
			break
		}
	}

	j.params.Logger.Info(j.params.Logger.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"rows_deleted": total,
	}), "published outbox rows pruned")
	return nil
}
