package cron

import (
	"context"
	"fmt"

	"github.com/learnloop/coursemarket-backend/internal/sweeper"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
)

type purchaseSweeper interface {
	SweepAllExpired(ctx context.Context) (sweeper.Summary, error)
	PurgeAllTerminal(ctx context.Context) (sweeper.Summary, error)
}

type PurchaseJobParams struct {
	Logger  *logger.Logger
	Sweeper purchaseSweeper
}

func (p PurchaseJobParams) validate() error {
	if p.Logger == nil {
		return fmt.Errorf("logger required")
	}
	if p.Sweeper == nil {
		return fmt.Errorf("sweeper required")
	}
	return nil
}

// NewPurchaseExpiryJob expires purchases left open past the expiry window.
func NewPurchaseExpiryJob(params PurchaseJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &purchaseJob{
		name: "purchase-expiry",
		logg: params.Logger,
		run:  params.Sweeper.SweepAllExpired,
	}, nil
}

// NewPurchasePurgeJob deletes failed, cancelled and expired rows past the purge window.
func NewPurchasePurgeJob(params PurchaseJobParams) (Job, error) {
	if err := params.validate(); err != nil {
		return nil, err
	}
	return &purchaseJob{
		name: "purchase-purge",
		logg: params.Logger,
		run:  params.Sweeper.PurgeAllTerminal,
	}, nil
}

type purchaseJob struct {
	name string
	logg *logger.Logger
	run  func(ctx context.Context) (sweeper.Summary, error)
}

func (j *purchaseJob) Name() string { return j.name }

func (j *purchaseJob) Run(ctx context.Context) error {
	summary, err := j.run(ctx)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"buyers": summary.Buyers,
		"rows":   summary.Rows,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}
	j.logg.Info(logCtx, "purchase sweep complete")
	return nil
}
