// Package sweeper expires abandoned purchases and purges old terminal ones.
package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
)

const (
	DefaultExpiryWindow = 24 * time.Hour
	DefaultPurgeWindow  = 7 * 24 * time.Hour
	defaultConcurrency  = 4
)

// PurgeableStatuses are the terminal statuses whose rows may be deleted.
var PurgeableStatuses = []enums.PurchaseStatus{
	enums.PurchaseStatusFailed,
	enums.PurchaseStatusCancelled,
	enums.PurchaseStatusExpired,
}

type expirer interface {
	ExpireStale(ctx context.Context, buyerID *uuid.UUID, cutoff time.Time) (int64, error)
}

type ledger interface {
	DeleteTerminalBefore(ctx context.Context, buyerID *uuid.UUID, cutoff time.Time, statuses []enums.PurchaseStatus) (int64, error)
	ListBuyers(ctx context.Context, statuses []enums.PurchaseStatus, cutoff time.Time) ([]uuid.UUID, error)
}

// Params configures a Sweeper.
type Params struct {
	Expirer      expirer
	Ledger       ledger
	Metrics      *metrics.ReconciliationMetrics
	Logger       *logger.Logger
	ExpiryWindow time.Duration
	PurgeWindow  time.Duration
	Concurrency  int
}

// Summary totals one all-buyer sweep.
type Summary struct {
	Buyers int
	Rows   int64
}

// Sweeper runs at most one expire and one purge per buyer at a time; distinct
// buyers are swept in parallel.
type Sweeper struct {
	expirer      expirer
	ledger       ledger
	metrics      *metrics.ReconciliationMetrics
	logg         *logger.Logger
	expiryWindow time.Duration
	purgeWindow  time.Duration
	concurrency  int
	now          func() time.Time

	flights singleflight.Group
}

func New(params Params) (*Sweeper, error) {
	if params.Expirer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "expirer required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase ledger required")
	}
	s := &Sweeper{
		expirer:      params.Expirer,
		ledger:       params.Ledger,
		metrics:      params.Metrics,
		logg:         params.Logger,
		expiryWindow: params.ExpiryWindow,
		purgeWindow:  params.PurgeWindow,
		concurrency:  params.Concurrency,
		now:          func() time.Time { return time.Now().UTC() },
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.expiryWindow <= 0 {
		s.expiryWindow = DefaultExpiryWindow
	}
	if s.purgeWindow <= 0 {
		s.purgeWindow = DefaultPurgeWindow
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}
	return s, nil
}

// SweepExpired expires the buyer's pending and incomplete purchases created
// more than the expiry window ago.
func (s *Sweeper) SweepExpired(ctx context.Context, buyerID uuid.UUID) (int64, error) {
	return s.once(ctx, "expire:"+buyerID.String(), func() (int64, error) {
		return s.expirer.ExpireStale(ctx, &buyerID, s.now().Add(-s.expiryWindow))
	})
}

// PurgeTerminal deletes the buyer's purchases in statuses created more than
// the purge window ago. A nil statuses slice purges PurgeableStatuses.
func (s *Sweeper) PurgeTerminal(ctx context.Context, buyerID uuid.UUID, statuses []enums.PurchaseStatus) (int64, error) {
	if statuses == nil {
		statuses = PurgeableStatuses
	}
	return s.once(ctx, "purge:"+buyerID.String(), func() (int64, error) {
		n, err := s.ledger.DeleteTerminalBefore(ctx, &buyerID, s.now().Add(-s.purgeWindow), statuses)
		if err != nil {
			return 0, err
		}
		s.metrics.AddSwept("purge", n)
		return n, nil
	})
}

// SweepBuyer runs both sweeps for one buyer.
func (s *Sweeper) SweepBuyer(ctx context.Context, buyerID uuid.UUID) error {
	if _, err := s.SweepExpired(ctx, buyerID); err != nil {
		return err
	}
	_, err := s.PurgeTerminal(ctx, buyerID, nil)
	return err
}

// SweepAllExpired expires stale purchases for every buyer that has some.
func (s *Sweeper) SweepAllExpired(ctx context.Context) (Summary, error) {
	return s.forEachBuyer(ctx, purchases.Expirable, s.now().Add(-s.expiryWindow), func(ctx context.Context, buyerID uuid.UUID) (int64, error) {
		return s.SweepExpired(ctx, buyerID)
	})
}

// PurgeAllTerminal purges old terminal purchases for every buyer that has some.
func (s *Sweeper) PurgeAllTerminal(ctx context.Context) (Summary, error) {
	return s.forEachBuyer(ctx, PurgeableStatuses, s.now().Add(-s.purgeWindow), func(ctx context.Context, buyerID uuid.UUID) (int64, error) {
		return s.PurgeTerminal(ctx, buyerID, nil)
	})
}

func (s *Sweeper) forEachBuyer(ctx context.Context, statuses []enums.PurchaseStatus, cutoff time.Time, fn func(context.Context, uuid.UUID) (int64, error)) (Summary, error) {
	buyers, err := s.ledger.ListBuyers(ctx, statuses, cutoff)
	if err != nil {
		return Summary{}, err
	}

	counts := make([]int64, len(buyers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, buyerID := range buyers {
		i, buyerID := i, buyerID
		g.Go(func() error {
			n, err := fn(gctx, buyerID)
			if err != nil {
				s.logg.Error(s.logg.WithUserID(gctx, buyerID.String()), "buyer sweep failed", err)
				return err
			}
			counts[i] = n
			return nil
		})
	}
	err = g.Wait()

	summary := Summary{Buyers: len(buyers)}
	for _, n := range counts {
		summary.Rows += n
	}
	return summary, err
}

func (s *Sweeper) once(ctx context.Context, key string, fn func() (int64, error)) (int64, error) {
	ch := s.flights.DoChan(key, func() (any, error) {
		return fn()
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(int64), nil
	}
}
