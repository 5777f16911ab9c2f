// Package reconciliation applies payment outcomes to the purchase ledger and
// the enrollment edge.
package reconciliation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/learnloop/coursemarket-backend/internal/enrollments"
	"github.com/learnloop/coursemarket-backend/internal/payments"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/metrics"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
	"github.com/learnloop/coursemarket-backend/pkg/outbox/payloads"
)

// Source names where an outcome came from.
type Source string

const (
	SourceWebhook Source = "webhook"
	SourcePoll    Source = "poll"
	SourceManual  Source = "manual"
	SourceSweeper Source = "sweeper"
)

// Outcome is one payment result to apply. Lines are taken from Metadata when
// present, otherwise from PurchaseIDs, otherwise looked up by session and then
// by payment intent.
type Outcome struct {
	Source          Source
	Target          enums.PurchaseStatus
	EventID         string
	SessionID       string
	PaymentIntentID string
	FailureReason   string
	Metadata        *payments.Metadata
	PurchaseIDs     []uuid.UUID
	Actor           *outbox.ActorRef
}

// LineResult is the final state of one purchase after Apply.
type LineResult struct {
	PurchaseID        uuid.UUID
	CourseID          uuid.UUID
	Status            enums.PurchaseStatus
	Previous          enums.PurchaseStatus
	Changed           bool
	EnrollmentChanged bool
	Err               error
}

// Result aggregates every line touched by an outcome.
type Result struct {
	Lines []LineResult
}

// Applied reports whether at least one purchase changed status.
func (r *Result) Applied() bool {
	for _, line := range r.Lines {
		if line.Changed {
			return true
		}
	}
	return false
}

// EngineParams wires the engine's collaborators.
type EngineParams struct {
	TxRunner    db.TxRunner
	Purchases   *purchases.Repository
	Enrollments *enrollments.Store
	Outbox      outbox.Emitter
	Metrics     *metrics.ReconciliationMetrics
	Logger      *logger.Logger
}

// Engine is the single writer of purchase status changes and enrollment edges.
type Engine struct {
	tx          db.TxRunner
	purchases   *purchases.Repository
	enrollments *enrollments.Store
	outbox      outbox.Emitter
	metrics     *metrics.ReconciliationMetrics
	logg        *logger.Logger
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Purchases == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchases repo required")
	}
	if params.Enrollments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "enrollment store required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Engine{
		tx:          params.TxRunner,
		purchases:   params.Purchases,
		enrollments: params.Enrollments,
		outbox:      params.Outbox,
		metrics:     params.Metrics,
		logg:        logg,
	}, nil
}

// Apply moves every purchase named by the outcome towards its target. Lines
// are handled independently: a failing line is logged and collected, the rest
// still run. Unknown purchases are skipped without error.
func (e *Engine) Apply(ctx context.Context, outcome Outcome) (*Result, error) {
	if !outcome.Target.IsValid() || outcome.Target == enums.PurchaseStatusPending || outcome.Target == enums.PurchaseStatusIncomplete {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported reconciliation target").
			WithDetails(map[string]any{"target": outcome.Target})
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"source":     string(outcome.Source),
		"target":     string(outcome.Target),
		"session_id": outcome.SessionID,
		"event_id":   outcome.EventID,
	})

	lines, err := e.resolveLines(ctx, outcome)
	if err != nil {
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultError)
		return nil, err
	}
	if len(lines) == 0 {
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultNotFound)
		e.logg.Warn(ctx, "reconciliation outcome matched no purchases")
		return &Result{}, nil
	}

	result := &Result{Lines: make([]LineResult, 0, len(lines))}
	var errs error
	for _, line := range lines {
		lineResult := e.applyLine(ctx, outcome, line)
		if lineResult.Err != nil {
			errs = multierr.Append(errs, lineResult.Err)
		}
		result.Lines = append(result.Lines, lineResult)
	}
	return result, errs
}

func (e *Engine) resolveLines(ctx context.Context, outcome Outcome) ([]payments.Line, error) {
	if outcome.Metadata != nil && len(outcome.Metadata.Lines) > 0 {
		return outcome.Metadata.Lines, nil
	}

	if len(outcome.PurchaseIDs) > 0 {
		lines := make([]payments.Line, 0, len(outcome.PurchaseIDs))
		for _, id := range outcome.PurchaseIDs {
			lines = append(lines, payments.Line{PurchaseID: id})
		}
		return lines, nil
	}

	var (
		rows []models.Purchase
		err  error
	)
	if outcome.SessionID != "" {
		rows, err = e.purchases.ListBySession(ctx, outcome.SessionID)
		if err != nil {
			return nil, err
		}
	}
	if len(rows) == 0 && outcome.PaymentIntentID != "" {
		rows, err = e.purchases.ListByPaymentIntent(ctx, outcome.PaymentIntentID)
		if err != nil {
			return nil, err
		}
	}
	lines := make([]payments.Line, 0, len(rows))
	for _, row := range rows {
		lines = append(lines, payments.Line{PurchaseID: row.ID, CourseID: row.CourseID})
	}
	return lines, nil
}

func (e *Engine) applyLine(ctx context.Context, outcome Outcome, line payments.Line) LineResult {
	lineCtx := e.logg.WithPurchaseID(ctx, line.PurchaseID.String())
	out := LineResult{PurchaseID: line.PurchaseID, CourseID: line.CourseID}

	fields := purchases.TransitionFields{}
	if outcome.PaymentIntentID != "" {
		intent := outcome.PaymentIntentID
		fields.PaymentIntentID = &intent
	}
	if outcome.FailureReason != "" {
		reason := outcome.FailureReason
		fields.FailureReason = &reason
	}
	// a stale session must not close a purchase that moved on to a newer one
	if outcome.SessionID != "" && outcome.Target != enums.PurchaseStatusCompleted && outcome.Target != enums.PurchaseStatusRefunded {
		fields.ExpectSessionID = outcome.SessionID
	}

	err := e.tx.WithTx(lineCtx, func(tx *gorm.DB) error {
		res, err := e.purchases.WithTx(tx).Transition(lineCtx, line.PurchaseID, outcome.Target, fields)
		if err != nil {
			return err
		}
		purchase := res.Purchase
		if line.CourseID != uuid.Nil && line.CourseID != purchase.CourseID {
			e.logg.Warn(e.logg.WithField(lineCtx, "metadata_course_id", line.CourseID.String()), "session metadata course does not match purchase")
		}
		out.CourseID = purchase.CourseID
		out.Status = purchase.Status
		out.Previous = res.Previous
		out.Changed = res.Changed

		switch {
		case purchase.Status == enums.PurchaseStatusCompleted && outcome.Target == enums.PurchaseStatusCompleted:
			// replays still converge a missing edge
			changed, err := e.enrollments.Grant(lineCtx, tx, purchase.BuyerID, purchase.CourseID)
			if err != nil {
				return err
			}
			out.EnrollmentChanged = changed
		case res.Changed && purchase.Status == enums.PurchaseStatusRefunded:
			changed, err := e.enrollments.Revoke(lineCtx, tx, purchase.BuyerID, purchase.CourseID)
			if err != nil {
				return err
			}
			out.EnrollmentChanged = changed
		}

		if res.Changed {
			return e.emit(lineCtx, tx, outcome, res, out.EnrollmentChanged)
		}
		return nil
	})

	switch {
	case err == nil && out.Changed:
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultApplied)
		e.logg.Info(e.logg.WithFields(lineCtx, map[string]any{
			"previous_status":    string(out.Previous),
			"status":             string(out.Status),
			"enrollment_changed": out.EnrollmentChanged,
		}), "purchase transition applied")
	case err == nil:
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultNoop)
		e.logg.Debug(e.logg.WithField(lineCtx, "status", string(out.Status)), "purchase transition skipped")
	case pkgerrors.Is(err, pkgerrors.CodeNotFound):
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultNotFound)
		e.logg.Warn(lineCtx, "purchase not found for outcome")
	default:
		e.metrics.IncOutcome(string(outcome.Source), string(outcome.Target), metrics.ResultError)
		e.logg.Error(lineCtx, "purchase transition failed", err)
		out.Err = err
		out.Changed = false
		out.EnrollmentChanged = false
	}
	return out
}

func (e *Engine) emit(ctx context.Context, tx *gorm.DB, outcome Outcome, res *purchases.TransitionResult, enrollmentChanged bool) error {
	eventType, ok := enums.PurchaseEventFor(res.Purchase.Status)
	if !ok {
		return nil
	}
	return e.outbox.Emit(ctx, tx, purchaseEvent(eventType, res.Purchase, res.Previous, string(outcome.Source), outcome.Actor, enrollmentChanged))
}

func purchaseEvent(eventType enums.OutboxEventType, p *models.Purchase, previous enums.PurchaseStatus, source string, actor *outbox.ActorRef, enrollmentChanged bool) outbox.DomainEvent {
	occurredAt := time.Now().UTC()
	sessionID := ""
	if p.SessionID != nil {
		sessionID = *p.SessionID
	}
	return outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePurchase,
		AggregateID:   p.ID,
		Actor:         actor,
		OccurredAt:    occurredAt,
		Data: payloads.PurchaseStatusChangedEvent{
			PurchaseID:     p.ID,
			BuyerID:        p.BuyerID,
			CourseID:       p.CourseID,
			Status:         p.Status,
			PreviousStatus: previous,
			Amount:         p.Amount.StringFixed(2),
			SessionID:      sessionID,
			Source:         source,
			EnrollmentSet:  enrollmentChanged,
			OccurredAt:     occurredAt,
		},
	}
}

// ExpireStale expires pending and incomplete purchases created before cutoff
// and queues a purchase_expired event for each, all in one transaction. A nil
// buyerID sweeps every buyer.
func (e *Engine) ExpireStale(ctx context.Context, buyerID *uuid.UUID, cutoff time.Time) (int64, error) {
	var expired int64
	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := e.purchases.WithTx(tx).ExpireStale(ctx, buyerID, cutoff)
		if err != nil {
			return err
		}
		for i := range rows {
			previous := rows[i].Status
			rows[i].Status = enums.PurchaseStatusExpired
			event := purchaseEvent(enums.EventPurchaseExpired, &rows[i], previous, string(SourceSweeper), nil, false)
			if err := e.outbox.Emit(ctx, tx, event); err != nil {
				return err
			}
		}
		expired = int64(len(rows))
		return nil
	})
	if err != nil {
		e.metrics.IncOutcome(string(SourceSweeper), string(enums.PurchaseStatusExpired), metrics.ResultError)
		return 0, err
	}
	if expired > 0 {
		e.metrics.AddSwept("expire", expired)
		e.logg.Info(e.logg.WithField(ctx, "expired", expired), "stale purchases expired")
	}
	return expired, nil
}
