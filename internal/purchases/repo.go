package purchases

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/learnloop/coursemarket-backend/pkg/db"
	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
)

const openPairIndex = "ux_purchases_open_pair"

// TransitionFields carries the auxiliary columns written alongside a status change.
type TransitionFields struct {
	PaymentDate     *time.Time
	RefundDate      *time.Time
	PaymentIntentID *string
	FailureReason   *string
	// ExpectSessionID, when set, turns the call into a no-op unless the
	// purchase is still attached to that session.
	ExpectSessionID string
}

// TransitionResult describes what a Transition call did.
type TransitionResult struct {
	Purchase *models.Purchase
	Previous enums.PurchaseStatus
	Changed  bool
}

// Repository is the purchase ledger.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository constructs a purchases repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// WithTx returns a repository whose statements run on tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx, now: r.now}
}

// CreateOrReuse returns the open purchase for (buyer, course) or creates a
// pending one. Losing an insert race to a concurrent caller returns the winner.
func (r *Repository) CreateOrReuse(ctx context.Context, buyerID, courseID uuid.UUID, amount decimal.Decimal) (*models.Purchase, bool, error) {
	if buyerID == uuid.Nil || courseID == uuid.Nil {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "buyer and course are required")
	}
	if amount.IsNegative() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "amount must not be negative")
	}

	var (
		purchase *models.Purchase
		created  bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := findOpen(tx, buyerID, courseID, true)
		if err != nil {
			return err
		}
		if existing != nil {
			purchase = existing
			return nil
		}

		now := r.now()
		row := &models.Purchase{
			ID:        uuid.New(),
			BuyerID:   buyerID,
			CourseID:  courseID,
			Amount:    amount.Round(2),
			Status:    enums.PurchaseStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		purchase = row
		created = true
		return nil
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, openPairIndex) {
			winner, findErr := findOpen(r.db.WithContext(ctx), buyerID, courseID, false)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "reload open purchase")
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create purchase")
	}
	return purchase, created, nil
}

func findOpen(db *gorm.DB, buyerID, courseID uuid.UUID, lock bool) (*models.Purchase, error) {
	q := db.Where("buyer_id = ? AND course_id = ? AND status IN ?", buyerID, courseID, enums.OpenPurchaseStatuses)
	if lock {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row models.Purchase
	if err := q.Order("created_at DESC").First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// AttachSession records the checkout session for a purchase. Re-attaching the
// same session is harmless.
func (r *Repository) AttachSession(ctx context.Context, purchaseID uuid.UUID, sessionID string) error {
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ?", purchaseID).
		Updates(map[string]any{
			"session_id": sessionID,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "attach session")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
	}
	return nil
}

// DetachSession unlinks sessionID from a pending or incomplete purchase, so
// non-payment outcomes reported for that session no longer match the row.
// A purchase that moved on or holds another session is left as is.
func (r *Repository) DetachSession(ctx context.Context, purchaseID uuid.UUID, sessionID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND session_id = ? AND status IN ?", purchaseID, sessionID,
			[]enums.PurchaseStatus{enums.PurchaseStatusPending, enums.PurchaseStatusIncomplete}).
		Updates(map[string]any{
			"session_id": nil,
			"updated_at": r.now(),
		})
	if res.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "detach session")
	}
	return nil
}

// Transition moves a purchase to target when its current status is an allowed
// source. The write is a conditional update keyed on the expected status, so a
// concurrent writer that got there first simply makes this call a no-op and the
// current row is returned. Replaying the current status never rewrites fields.
func (r *Repository) Transition(ctx context.Context, purchaseID uuid.UUID, target enums.PurchaseStatus, fields TransitionFields) (*TransitionResult, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid target status")
	}
	db := r.db.WithContext(ctx)

	current, err := r.lockByID(db, purchaseID)
	if err != nil {
		return nil, err
	}
	if current.Status == target || !CanTransition(current.Status, target) {
		return &TransitionResult{Purchase: current, Previous: current.Status}, nil
	}
	if fields.ExpectSessionID != "" && (current.SessionID == nil || *current.SessionID != fields.ExpectSessionID) {
		return &TransitionResult{Purchase: current, Previous: current.Status}, nil
	}

	now := r.now()
	updates := map[string]any{
		"status":     target,
		"updated_at": now,
	}
	switch target {
	case enums.PurchaseStatusCompleted:
		paidAt := now
		if fields.PaymentDate != nil {
			paidAt = fields.PaymentDate.UTC()
		}
		updates["payment_date"] = paidAt
	case enums.PurchaseStatusRefunded:
		refundedAt := now
		if fields.RefundDate != nil {
			refundedAt = fields.RefundDate.UTC()
		}
		updates["refund_date"] = refundedAt
	}
	if fields.PaymentIntentID != nil && *fields.PaymentIntentID != "" {
		updates["payment_intent_id"] = *fields.PaymentIntentID
	}
	if fields.FailureReason != nil {
		updates["failure_reason"] = *fields.FailureReason
	}

	q := db.Model(&models.Purchase{}).
		Where("id = ? AND status IN ?", purchaseID, AllowedSources(target))
	if fields.ExpectSessionID != "" {
		q = q.Where("session_id = ?", fields.ExpectSessionID)
	}
	res := q.Updates(updates)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "transition purchase")
	}

	latest, err := r.findByID(db, purchaseID)
	if err != nil {
		return nil, err
	}
	if res.RowsAffected == 0 {
		return &TransitionResult{Purchase: latest, Previous: latest.Status}, nil
	}
	return &TransitionResult{Purchase: latest, Previous: current.Status, Changed: true}, nil
}

// SetPaymentIntent remembers the payment intent behind a purchase so refunds
// reported against the charge can be matched later.
func (r *Repository) SetPaymentIntent(ctx context.Context, purchaseID uuid.UUID, paymentIntentID string) error {
	if paymentIntentID == "" {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("id = ? AND (payment_intent_id IS NULL OR payment_intent_id = '')", purchaseID).
		Update("payment_intent_id", paymentIntentID).Error
}

// FindByID loads a purchase or returns a NotFound error.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Purchase, error) {
	return r.findByID(r.db.WithContext(ctx), id)
}

func (r *Repository) findByID(db *gorm.DB, id uuid.UUID) (*models.Purchase, error) {
	var row models.Purchase
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase")
	}
	return &row, nil
}

func (r *Repository) lockByID(db *gorm.DB, id uuid.UUID) (*models.Purchase, error) {
	return r.findByID(db.Clauses(clause.Locking{Strength: "UPDATE"}), id)
}

// FindByExternalSession returns the oldest purchase attached to sessionID, or nil.
func (r *Repository) FindByExternalSession(ctx context.Context, sessionID string) (*models.Purchase, error) {
	rows, err := r.ListBySession(ctx, sessionID)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return &rows[0], nil
}

// ListBySession returns every purchase attached to sessionID (one per cart line).
func (r *Repository) ListBySession(ctx context.Context, sessionID string) ([]models.Purchase, error) {
	if sessionID == "" {
		return nil, nil
	}
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases by session")
	}
	return rows, nil
}

// ListByPaymentIntent returns every purchase paid through paymentIntentID.
func (r *Repository) ListByPaymentIntent(ctx context.Context, paymentIntentID string) ([]models.Purchase, error) {
	if paymentIntentID == "" {
		return nil, nil
	}
	var rows []models.Purchase
	if err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentIntentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases by payment intent")
	}
	return rows, nil
}

// ListByBuyer returns the buyer's purchases, newest first, optionally filtered by status.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID uuid.UUID, status *enums.PurchaseStatus) ([]models.Purchase, error) {
	q := r.db.WithContext(ctx).Where("buyer_id = ?", buyerID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	var rows []models.Purchase
	if err := q.Order("created_at DESC").Order("id DESC").Find(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchases")
	}
	return rows, nil
}

// CountPending counts the buyer's purchases still awaiting an outcome.
func (r *Repository) CountPending(ctx context.Context, buyerID uuid.UUID) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Where("buyer_id = ? AND status IN ?", buyerID, enums.OpenPurchaseStatuses).
		Count(&count).Error; err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count pending purchases")
	}
	return count, nil
}

// ExpireStale moves expirable purchases created before cutoff to expired and
// returns the affected rows as they were before the update. A nil buyerID sweeps every buyer. Run it inside
// a transaction so the selected rows stay locked until the update lands.
func (r *Repository) ExpireStale(ctx context.Context, buyerID *uuid.UUID, cutoff time.Time) ([]models.Purchase, error) {
	db := r.db.WithContext(ctx)

	q := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("status IN ? AND created_at < ?", Expirable, cutoff)
	if buyerID != nil {
		q = q.Where("buyer_id = ?", *buyerID)
	}
	var stale []models.Purchase
	if err := q.Find(&stale).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "select stale purchases")
	}
	if len(stale) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(stale))
	for _, row := range stale {
		ids = append(ids, row.ID)
	}
	now := r.now()
	if err := db.Model(&models.Purchase{}).
		Where("id IN ? AND status IN ?", ids, Expirable).
		Updates(map[string]any{
			"status":     enums.PurchaseStatusExpired,
			"updated_at": now,
		}).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "expire stale purchases")
	}

	return stale, nil
}

// DeleteTerminalBefore permanently removes purchases in statuses created before cutoff.
// Completed and refunded purchases back an enrollment and are never purged.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, buyerID *uuid.UUID, cutoff time.Time, statuses []enums.PurchaseStatus) (int64, error) {
	if len(statuses) == 0 {
		return 0, nil
	}
	for _, status := range statuses {
		if !status.IsTerminal() || status == enums.PurchaseStatusCompleted || status == enums.PurchaseStatusRefunded {
			return 0, pkgerrors.New(pkgerrors.CodeValidation, "only failed, cancelled or expired purchases can be purged").
				WithDetails(map[string]any{"status": status})
		}
	}

	q := r.db.WithContext(ctx).Where("status IN ? AND created_at < ?", statuses, cutoff)
	if buyerID != nil {
		q = q.Where("buyer_id = ?", *buyerID)
	}
	res := q.Delete(&models.Purchase{})
	if res.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, res.Error, "purge purchases")
	}
	return res.RowsAffected, nil
}

// ListBuyers returns distinct buyers owning purchases in statuses created before cutoff.
func (r *Repository) ListBuyers(ctx context.Context, statuses []enums.PurchaseStatus, cutoff time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.Purchase{}).
		Distinct("buyer_id").
		Where("status IN ? AND created_at < ?", statuses, cutoff).
		Pluck("buyer_id", &ids).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list buyers")
	}
	return ids, nil
}
