package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/learnloop/coursemarket-backend/internal/payments"
	"github.com/learnloop/coursemarket-backend/internal/purchases"
	"github.com/learnloop/coursemarket-backend/internal/reconciliation"
	"github.com/learnloop/coursemarket-backend/internal/users"
	"github.com/learnloop/coursemarket-backend/pkg/db/models"
	"github.com/learnloop/coursemarket-backend/pkg/enums"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/logger"
	"github.com/learnloop/coursemarket-backend/pkg/outbox"
)

const maxCartSize = 20

type courseLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Course, error)
	FindByIDs(ctx context.Context, ids []uuid.UUID) ([]models.Course, error)
}

type buyerLoader interface {
	FindBuyer(ctx context.Context, id uuid.UUID) (*users.Buyer, error)
}

type enrollmentChecker interface {
	IsEnrolled(ctx context.Context, buyerID, courseID uuid.UUID) (bool, error)
}

type reconciler interface {
	Apply(ctx context.Context, outcome reconciliation.Outcome) (*reconciliation.Result, error)
}

type buyerSweeper interface {
	SweepBuyer(ctx context.Context, buyerID uuid.UUID) error
}

// InitiateResult is returned when a checkout session is ready for the buyer.
type InitiateResult struct {
	PurchaseID uuid.UUID `json:"purchase_id"`
	SessionID  string    `json:"session_id"`
	SessionURL string    `json:"session_url"`
}

// CartInitiateResult is InitiateResult for several courses in one session.
type CartInitiateResult struct {
	PurchaseIDs []uuid.UUID `json:"purchase_ids"`
	SessionID   string      `json:"session_id"`
	SessionURL  string      `json:"session_url"`
}

// PollResult reports where a session's purchases stand after reconciling.
type PollResult struct {
	Resolved       bool                    `json:"resolved"`
	PurchaseStatus enums.PurchaseStatus    `json:"purchase_status"`
	Purchases      []purchases.PurchaseDTO `json:"purchases"`
}

// Service is the buyer and operator surface of the purchase pipeline.
type Service interface {
	InitiatePurchase(ctx context.Context, buyerID, courseID uuid.UUID) (*InitiateResult, error)
	InitiateCartPurchase(ctx context.Context, buyerID uuid.UUID, courseIDs []uuid.UUID) (*CartInitiateResult, error)
	PollAndReconcile(ctx context.Context, buyerID uuid.UUID, sessionID string) (*PollResult, error)
	CancelPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (enums.PurchaseStatus, error)
	RetryPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*InitiateResult, error)
	ListPurchases(ctx context.Context, buyerID uuid.UUID, status *enums.PurchaseStatus) ([]purchases.PurchaseDTO, error)
	PendingCount(ctx context.Context, buyerID uuid.UUID) (int64, error)
	AdminForceComplete(ctx context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error)
	AdminRefund(ctx context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	Purchases      *purchases.Repository
	Courses        courseLoader
	Users          buyerLoader
	Enrollments    enrollmentChecker
	Gateway        payments.Gateway
	Reconciler     reconciler
	Sweeper        buyerSweeper
	Logger         *logger.Logger
	SuccessURL     string
	CancelURL      string
	SessionTimeout time.Duration
}

type service struct {
	purchases   *purchases.Repository
	courses     courseLoader
	users       buyerLoader
	enrollments enrollmentChecker
	gateway     payments.Gateway
	reconciler  reconciler
	sweeper     buyerSweeper
	logg        *logger.Logger

	successURL     string
	cancelURL      string
	sessionTimeout time.Duration
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	switch {
	case params.Purchases == nil:
		return nil, fmt.Errorf("purchases repository required")
	case params.Courses == nil:
		return nil, fmt.Errorf("courses repository required")
	case params.Users == nil:
		return nil, fmt.Errorf("users repository required")
	case params.Enrollments == nil:
		return nil, fmt.Errorf("enrollment store required")
	case params.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case params.Reconciler == nil:
		return nil, fmt.Errorf("reconciler required")
	case params.SuccessURL == "" || params.CancelURL == "":
		return nil, fmt.Errorf("checkout success and cancel urls required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{
		purchases:      params.Purchases,
		courses:        params.Courses,
		users:          params.Users,
		enrollments:    params.Enrollments,
		gateway:        params.Gateway,
		reconciler:     params.Reconciler,
		sweeper:        params.Sweeper,
		logg:           logg,
		successURL:     params.SuccessURL,
		cancelURL:      params.CancelURL,
		sessionTimeout: params.SessionTimeout,
	}, nil
}

func (s *service) InitiatePurchase(ctx context.Context, buyerID, courseID uuid.UUID) (*InitiateResult, error) {
	course, err := s.purchasableCourse(ctx, buyerID, courseID)
	if err != nil {
		return nil, err
	}
	buyer, err := s.users.FindBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	purchase, created, err := s.purchases.CreateOrReuse(ctx, buyerID, courseID, EffectivePrice(course.Price, course.Discount))
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID.String())

	if !created {
		if purchase.Status == enums.PurchaseStatusProcessing {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this course is already processing")
		}
		reused, err := s.reuseOpenSession(ctx, purchase)
		if err != nil {
			return nil, err
		}
		if reused != nil {
			return reused, nil
		}
		if purchase, err = s.retireSession(ctx, purchase, course, nil); err != nil {
			return nil, err
		}
	}

	return s.openSession(ctx, buyer, purchase, course)
}

// reuseOpenSession returns the purchase's current session when the buyer can
// still complete it. A nil result with no error means a new session is needed.
func (s *service) reuseOpenSession(ctx context.Context, purchase *models.Purchase) (*InitiateResult, error) {
	if purchase.SessionID == nil || *purchase.SessionID == "" {
		return nil, nil
	}
	snapshot, err := s.gateway.RetrieveSession(ctx, *purchase.SessionID)
	switch {
	case errors.Is(err, payments.ErrSessionNotFound):
		return nil, nil
	case err != nil:
		s.logg.Warn(s.logg.WithSessionID(ctx, *purchase.SessionID), "could not read existing checkout session")
		return nil, dependencyError(err, "read existing checkout session")
	}
	if snapshot.Status != payments.SessionStatusOpen || snapshot.URL == "" || snapshot.Metadata.IsCart {
		return nil, nil
	}
	return &InitiateResult{PurchaseID: purchase.ID, SessionID: snapshot.ID, SessionURL: snapshot.URL}, nil
}

// retireSession closes the purchase's current session before a new one is
// opened for it, so the buyer never holds two payable sessions for a course.
// The session is unlinked once closed and the purchase re-read: closing can
// reconcile a payment, and a purchase the old session closed is replaced by a
// fresh one. retired remembers sessions already closed by this call.
func (s *service) retireSession(ctx context.Context, purchase *models.Purchase, course *models.Course, retired map[string]bool) (*models.Purchase, error) {
	if purchase.SessionID == nil || *purchase.SessionID == "" {
		return purchase, nil
	}
	sessionID := *purchase.SessionID
	if !retired[sessionID] {
		if err := s.closeSession(ctx, purchase); err != nil {
			return nil, dependencyError(err, "close previous checkout session")
		}
		if retired != nil {
			retired[sessionID] = true
		}
	}
	if err := s.purchases.DetachSession(ctx, purchase.ID, sessionID); err != nil {
		return nil, err
	}
	current, err := s.purchases.FindByID(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}

	switch current.Status {
	case enums.PurchaseStatusPending, enums.PurchaseStatusIncomplete:
		return current, nil
	case enums.PurchaseStatusProcessing:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this course is already processing").
			WithDetails(map[string]any{"course_id": course.ID})
	case enums.PurchaseStatusCompleted:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "already enrolled in this course").
			WithDetails(map[string]any{"course_id": course.ID})
	}
	s.logg.Info(s.logg.WithSessionID(ctx, sessionID), "previous checkout session closed the purchase, opening a fresh one")
	fresh, _, err := s.purchases.CreateOrReuse(ctx, current.BuyerID, course.ID, EffectivePrice(course.Price, course.Discount))
	return fresh, err
}

// dependencyError keeps typed errors and marks anything else as a payment
// provider failure.
func dependencyError(err error, msg string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}

func (s *service) openSession(ctx context.Context, buyer *users.Buyer, purchase *models.Purchase, course *models.Course) (*InitiateResult, error) {
	input := payments.CheckoutSessionInput{
		LineItems:     []payments.LineItem{lineItem(course, purchase)},
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		CustomerEmail: buyer.Email,
		ExpiresIn:     s.sessionTimeout,
		Metadata: payments.Metadata{
			BuyerID: buyer.ID,
			Lines:   []payments.Line{{PurchaseID: purchase.ID, CourseID: course.ID}},
		},
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := s.purchases.AttachSession(ctx, purchase.ID, session.ID); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithSessionID(ctx, session.ID), "checkout session created")
	return &InitiateResult{PurchaseID: purchase.ID, SessionID: session.ID, SessionURL: session.URL}, nil
}

func (s *service) InitiateCartPurchase(ctx context.Context, buyerID uuid.UUID, courseIDs []uuid.UUID) (*CartInitiateResult, error) {
	ids := dedupe(courseIDs)
	if len(ids) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one course is required")
	}
	if len(ids) > maxCartSize {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("a cart holds at most %d courses", maxCartSize))
	}

	rows, err := s.courses.FindByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]models.Course, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	courses := make([]models.Course, 0, len(ids))
	for _, id := range ids {
		course, ok := byID[id]
		if !ok {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "course not found").
				WithDetails(map[string]any{"course_id": id})
		}
		if err := s.checkPurchasable(ctx, buyerID, &course); err != nil {
			return nil, err
		}
		courses = append(courses, course)
	}

	buyer, err := s.users.FindBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}

	meta := payments.Metadata{BuyerID: buyerID, IsCart: true}
	items := make([]payments.LineItem, 0, len(courses))
	purchaseIDs := make([]uuid.UUID, 0, len(courses))
	retired := map[string]bool{}
	for i := range courses {
		course := &courses[i]
		purchase, created, err := s.purchases.CreateOrReuse(ctx, buyerID, course.ID, EffectivePrice(course.Price, course.Discount))
		if err != nil {
			return nil, err
		}
		if purchase.Status == enums.PurchaseStatusProcessing {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "a payment for this course is already processing").
				WithDetails(map[string]any{"course_id": course.ID})
		}
		if !created {
			if purchase, err = s.retireSession(ctx, purchase, course, retired); err != nil {
				return nil, err
			}
		}
		items = append(items, lineItem(course, purchase))
		meta.Lines = append(meta.Lines, payments.Line{PurchaseID: purchase.ID, CourseID: course.ID})
		purchaseIDs = append(purchaseIDs, purchase.ID)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutSessionInput{
		LineItems:     items,
		SuccessURL:    s.successURL,
		CancelURL:     s.cancelURL,
		CustomerEmail: buyer.Email,
		ExpiresIn:     s.sessionTimeout,
		Metadata:      meta,
	})
	if err != nil {
		return nil, err
	}
	for _, id := range purchaseIDs {
		if err := s.purchases.AttachSession(ctx, id, session.ID); err != nil {
			return nil, err
		}
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id": session.ID,
		"lines":      len(purchaseIDs),
	}), "cart checkout session created")

	return &CartInitiateResult{PurchaseIDs: purchaseIDs, SessionID: session.ID, SessionURL: session.URL}, nil
}

func (s *service) PollAndReconcile(ctx context.Context, buyerID uuid.UUID, sessionID string) (*PollResult, error) {
	ctx = s.logg.WithSessionID(ctx, sessionID)
	owned, err := s.ownedSessionPurchases(ctx, buyerID, sessionID)
	if err != nil {
		return nil, err
	}

	if _, err := s.reconcileSession(ctx, sessionID, reconciliation.SourcePoll); err != nil {
		return nil, err
	}

	result := &PollResult{Purchases: make([]purchases.PurchaseDTO, 0, len(owned))}
	resolved := true
	for _, row := range owned {
		current, err := s.purchases.FindByID(ctx, row.ID)
		if err != nil {
			return nil, err
		}
		if !current.Status.IsTerminal() {
			resolved = false
		}
		result.Purchases = append(result.Purchases, purchases.FromModel(*current))
	}
	result.Resolved = resolved
	result.PurchaseStatus = result.Purchases[0].Status
	return result, nil
}

// reconcileSession reads the remote session and applies whatever outcome it
// implies. An open session changes nothing and reports no target.
func (s *service) reconcileSession(ctx context.Context, sessionID string, source reconciliation.Source) (enums.PurchaseStatus, error) {
	snapshot, err := s.gateway.RetrieveSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, payments.ErrSessionNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
		}
		return "", err
	}

	target, ok := TargetForSnapshot(snapshot)
	if !ok {
		return "", nil
	}

	outcome := reconciliation.Outcome{
		Source:          source,
		Target:          target,
		SessionID:       sessionID,
		PaymentIntentID: snapshot.PaymentIntentID,
	}
	if len(snapshot.Metadata.Lines) > 0 {
		meta := snapshot.Metadata
		outcome.Metadata = &meta
	}
	if _, err := s.reconciler.Apply(ctx, outcome); err != nil {
		// per-line failures are already logged; the buyer still gets current state
		s.logg.Warn(ctx, "session reconciliation finished with errors")
	}
	return target, nil
}

// TargetForSnapshot maps a remote session to the purchase status it implies.
func TargetForSnapshot(snapshot *payments.SessionSnapshot) (enums.PurchaseStatus, bool) {
	switch snapshot.Status {
	case payments.SessionStatusComplete:
		if snapshot.Paid() {
			return enums.PurchaseStatusCompleted, true
		}
		return enums.PurchaseStatusProcessing, true
	case payments.SessionStatusExpired:
		return enums.PurchaseStatusExpired, true
	default:
		return "", false
	}
}

func (s *service) CancelPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (enums.PurchaseStatus, error) {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return "", err
	}
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID.String())

	if purchase.Status == enums.PurchaseStatusCancelled {
		return purchase.Status, nil
	}
	if !purchases.CanTransition(purchase.Status, enums.PurchaseStatusCancelled) {
		return "", pkgerrors.New(pkgerrors.CodeStateConflict, "purchase can no longer be cancelled").
			WithDetails(map[string]any{"status": purchase.Status})
	}

	if err := s.closeSession(ctx, purchase); err != nil {
		return "", err
	}

	res, err := s.reconciler.Apply(ctx, reconciliation.Outcome{
		Source:      reconciliation.SourceManual,
		Target:      enums.PurchaseStatusCancelled,
		PurchaseIDs: []uuid.UUID{purchase.ID},
		Actor:       &outbox.ActorRef{UserID: buyerID, Role: string(enums.UserRoleStudent)},
	})
	if err != nil {
		return "", err
	}
	status, err := s.lineStatus(ctx, res, purchase.ID)
	if err != nil {
		return "", err
	}
	if status != enums.PurchaseStatusCancelled {
		return status, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase was resolved before it could be cancelled").
			WithDetails(map[string]any{"status": status})
	}
	return status, nil
}

func (s *service) RetryPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*InitiateResult, error) {
	purchase, err := s.ownedPurchase(ctx, buyerID, purchaseID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPurchaseID(ctx, purchase.ID.String())

	if purchase.Status != enums.PurchaseStatusPending && purchase.Status != enums.PurchaseStatusIncomplete {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only pending purchases can be retried").
			WithDetails(map[string]any{"status": purchase.Status})
	}

	if err := s.closeSession(ctx, purchase); err != nil {
		return nil, err
	}
	if purchase.SessionID != nil {
		if err := s.purchases.DetachSession(ctx, purchase.ID, *purchase.SessionID); err != nil {
			return nil, err
		}
	}
	purchase, err = s.purchases.FindByID(ctx, purchase.ID)
	if err != nil {
		return nil, err
	}
	if purchase.Status != enums.PurchaseStatusPending && purchase.Status != enums.PurchaseStatusIncomplete {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "purchase was resolved before it could be retried").
			WithDetails(map[string]any{"status": purchase.Status})
	}

	course, err := s.courses.FindByID(ctx, purchase.CourseID)
	if err != nil {
		return nil, err
	}
	buyer, err := s.users.FindBuyer(ctx, buyerID)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, buyer, purchase, course)
}

// closeSession expires the purchase's remote session. A session that is
// already inactive is reconciled first so a payment that went through is not
// thrown away.
func (s *service) closeSession(ctx context.Context, purchase *models.Purchase) error {
	if purchase.SessionID == nil || *purchase.SessionID == "" {
		return nil
	}
	sessionID := *purchase.SessionID
	err := s.gateway.ExpireSession(ctx, sessionID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, payments.ErrSessionInactive):
		_, err := s.reconcileSession(ctx, sessionID, reconciliation.SourcePoll)
		if err != nil && !pkgerrors.Is(err, pkgerrors.CodeNotFound) {
			return err
		}
		return nil
	default:
		return err
	}
}

func (s *service) ListPurchases(ctx context.Context, buyerID uuid.UUID, status *enums.PurchaseStatus) ([]purchases.PurchaseDTO, error) {
	if s.sweeper != nil {
		if err := s.sweeper.SweepBuyer(ctx, buyerID); err != nil {
			s.logg.Error(s.logg.WithUserID(ctx, buyerID.String()), "buyer sweep failed", err)
		}
	}

	rows, err := s.purchases.ListByBuyer(ctx, buyerID, status)
	if err != nil {
		return nil, err
	}
	courseIDs := make([]uuid.UUID, 0, len(rows))
	for _, row := range rows {
		courseIDs = append(courseIDs, row.CourseID)
	}
	titles := map[uuid.UUID]string{}
	if courses, err := s.courses.FindByIDs(ctx, dedupe(courseIDs)); err == nil {
		for _, course := range courses {
			titles[course.ID] = course.Title
		}
	}

	out := make([]purchases.PurchaseDTO, 0, len(rows))
	for _, row := range rows {
		dto := purchases.FromModel(row)
		dto.CourseTitle = titles[row.CourseID]
		out = append(out, dto)
	}
	return out, nil
}

func (s *service) PendingCount(ctx context.Context, buyerID uuid.UUID) (int64, error) {
	return s.purchases.CountPending(ctx, buyerID)
}

func (s *service) AdminForceComplete(ctx context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error) {
	return s.adminApply(ctx, actor, purchaseID, enums.PurchaseStatusCompleted)
}

func (s *service) AdminRefund(ctx context.Context, actor outbox.ActorRef, purchaseID uuid.UUID) (*purchases.PurchaseDTO, error) {
	return s.adminApply(ctx, actor, purchaseID, enums.PurchaseStatusRefunded)
}

func (s *service) adminApply(ctx context.Context, actor outbox.ActorRef, purchaseID uuid.UUID, target enums.PurchaseStatus) (*purchases.PurchaseDTO, error) {
	ctx = s.logg.WithPurchaseID(ctx, purchaseID.String())
	if _, err := s.purchases.FindByID(ctx, purchaseID); err != nil {
		return nil, err
	}

	res, err := s.reconciler.Apply(ctx, reconciliation.Outcome{
		Source:      reconciliation.SourceManual,
		Target:      target,
		PurchaseIDs: []uuid.UUID{purchaseID},
		Actor:       &actor,
	})
	if err != nil {
		return nil, err
	}
	if _, err := s.lineStatus(ctx, res, purchaseID); err != nil {
		return nil, err
	}

	current, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if current.Status != target {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("purchase cannot move to %s", target)).
			WithDetails(map[string]any{"status": current.Status})
	}
	dto := purchases.FromModel(*current)
	return &dto, nil
}

func (s *service) lineStatus(ctx context.Context, res *reconciliation.Result, purchaseID uuid.UUID) (enums.PurchaseStatus, error) {
	if res != nil {
		for _, line := range res.Lines {
			if line.PurchaseID == purchaseID && line.Status != "" {
				return line.Status, nil
			}
		}
	}
	current, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return "", err
	}
	return current.Status, nil
}

func (s *service) purchasableCourse(ctx context.Context, buyerID, courseID uuid.UUID) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		return nil, err
	}
	if err := s.checkPurchasable(ctx, buyerID, course); err != nil {
		return nil, err
	}
	return course, nil
}

func (s *service) checkPurchasable(ctx context.Context, buyerID uuid.UUID, course *models.Course) error {
	details := map[string]any{"course_id": course.ID}
	if !course.IsPublished {
		return pkgerrors.New(pkgerrors.CodeValidation, "course is not available for purchase").WithDetails(details)
	}
	if course.EducatorID == buyerID {
		return pkgerrors.New(pkgerrors.CodeValidation, "educators cannot purchase their own course").WithDetails(details)
	}
	enrolled, err := s.enrollments.IsEnrolled(ctx, buyerID, course.ID)
	if err != nil {
		return err
	}
	if enrolled {
		return pkgerrors.New(pkgerrors.CodeConflict, "already enrolled in this course").WithDetails(details)
	}
	return nil
}

// ownedPurchase hides other buyers' purchases behind NotFound.
func (s *service) ownedPurchase(ctx context.Context, buyerID, purchaseID uuid.UUID) (*models.Purchase, error) {
	purchase, err := s.purchases.FindByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.BuyerID != buyerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "purchase not found")
	}
	return purchase, nil
}

func (s *service) ownedSessionPurchases(ctx context.Context, buyerID uuid.UUID, sessionID string) ([]models.Purchase, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}
	rows, err := s.purchases.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	owned := rows[:0]
	for _, row := range rows {
		if row.BuyerID == buyerID {
			owned = append(owned, row)
		}
	}
	if len(owned) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}
	return owned, nil
}

func lineItem(course *models.Course, purchase *models.Purchase) payments.LineItem {
	item := payments.LineItem{Name: course.Title, Amount: purchase.Amount}
	if course.ThumbnailURL != nil {
		item.ImageURL = *course.ThumbnailURL
	}
	return item
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
