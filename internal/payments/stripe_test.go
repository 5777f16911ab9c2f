package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"
)

const testSigningSecret = "whsec_test_secret"

type fakeStripeAPI struct {
	created     *stripe.CheckoutSessionParams
	session     *stripe.CheckoutSession
	getErrs     []error
	getCalls    int
	expireCalls int
	expireErr   error
}

func (f *fakeStripeAPI) Currency() string { return "usd" }

func (f *fakeStripeAPI) CreateCheckoutSession(_ context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.created = params
	return &stripe.CheckoutSession{ID: "cs_test_new", URL: "https://checkout.stripe.test/cs_test_new"}, nil
}

func (f *fakeStripeAPI) GetCheckoutSession(_ context.Context, _ string) (*stripe.CheckoutSession, error) {
	f.getCalls++
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.session, nil
}

func (f *fakeStripeAPI) ExpireCheckoutSession(_ context.Context, _ string) (*stripe.CheckoutSession, error) {
	f.expireCalls++
	if f.expireErr != nil {
		return nil, f.expireErr
	}
	return &stripe.CheckoutSession{Status: stripe.CheckoutSessionStatusExpired}, nil
}

func (f *fakeStripeAPI) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	return webhook.ConstructEventWithOptions(payload, header, testSigningSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

func newTestGateway(t *testing.T, api *fakeStripeAPI) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(api)
	require.NoError(t, err)
	return gw
}

func TestCreateCheckoutSessionBuildsParams(t *testing.T) {
	api := &fakeStripeAPI{}
	gw := newTestGateway(t, api)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	gw.now = func() time.Time { return fixed }

	meta := Metadata{BuyerID: uuid.New(), Lines: []Line{{PurchaseID: uuid.New(), CourseID: uuid.New()}}}
	session, err := gw.CreateCheckoutSession(context.Background(), CheckoutSessionInput{
		LineItems:  []LineItem{{Name: "Go in Practice", Amount: decimal.RequireFromString("19.99")}},
		SuccessURL: "https://learn.test/success",
		CancelURL:  "https://learn.test/cancel",
		Metadata:   meta,
		ExpiresIn:  30 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_new", session.ID)

	require.NotNil(t, api.created)
	require.Len(t, api.created.LineItems, 1)
	assert.Equal(t, int64(1999), *api.created.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, fixed.Add(30*time.Minute).Unix(), *api.created.ExpiresAt)
	assert.Equal(t, meta.Lines[0].PurchaseID.String(), api.created.Metadata[MetaPurchaseID])
	assert.Equal(t, meta.BuyerID.String(), api.created.PaymentIntentData.Metadata[MetaBuyerID])
}

func TestCreateCheckoutSessionRequiresItems(t *testing.T) {
	gw := newTestGateway(t, &fakeStripeAPI{})
	_, err := gw.CreateCheckoutSession(context.Background(), CheckoutSessionInput{SuccessURL: "a", CancelURL: "b"})
	require.Error(t, err)
}

func TestRetrieveSessionRetriesOnce(t *testing.T) {
	api := &fakeStripeAPI{
		getErrs: []error{errors.New("connection reset")},
		session: &stripe.CheckoutSession{
			ID:            "cs_1",
			Status:        stripe.CheckoutSessionStatusComplete,
			PaymentStatus: stripe.CheckoutSessionPaymentStatusPaid,
			PaymentIntent: &stripe.PaymentIntent{ID: "pi_1"},
		},
	}
	gw := newTestGateway(t, api)

	snapshot, err := gw.RetrieveSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, 2, api.getCalls)
	assert.True(t, snapshot.Paid())
	assert.Equal(t, "pi_1", snapshot.PaymentIntentID)
}

func TestRetrieveSessionGivesUpAfterTwoAttempts(t *testing.T) {
	api := &fakeStripeAPI{getErrs: []error{errors.New("timeout"), errors.New("timeout"), nil}}
	gw := newTestGateway(t, api)

	_, err := gw.RetrieveSession(context.Background(), "cs_1")
	require.Error(t, err)
	assert.Equal(t, 2, api.getCalls)
}

func TestRetrieveSessionMissing(t *testing.T) {
	api := &fakeStripeAPI{getErrs: []error{&stripe.Error{HTTPStatusCode: 404, Code: stripe.ErrorCodeResourceMissing}}}
	gw := newTestGateway(t, api)

	_, err := gw.RetrieveSession(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 1, api.getCalls)
}

func TestExpireSessionSkipsInactiveRemote(t *testing.T) {
	api := &fakeStripeAPI{session: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusComplete}}
	gw := newTestGateway(t, api)

	err := gw.ExpireSession(context.Background(), "cs_1")
	assert.ErrorIs(t, err, ErrSessionInactive)
	assert.Zero(t, api.expireCalls)
}

func TestExpireSessionExpiresOpenRemote(t *testing.T) {
	api := &fakeStripeAPI{session: &stripe.CheckoutSession{ID: "cs_1", Status: stripe.CheckoutSessionStatusOpen}}
	gw := newTestGateway(t, api)

	require.NoError(t, gw.ExpireSession(context.Background(), "cs_1"))
	assert.Equal(t, 1, api.expireCalls)
}

func TestVerifySignatureNormalizesCompletedSession(t *testing.T) {
	gw := newTestGateway(t, &fakeStripeAPI{})
	meta := Metadata{BuyerID: uuid.New(), Lines: []Line{{PurchaseID: uuid.New(), CourseID: uuid.New()}}}
	payload := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":             "cs_1",
		"object":         "checkout.session",
		"payment_status": "paid",
		"payment_intent": "pi_1",
		"metadata":       meta.Encode(),
	})

	event, err := gw.VerifySignature(payload.Payload, payload.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventSessionCompleted, event.Kind)
	assert.Equal(t, "cs_1", event.SessionID)
	assert.Equal(t, "pi_1", event.PaymentIntentID)

	decoded, err := event.Metadata()
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)
}

func TestVerifySignatureRejectsTamperedPayload(t *testing.T) {
	gw := newTestGateway(t, &fakeStripeAPI{})
	payload := signedEvent(t, "evt_1", stripe.EventTypeCheckoutSessionExpired, map[string]any{"id": "cs_1"})

	tampered := append([]byte{}, payload.Payload...)
	tampered[len(tampered)-2] = ' '
	_, err := gw.VerifySignature(tampered, payload.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = gw.VerifySignature(payload.Payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestVerifySignatureIgnoresPartialRefund(t *testing.T) {
	gw := newTestGateway(t, &fakeStripeAPI{})
	payload := signedEvent(t, "evt_2", stripe.EventTypeChargeRefunded, map[string]any{
		"id":             "ch_1",
		"object":         "charge",
		"refunded":       false,
		"payment_intent": "pi_1",
	})
	event, err := gw.VerifySignature(payload.Payload, payload.Header)
	require.NoError(t, err)
	assert.Equal(t, EventUnknown, event.Kind)

	full := signedEvent(t, "evt_3", stripe.EventTypeChargeRefunded, map[string]any{
		"id":             "ch_1",
		"object":         "charge",
		"refunded":       true,
		"payment_intent": "pi_1",
	})
	event, err = gw.VerifySignature(full.Payload, full.Header)
	require.NoError(t, err)
	assert.Equal(t, EventRefunded, event.Kind)
	assert.Equal(t, "pi_1", event.PaymentIntentID)
}

func signedEvent(t *testing.T, id string, eventType stripe.EventType, object map[string]any) *webhook.SignedPayload {
	t.Helper()
	rawObject, err := json.Marshal(object)
	require.NoError(t, err)
	body, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        string(eventType),
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": json.RawMessage(rawObject)},
	})
	require.NoError(t, err)
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   body,
		Secret:    testSigningSecret,
		Timestamp: time.Now(),
	})
}
