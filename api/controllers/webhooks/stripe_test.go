package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	stripewebhook "github.com/learnloop/coursemarket-backend/internal/webhooks/stripe"
	pkgerrors "github.com/learnloop/coursemarket-backend/pkg/errors"
	"github.com/learnloop/coursemarket-backend/pkg/types"
)

type fakeStripeWebhookService struct {
	calls     int
	payload   []byte
	signature string
	ack       *stripewebhook.Ack
	err       error
}

func (f *fakeStripeWebhookService) HandlePaymentEvent(_ context.Context, payload []byte, signature string) (*stripewebhook.Ack, error) {
	f.calls++
	f.payload = payload
	f.signature = signature
	return f.ack, f.err
}

func TestStripeWebhook_AcknowledgesHandledEvent(t *testing.T) {
	svc := &fakeStripeWebhookService{ack: &stripewebhook.Ack{EventID: "evt_1", Type: "checkout.session.completed", Handled: true}}
	handler := StripeWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{"id":"evt_1"}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Equal(t, 1, svc.calls)
	require.Equal(t, `{"id":"evt_1"}`, string(svc.payload))
	require.Equal(t, "t=1,v1=abc", svc.signature)

	var body struct {
		Data stripewebhook.Ack `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "evt_1", body.Data.EventID)
	require.True(t, body.Data.Handled)
}

func TestStripeWebhook_MissingSignature(t *testing.T) {
	svc := &fakeStripeWebhookService{}
	handler := StripeWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, svc.calls)
}

func TestStripeWebhook_InvalidSignature(t *testing.T) {
	svc := &fakeStripeWebhookService{err: pkgerrors.New(pkgerrors.CodeSignature, "invalid stripe signature")}
	handler := StripeWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Stripe-Signature", "t=1,v1=bad")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, string(pkgerrors.CodeSignature), body.Error.Code)
}

func TestStripeWebhook_RejectsOversizedPayload(t *testing.T) {
	svc := &fakeStripeWebhookService{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(bytes.Repeat([]byte("a"), maxWebhookBody+1)))
	req.Header.Set("Stripe-Signature", "t=1,v1=abc")
	rec := httptest.NewRecorder()
	StripeWebhook(svc, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Zero(t, svc.calls)
	var body types.ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "webhook payload too large", body.Error.Message)
}
