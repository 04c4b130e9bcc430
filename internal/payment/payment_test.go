package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFulfiller struct {
	seen   map[string]bool
	grants []string
}

func newFakeFulfiller() *fakeFulfiller {
	return &fakeFulfiller{seen: make(map[string]bool)}
}

func (f *fakeFulfiller) MarkEventProcessed(_ context.Context, eventID string) (bool, error) {
	if f.seen[eventID] {
		return false, nil
	}
	f.seen[eventID] = true
	return true, nil
}

func (f *fakeFulfiller) Grant(_ context.Context, userID, mysteryID, _ string) error {
	f.grants = append(f.grants, userID+"/"+mysteryID)
	return nil
}

func post(handler http.HandlerFunc, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payment", strings.NewReader(body))
	handler(rec, req)
	return rec
}

const checkoutEvent = `{
	"id": "evt_001",
	"type": "checkout.completed",
	"data": {"user_id": "u-1", "mystery_id": "case-hl"}
}`

func TestWebhook_FulfillsOnce(t *testing.T) {
	f := newFakeFulfiller()
	h := WebhookHandler(f, zap.NewNop())

	rec := post(h, checkoutEvent)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"u-1/case-hl"}, f.grants)
}

func TestWebhook_RedeliveryIsIdempotent(t *testing.T) {
	f := newFakeFulfiller()
	h := WebhookHandler(f, zap.NewNop())

	for i := 0; i < 3; i++ {
		rec := post(h, checkoutEvent)
		require.Equal(t, http.StatusOK, rec.Code, "redelivery must still be acknowledged")
	}
	require.Len(t, f.grants, 1, "grant runs exactly once per event id")
}

func TestWebhook_UnknownTypeAcknowledgedWithoutGrant(t *testing.T) {
	f := newFakeFulfiller()
	h := WebhookHandler(f, zap.NewNop())

	rec := post(h, `{"id": "evt_002", "type": "invoice.voided", "data": {}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, f.grants)
}

func TestWebhook_RejectsMalformedBody(t *testing.T) {
	f := newFakeFulfiller()
	h := WebhookHandler(f, zap.NewNop())

	require.Equal(t, http.StatusBadRequest, post(h, `not json`).Code)
	require.Equal(t, http.StatusBadRequest, post(h, `{"type": "checkout.completed"}`).Code, "missing event id")
}
