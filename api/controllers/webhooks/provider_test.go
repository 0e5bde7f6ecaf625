package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ucstore/ucstore-backend/internal/payments"
	"github.com/ucstore/ucstore-backend/internal/providers"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/types"
)

const testSecret = "cardpro-secret"

type fakeIngestor struct {
	result *payments.IngestResult
	err    error
	events []*providers.PaymentEvent
}

func (f *fakeIngestor) Ingest(ctx context.Context, event *providers.PaymentEvent) (*payments.IngestResult, error) {
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &payments.IngestResult{
		Order: &models.Order{ID: event.OrderID, Status: enums.OrderStatusProcessing},
	}, nil
}

func testRegistry() *providers.Registry {
	return providers.NewRegistry(config.ProvidersConfig{CardProSecret: testSecret})
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func cardproBody(orderID uuid.UUID, status string) []byte {
	payload := map[string]string{
		"transaction_id": "tx-100",
		"order_id":       orderID.String(),
		"amount":         "10.00",
		"currency":       "USD",
		"status":         status,
	}
	raw, _ := json.Marshal(payload)
	return raw
}

func postWebhook(t *testing.T, handler http.HandlerFunc, provider string, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	router := chi.NewRouter()
	router.Post("/webhooks/{provider}", handler)

	req := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/webhooks/%s", provider), bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Cardpro-Signature", signature)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestProviderWebhook_AcceptsVerifiedEvent(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := cardproBody(uuid.New(), "pending")
	w := postWebhook(t, handler, "cardpro", body, signBody(body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if len(ingestor.events) != 1 {
		t.Fatalf("expected 1 ingested event, got %d", len(ingestor.events))
	}
	if ingestor.events[0].Outcome != enums.PaymentOutcomeInitiated {
		t.Fatalf("outcome = %s, want initiated", ingestor.events[0].Outcome)
	}
}

func TestProviderWebhook_RejectsBadSignature(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := cardproBody(uuid.New(), "captured")
	w := postWebhook(t, handler, "cardpro", body, "deadbeef")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if len(ingestor.events) != 0 {
		t.Fatal("unverified payload must never reach the ledger")
	}
}

func TestProviderWebhook_RejectsMissingSignature(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := cardproBody(uuid.New(), "captured")
	w := postWebhook(t, handler, "cardpro", body, "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestProviderWebhook_UnknownProvider(t *testing.T) {
	handler := ProviderWebhook(testRegistry(), &fakeIngestor{}, nil, nil, nil)

	body := cardproBody(uuid.New(), "captured")
	w := postWebhook(t, handler, "nopay", body, signBody(body))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestProviderWebhook_MalformedPayload(t *testing.T) {
	ingestor := &fakeIngestor{}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := []byte(`{"transaction_id":"tx-1","order_id":"not-a-uuid"}`)
	w := postWebhook(t, handler, "cardpro", body, signBody(body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if len(ingestor.events) != 0 {
		t.Fatal("malformed payload must not be ingested")
	}
}

func TestProviderWebhook_DuplicateAcked(t *testing.T) {
	orderID := uuid.New()
	ingestor := &fakeIngestor{result: &payments.IngestResult{
		Duplicate: true,
		Order:     &models.Order{ID: orderID, Status: enums.OrderStatusDelivered},
	}}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := cardproBody(orderID, "captured")
	w := postWebhook(t, handler, "cardpro", body, signBody(body))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	data := envelope.Data.(map[string]any)
	if data["duplicate"] != true {
		t.Fatalf("expected duplicate ack, got %v", data)
	}
}

type fakeDedup struct {
	values map[string]string
}

func (f *fakeDedup) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeDedup) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := f.values[key]; ok {
		return false, nil
	}
	f.values[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeDedup) IdempotencyKey(scope, id string) string {
	return "ucstore:idempotency:" + scope + ":" + id
}

func TestProviderWebhook_DedupFastPathSkipsLedger(t *testing.T) {
	orderID := uuid.New()
	ingestor := &fakeIngestor{result: &payments.IngestResult{
		Order: &models.Order{ID: orderID, Status: enums.OrderStatusProcessing},
	}}
	dedup := &fakeDedup{values: map[string]string{}}
	handler := ProviderWebhook(testRegistry(), ingestor, dedup, nil, nil)

	body := cardproBody(orderID, "pending")
	signature := signBody(body)

	if w := postWebhook(t, handler, "cardpro", body, signature); w.Code != http.StatusOK {
		t.Fatalf("first delivery: status = %d, body %s", w.Code, w.Body.String())
	}
	if len(ingestor.events) != 1 {
		t.Fatalf("expected 1 ingested event, got %d", len(ingestor.events))
	}

	// The provider retry is answered off the marker alone.
	w := postWebhook(t, handler, "cardpro", body, signature)
	if w.Code != http.StatusOK {
		t.Fatalf("retry: status = %d, body %s", w.Code, w.Body.String())
	}
	if len(ingestor.events) != 1 {
		t.Fatalf("retry must not reach the ledger, got %d events", len(ingestor.events))
	}
	var envelope types.SuccessEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	data := envelope.Data.(map[string]any)
	if data["duplicate"] != true {
		t.Fatalf("expected duplicate ack, got %v", data)
	}
	if data["orderStatus"] != enums.OrderStatusProcessing.String() {
		t.Fatalf("expected marker status in ack, got %v", data)
	}
}

func TestProviderWebhook_UnknownOrderIsBadRequest(t *testing.T) {
	ingestor := &fakeIngestor{err: pkgerrors.New(pkgerrors.CodeMalformedPayload, "payment event references unknown order")}
	handler := ProviderWebhook(testRegistry(), ingestor, nil, nil, nil)

	body := cardproBody(uuid.New(), "captured")
	w := postWebhook(t, handler, "cardpro", body, signBody(body))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}
