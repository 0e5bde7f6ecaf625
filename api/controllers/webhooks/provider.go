package webhooks

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ucstore/ucstore-backend/api/responses"
	"github.com/ucstore/ucstore-backend/internal/payments"
	"github.com/ucstore/ucstore-backend/internal/providers"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
	"github.com/ucstore/ucstore-backend/pkg/metrics"
)

// dedupTTL bounds the fast-path window; the database ledger stays the
// authoritative duplicate check after it lapses.
const dedupTTL = 24 * time.Hour

// PaymentIngestor applies a verified provider event to the order ledger.
type PaymentIngestor interface {
	Ingest(ctx context.Context, event *providers.PaymentEvent) (*payments.IngestResult, error)
}

// DedupStore short-circuits provider retries that were already durably
// recorded, sparing the database a round trip. Backed by redis in
// production; any lookup failure falls through to the ledger.
type DedupStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	IdempotencyKey(scope, id string) string
}

type webhookAck struct {
	Status      string `json:"status"`
	Duplicate   bool   `json:"duplicate"`
	OrderStatus string `json:"orderStatus,omitempty"`
}

// ProviderWebhook receives payment notifications. Verification failures are
// rejected before anything is persisted; everything past the trust boundary
// is durably recorded before the 200 goes out, so providers may retry freely.
func ProviderWebhook(registry *providers.Registry, svc PaymentIngestor, dedup DedupStore, wm *metrics.WebhookMetrics, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if registry == nil || svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		name := strings.TrimSpace(chi.URLParam(r, "provider"))
		if logg != nil {
			ctx = logg.WithProvider(ctx, name)
		}

		adapter, err := registry.Get(name)
		if err != nil {
			wm.IncRejected(name, "unknown_provider")
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := strings.TrimSpace(r.Header.Get(providers.SignatureHeader(name)))
		if signature == "" || !adapter.Verify(payload, signature) {
			wm.IncRejected(name, "untrusted")
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUntrustedPayload, "signature verification failed"))
			return
		}

		event, err := adapter.Normalize(payload)
		if err != nil {
			wm.IncRejected(name, "malformed")
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithOrderID(ctx, event.OrderID.String())
		}

		var dedupKey string
		if dedup != nil {
			dedupKey = dedup.IdempotencyKey("webhooks", name+":"+event.ExternalTransactionID)
			if status, err := dedup.Get(ctx, dedupKey); err == nil && status != "" {
				wm.IncDuplicate(name)
				responses.WriteSuccess(w, webhookAck{Status: "recorded", Duplicate: true, OrderStatus: status})
				return
			}
		}

		result, err := svc.Ingest(ctx, event)
		if err != nil {
			if pkgerrors.HasCode(err, pkgerrors.CodeMalformedPayload) {
				wm.IncRejected(name, "malformed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if result.Duplicate {
			wm.IncDuplicate(name)
		} else {
			wm.IncReceived(name)
		}

		ack := webhookAck{Status: "recorded", Duplicate: result.Duplicate}
		if result.Order != nil {
			ack.OrderStatus = result.Order.Status.String()
		}
		if dedup != nil && dedupKey != "" {
			// Best effort: the ledger's unique constraint remains the source
			// of truth when the marker cannot be written.
			if _, err := dedup.SetNX(ctx, dedupKey, ack.OrderStatus, dedupTTL); err != nil && logg != nil {
				logg.Warn(ctx, "webhook dedup marker write failed: "+err.Error())
			}
		}
		responses.WriteSuccess(w, ack)
	}
}
