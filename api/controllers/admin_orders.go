package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ucstore/ucstore-backend/api/middleware"
	"github.com/ucstore/ucstore-backend/api/responses"
	"github.com/ucstore/ucstore-backend/api/validators"
	internalorders "github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

type adminCancelRequest struct {
	Reason string `json:"reason" validate:"required,min=3"`
}

type reviewDecisionRequest struct {
	Approve bool   `json:"approve"`
	Notes   string `json:"notes,omitempty"`
}

type auditEntryResponse struct {
	ID         string    `json:"id"`
	ActorType  string    `json:"actorType"`
	ActorID    *string   `json:"actorId,omitempty"`
	FromStatus *string   `json:"fromStatus,omitempty"`
	ToStatus   *string   `json:"toStatus,omitempty"`
	Action     string    `json:"action"`
	Data       any       `json:"data,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// AdminCancelOrder cancels an order on behalf of an operator. Paid orders
// cannot be cancelled this way; they go through review or redelivery.
func AdminCancelOrder(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, orderID, err := adminAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req adminCancelRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.AdminCancel(r.Context(), orderID, adminID, req.Reason)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, adminOrderView(order))
	}
}

// AdminForceRedeliver re-arms delivery for an order that failed with payment
// captured.
func AdminForceRedeliver(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, orderID, err := adminAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ForceRedeliver(r.Context(), orderID, adminID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, adminOrderView(order))
	}
}

// AdminReviewDecision resolves a review hold: approval releases the order,
// denial cancels it.
func AdminReviewDecision(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adminID, orderID, err := adminAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req reviewDecisionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.ReviewDecision(r.Context(), orderID, adminID, req.Approve, req.Notes)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, adminOrderView(order))
	}
}

// AdminOrderHistory returns the append-only audit trail for an order.
func AdminOrderHistory(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, orderID, err := adminAndOrder(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries, err := svc.History(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order history"))
			return
		}

		out := make([]auditEntryResponse, 0, len(entries))
		for i := range entries {
			out = append(out, toAuditEntryResponse(&entries[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

func adminAndOrder(r *http.Request) (string, uuid.UUID, error) {
	adminID, ok := middleware.AdminIDFromContext(r.Context())
	if !ok {
		return "", uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "operator identity missing")
	}
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return "", uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return "", uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return adminID, orderID, nil
}

func adminOrderView(order *models.Order) map[string]any {
	view := map[string]any{
		"id":               order.ID.String(),
		"userId":           order.UserID.String(),
		"status":           order.Status.String(),
		"reviewHold":       order.ReviewHold,
		"amount":           order.Amount.StringFixed(2),
		"currency":         order.Currency.String(),
		"deliveryAttempts": order.DeliveryAttempts,
		"version":          order.Version,
	}
	if order.ExternalTransactionID != nil {
		view["externalTransactionId"] = *order.ExternalTransactionID
	}
	return view
}

func toAuditEntryResponse(entry *models.AuditEntry) auditEntryResponse {
	out := auditEntryResponse{
		ID:        entry.ID.String(),
		ActorType: entry.ActorType.String(),
		ActorID:   entry.ActorID,
		Action:    entry.Action.String(),
		CreatedAt: entry.CreatedAt,
	}
	if entry.FromStatus != nil {
		from := entry.FromStatus.String()
		out.FromStatus = &from
	}
	if entry.ToStatus != nil {
		to := entry.ToStatus.String()
		out.ToStatus = &to
	}
	if len(entry.Data) > 0 {
		out.Data = entry.Data
	}
	return out
}
