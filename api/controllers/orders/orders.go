package orders

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ucstore/ucstore-backend/api/responses"
	"github.com/ucstore/ucstore-backend/api/validators"
	internalorders "github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

const maxListLimit = 100

type createOrderRequest struct {
	UserID        string  `json:"userId" validate:"required,uuid"`
	ProductID     string  `json:"productId" validate:"required,uuid"`
	Quantity      int     `json:"quantity" validate:"required,min=1,max=10"`
	Currency      string  `json:"currency" validate:"required,oneof=USD EUR RUB"`
	PaymentMethod string  `json:"paymentMethod" validate:"required"`
	PromoCode     *string `json:"promoCode,omitempty"`
}

type cancelOrderRequest struct {
	UserID string `json:"userId" validate:"required,uuid"`
}

type orderResponse struct {
	ID                    string     `json:"id"`
	UserID                string     `json:"userId"`
	ProductID             string     `json:"productId"`
	Quantity              int        `json:"quantity"`
	Amount                string     `json:"amount"`
	DiscountAmount        string     `json:"discountAmount"`
	BonusUC               int        `json:"bonusUc"`
	Currency              string     `json:"currency"`
	PaymentMethod         string     `json:"paymentMethod"`
	Status                string     `json:"status"`
	ReviewHold            bool       `json:"reviewHold"`
	DeliveryAttempts      int        `json:"deliveryAttempts"`
	ExternalTransactionID *string    `json:"externalTransactionId,omitempty"`
	DeliveryPayload       *string    `json:"deliveryPayload,omitempty"`
	Version               int64      `json:"version"`
	PaidAt                *time.Time `json:"paidAt,omitempty"`
	DeliveredAt           *time.Time `json:"deliveredAt,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
}

func toOrderResponse(order *models.Order) orderResponse {
	return orderResponse{
		ID:                    order.ID.String(),
		UserID:                order.UserID.String(),
		ProductID:             order.ProductID.String(),
		Quantity:              order.Quantity,
		Amount:                order.Amount.StringFixed(2),
		DiscountAmount:        order.DiscountAmount.StringFixed(2),
		BonusUC:               order.BonusUC,
		Currency:              order.Currency.String(),
		PaymentMethod:         order.PaymentMethod,
		Status:                order.Status.String(),
		ReviewHold:            order.ReviewHold,
		DeliveryAttempts:      order.DeliveryAttempts,
		ExternalTransactionID: order.ExternalTransactionID,
		DeliveryPayload:       order.DeliveryPayload,
		Version:               order.Version,
		PaidAt:                order.PaidAt,
		DeliveredAt:           order.DeliveredAt,
		CreatedAt:             order.CreatedAt,
	}
}

// Create opens a new order for a user and optionally applies a promo code.
func Create(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		var req createOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, _ := uuid.Parse(req.UserID)
		productID, _ := uuid.Parse(req.ProductID)
		currency, err := enums.ParseCurrency(req.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}

		order, err := svc.Create(r.Context(), internalorders.CreateInput{
			UserID:        userID,
			ProductID:     productID,
			Quantity:      req.Quantity,
			Currency:      currency,
			PaymentMethod: strings.TrimSpace(req.PaymentMethod),
			PromoCode:     req.PromoCode,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}

// Get returns one order by id.
func Get(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.Get(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// List returns a user's most recent orders.
func List(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rawUserID := strings.TrimSpace(r.URL.Query().Get("userId"))
		if rawUserID == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "userId query parameter is required"))
			return
		}
		userID, err := uuid.Parse(rawUserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, maxListLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orders, err := svc.ListForUser(r.Context(), userID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders"))
			return
		}

		out := make([]orderResponse, 0, len(orders))
		for i := range orders {
			out = append(out, toOrderResponse(&orders[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Cancel lets the purchasing user abandon an order that has not started
// payment processing.
func Cancel(svc internalorders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := parseOrderID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		userID, _ := uuid.Parse(req.UserID)

		order, err := svc.UserCancel(r.Context(), orderID, userID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

func parseOrderID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}
