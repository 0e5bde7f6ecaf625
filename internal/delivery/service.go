package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ucstore/ucstore-backend/internal/notify"
	"github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/internal/risk"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// Receipt is the fulfillment proof returned by the issuance collaborator.
type Receipt struct {
	TransferID string          `json:"transfer_id"`
	IssuedAt   time.Time       `json:"issued_at"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// Issuer is the in-game currency fulfillment collaborator. An Issue call
// always runs to a definite outcome; the orchestrator never abandons one
// mid-flight.
type Issuer interface {
	Issue(ctx context.Context, order *models.Order) (*Receipt, error)
}

// Service drives delivery for paid orders: issue, record the outcome on the
// state machine, retry with exponential backoff inside the remaining budget.
type Service interface {
	Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type service struct {
	orders   orders.Service
	issuer   Issuer
	risk     risk.Service
	notifier notify.Notifier
	logg     *logger.Logger
	cfg      config.DeliveryConfig
}

type ServiceParams struct {
	Orders   orders.Service
	Issuer   Issuer
	Risk     risk.Service
	Notifier notify.Notifier
	Logger   *logger.Logger
	Config   config.DeliveryConfig
}

func NewService(params ServiceParams) (Service, error) {
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Issuer == nil {
		return nil, fmt.Errorf("issuer required")
	}
	if params.Risk == nil {
		return nil, fmt.Errorf("risk service required")
	}
	if params.Config.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max attempts must be positive")
	}
	if params.Config.BackoffBase <= 0 {
		return nil, fmt.Errorf("backoff base must be positive")
	}
	return &service{
		orders:   params.Orders,
		issuer:   params.Issuer,
		risk:     params.Risk,
		notifier: params.Notifier,
		logg:     params.Logger,
		cfg:      params.Config,
	}, nil
}

func (s *service) Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusDelivered {
		return order, nil
	}
	if order.Status != enums.OrderStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidTransition, "only paid orders can be delivered", map[string]any{
			"order_id": order.ID.String(),
			"status":   order.Status.String(),
		})
	}
	if order.ReviewHold {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is parked for review", map[string]any{
			"order_id": order.ID.String(),
		})
	}

	// Last risk gate before value leaves the system. The delivery stage
	// reads the velocity counter without charging it.
	assessment, err := s.risk.Evaluate(ctx, risk.Input{
		UserID: order.UserID,
		Amount: order.Amount,
		Stage:  risk.StageDelivery,
	})
	if err != nil {
		return nil, err
	}
	switch assessment.Decision {
	case enums.RiskDecisionBlock:
		cancelled, err := s.orders.Transition(ctx, orders.TransitionInput{
			OrderID:         order.ID,
			Event:           orders.EventAdminCancel,
			ExpectedVersion: orders.VersionFromRead,
			ActorType:       enums.ActorTypeSystem,
			Action:          enums.AuditActionRiskBlocked,
			Data:            map[string]any{"reasons": assessment.Reasons},
		})
		if err != nil {
			return nil, err
		}
		s.notify(ctx, cancelled.Order, notify.EventOrderFailed, map[string]any{"reasons": assessment.Reasons})
		return nil, pkgerrors.New(pkgerrors.CodeRiskBlocked, "delivery blocked by risk evaluation", map[string]any{
			"order_id": order.ID.String(),
			"reasons":  assessment.Reasons,
		})
	case enums.RiskDecisionReview:
		if _, err := s.orders.HoldForReview(ctx, order.ID, assessment.Reasons); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order is parked for review", map[string]any{
			"order_id": order.ID.String(),
			"reasons":  assessment.Reasons,
		})
	}

	budget := s.cfg.MaxAttempts - order.DeliveryAttempts
	if budget <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeDeliveryFailed, "delivery retry budget exhausted", map[string]any{
			"order_id": order.ID.String(),
		})
	}

	backoff := retry.NewExponential(s.cfg.BackoffBase)
	if s.cfg.BackoffCeiling > 0 {
		backoff = retry.WithCappedDuration(s.cfg.BackoffCeiling, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(budget-1), backoff)

	var delivered *models.Order
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, attemptErr := s.attempt(ctx, order.ID)
		if attemptErr == nil {
			delivered = result
			return nil
		}
		if pkgerrors.HasCode(attemptErr, pkgerrors.CodeDeliveryFailed) && retryable(attemptErr) {
			return retry.RetryableError(attemptErr)
		}
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return delivered, nil
}

// attempt runs exactly one issuance try and records its outcome on the state
// machine before returning.
func (s *service) attempt(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	issueCtx := ctx
	if s.cfg.IssueTimeout > 0 {
		var cancel context.CancelFunc
		issueCtx, cancel = context.WithTimeout(ctx, s.cfg.IssueTimeout)
		defer cancel()
	}

	current, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	receipt, issueErr := s.issuer.Issue(issueCtx, current)
	if issueErr == nil && receipt != nil && receipt.TransferID != "" {
		if receipt.IssuedAt.IsZero() {
			receipt.IssuedAt = time.Now().UTC()
		}
		payloadBytes, err := json.Marshal(receipt)
		if err != nil {
			return nil, err
		}
		payload := string(payloadBytes)

		result, err := s.orders.Transition(ctx, orders.TransitionInput{
			OrderID:         orderID,
			Event:           orders.EventDeliverySucceeded,
			ExpectedVersion: orders.VersionFromRead,
			ActorType:       enums.ActorTypeSystem,
			DeliveryPayload: &payload,
			Data:            map[string]any{"transfer_id": receipt.TransferID},
		})
		if err != nil {
			return nil, err
		}
		s.notify(ctx, result.Order, notify.EventOrderDelivered, map[string]any{"transfer_id": receipt.TransferID})
		return result.Order, nil
	}
	if issueErr == nil {
		issueErr = fmt.Errorf("issuer returned an empty receipt")
	}

	result, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID:         orderID,
		Event:           orders.EventDeliveryFailed,
		ExpectedVersion: orders.VersionFromRead,
		ActorType:       enums.ActorTypeSystem,
		Data:            map[string]any{"error": issueErr.Error()},
	})
	if err != nil {
		return nil, err
	}

	if result.Escalated {
		s.notify(ctx, result.Order, notify.EventOrderFailed, nil)
		return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, issueErr, "delivery retries exhausted").
			WithDetails(map[string]any{"order_id": orderID.String(), "terminal": true})
	}
	return nil, pkgerrors.Wrap(pkgerrors.CodeDeliveryFailed, issueErr, "delivery attempt failed").
		WithDetails(map[string]any{"order_id": orderID.String()})
}

func (s *service) notify(ctx context.Context, order *models.Order, event notify.Event, data map[string]any) {
	if s.notifier == nil || order == nil {
		return
	}
	if err := s.notifier.Notify(ctx, order.UserID, event, data); err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("notification %s failed: %v", event, err))
	}
}

// retryable reports whether a failed attempt left budget for another try.
func retryable(err error) bool {
	e := pkgerrors.As(err)
	if e == nil {
		return false
	}
	details, ok := e.Details().(map[string]any)
	if !ok {
		return true
	}
	terminal, ok := details["terminal"].(bool)
	return !ok || !terminal
}
