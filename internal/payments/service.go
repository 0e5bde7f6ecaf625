package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ucstore/ucstore-backend/internal/delivery"
	"github.com/ucstore/ucstore-backend/internal/notify"
	"github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/internal/providers"
	"github.com/ucstore/ucstore-backend/internal/risk"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// IngestResult reports what happened to one webhook event.
type IngestResult struct {
	Attempt *models.PaymentAttempt
	Order   *models.Order
	// Duplicate is true when the (provider, external_transaction_id) pair
	// was already recorded and nothing new happened.
	Duplicate bool
	// Held is true when a confirmation was parked behind a review hold.
	Held bool
	// Applied is true when the event moved the order's status.
	Applied bool
}

// Service is the webhook ingest pipeline: record the attempt first (the
// idempotency ledger), then drive the state machine with the outcome.
type Service interface {
	Ingest(ctx context.Context, event *providers.PaymentEvent) (*IngestResult, error)
	ReDrivePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type service struct {
	repo     Repository
	orders   orders.Service
	risk     risk.Service
	delivery delivery.Service
	notifier notify.Notifier
	logg     *logger.Logger

	// dispatch runs post-payment delivery outside the webhook request.
	dispatch func(func())
}

type ServiceParams struct {
	Repo     Repository
	Orders   orders.Service
	Risk     risk.Service
	Delivery delivery.Service
	Notifier notify.Notifier
	Logger   *logger.Logger

	// Dispatch overrides the default goroutine dispatcher, used by tests
	// to run delivery inline.
	Dispatch func(func())
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Risk == nil {
		return nil, fmt.Errorf("risk service required")
	}
	if params.Delivery == nil {
		return nil, fmt.Errorf("delivery service required")
	}
	dispatch := params.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}
	return &service{
		repo:     params.Repo,
		orders:   params.Orders,
		risk:     params.Risk,
		delivery: params.Delivery,
		notifier: params.Notifier,
		logg:     params.Logger,
		dispatch: dispatch,
	}, nil
}

func (s *service) Ingest(ctx context.Context, event *providers.PaymentEvent) (*IngestResult, error) {
	if event == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment event is required")
	}
	if event.ExternalTransactionID == "" || event.Provider == "" {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "payment event missing provider transaction identity")
	}
	if event.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "payment event missing order reference")
	}
	if !event.Outcome.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "payment event outcome unrecognized")
	}

	order, err := s.orders.Get(ctx, event.OrderID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeMalformedPayload, err, "payment event references unknown order")
		}
		return nil, err
	}

	attempt := &models.PaymentAttempt{
		OrderID:               order.ID,
		Provider:              event.Provider,
		ExternalTransactionID: event.ExternalTransactionID,
		Amount:                event.Amount,
		Currency:              event.Currency,
		Status:                enums.AttemptStatusPending,
		Outcome:               event.Outcome,
		Metadata:              event.Metadata,
	}

	// Record before transition: once this insert commits, the webhook is
	// durably acknowledged even if the process dies before the transition.
	if err := s.repo.CreateAttempt(ctx, attempt); err != nil {
		if !errors.Is(err, ErrDuplicateAttempt) {
			return nil, err
		}
		existing, getErr := s.repo.GetByProviderTx(ctx, event.Provider, event.ExternalTransactionID)
		if getErr != nil {
			return nil, getErr
		}
		if existing.Status != enums.AttemptStatusPending {
			// Fully processed earlier: acknowledged no-op.
			return &IngestResult{Attempt: existing, Order: order, Duplicate: true}, nil
		}
		// Recorded but never driven (crash window): re-drive now.
		result, driveErr := s.drive(ctx, existing)
		if driveErr != nil {
			return nil, driveErr
		}
		result.Duplicate = true
		return result, nil
	}

	return s.drive(ctx, attempt)
}

// drive applies one recorded attempt to the state machine. Invalid
// transitions are audited no-ops, never errors to the provider.
func (s *service) drive(ctx context.Context, attempt *models.PaymentAttempt) (*IngestResult, error) {
	order, err := s.orders.Get(ctx, attempt.OrderID)
	if err != nil {
		return nil, err
	}
	result := &IngestResult{Attempt: attempt, Order: order}

	switch attempt.Outcome {
	case enums.PaymentOutcomeInitiated:
		return s.driveInitiated(ctx, attempt, order, result)
	case enums.PaymentOutcomeConfirmed:
		return s.driveConfirmed(ctx, attempt, order, result)
	case enums.PaymentOutcomeFailed:
		return s.driveFailed(ctx, attempt, order, result)
	}
	return nil, pkgerrors.New(pkgerrors.CodeMalformedPayload, "payment outcome unrecognized")
}

func (s *service) driveInitiated(ctx context.Context, attempt *models.PaymentAttempt, order *models.Order, result *IngestResult) (*IngestResult, error) {
	assessment, assessErr := s.assess(ctx, order, risk.StagePayment)
	if assessErr != nil {
		return nil, assessErr
	}

	if assessment.Decision == enums.RiskDecisionBlock {
		transitioned, err := s.orders.Transition(ctx, orders.TransitionInput{
			OrderID:         order.ID,
			Event:           orders.EventAdminCancel,
			ExpectedVersion: orders.VersionFromRead,
			ActorType:       enums.ActorTypeSystem,
			Action:          enums.AuditActionRiskBlocked,
			Data:            map[string]any{"reasons": assessment.Reasons},
		})
		if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			return nil, err
		}
		if err := s.repo.SetStatus(ctx, attempt.ID, enums.AttemptStatusFailed); err != nil {
			return nil, err
		}
		attempt.Status = enums.AttemptStatusFailed
		if transitioned != nil {
			result.Order = transitioned.Order
			result.Applied = transitioned.Applied
		}
		return result, nil
	}

	txID := attempt.ExternalTransactionID
	transitioned, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID:               order.ID,
		Event:                 orders.EventPaymentInitiated,
		ExpectedVersion:       order.Version,
		ActorType:             enums.ActorTypeSystem,
		ExternalTransactionID: &txID,
		Data:                  map[string]any{"provider": attempt.Provider},
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			// The order already advanced past created; this event has nothing
			// left to do and must not stay in the sweep's pending pool.
			if err := s.markProcessed(ctx, attempt); err != nil {
				return nil, err
			}
			return result, nil
		}
		return nil, err
	}
	result.Order = transitioned.Order
	result.Applied = transitioned.Applied

	if assessment.Decision == enums.RiskDecisionReview {
		held, err := s.orders.HoldForReview(ctx, order.ID, assessment.Reasons)
		if err != nil {
			return nil, err
		}
		result.Order = held
		result.Held = true
	}
	// The initiated event is spent either way: the order is in processing,
	// held or not, and only a confirmation moves it further.
	if err := s.markProcessed(ctx, attempt); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) driveConfirmed(ctx context.Context, attempt *models.PaymentAttempt, order *models.Order, result *IngestResult) (*IngestResult, error) {
	confirmedBefore, err := s.repo.HasConfirmedForOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if confirmedBefore {
		if err := s.markProcessed(ctx, attempt); err != nil {
			return nil, err
		}
		return result, nil
	}

	if !attempt.Amount.Equal(order.Amount) {
		held, err := s.orders.HoldForReview(ctx, order.ID, []string{
			fmt.Sprintf("provider amount %s does not match order amount %s", attempt.Amount, order.Amount),
		})
		if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			return nil, err
		}
		if held != nil {
			result.Order = held
		}
		result.Held = true
		return result, nil
	}

	transitioned, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID:         order.ID,
		Event:           orders.EventPaymentConfirmed,
		ExpectedVersion: order.Version,
		ActorType:       enums.ActorTypeSystem,
		Data:            map[string]any{"provider": attempt.Provider},
	})
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
			// Terminal or already-delivered order: the confirmation is a
			// durable no-op, retire it from the pending pool.
			if err := s.markProcessed(ctx, attempt); err != nil {
				return nil, err
			}
			return result, nil
		}
		return nil, err
	}
	result.Order = transitioned.Order
	result.Held = transitioned.Held
	result.Applied = transitioned.Applied

	if transitioned.Held {
		// Parked pending the admin decision; the sweep re-drives later.
		return result, nil
	}

	if err := s.repo.SetStatus(ctx, attempt.ID, enums.AttemptStatusConfirmed); err != nil {
		return nil, err
	}
	attempt.Status = enums.AttemptStatusConfirmed
	s.notify(ctx, result.Order, notify.EventOrderPaid, map[string]any{"provider": attempt.Provider})

	orderID := order.ID
	s.dispatch(func() {
		if _, err := s.delivery.Deliver(context.WithoutCancel(ctx), orderID); err != nil && s.logg != nil {
			s.logg.Error(ctx, fmt.Sprintf("delivery for order %s did not complete", orderID), err)
		}
	})
	return result, nil
}

func (s *service) driveFailed(ctx context.Context, attempt *models.PaymentAttempt, order *models.Order, result *IngestResult) (*IngestResult, error) {
	transitioned, err := s.orders.Transition(ctx, orders.TransitionInput{
		OrderID:         order.ID,
		Event:           orders.EventPaymentFailed,
		ExpectedVersion: order.Version,
		ActorType:       enums.ActorTypeSystem,
		Data:            map[string]any{"provider": attempt.Provider},
	})
	if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
		return nil, err
	}
	if err := s.repo.SetStatus(ctx, attempt.ID, enums.AttemptStatusFailed); err != nil {
		return nil, err
	}
	attempt.Status = enums.AttemptStatusFailed
	if transitioned != nil {
		result.Order = transitioned.Order
		result.Applied = transitioned.Applied
		s.notify(ctx, result.Order, notify.EventOrderFailed, map[string]any{"provider": attempt.Provider})
	}
	return result, nil
}

// markProcessed retires an attempt whose event can do no further work, so
// the staleness sweep stops re-driving it.
func (s *service) markProcessed(ctx context.Context, attempt *models.PaymentAttempt) error {
	if err := s.repo.SetStatus(ctx, attempt.ID, enums.AttemptStatusProcessed); err != nil {
		return err
	}
	attempt.Status = enums.AttemptStatusProcessed
	return nil
}

// ReDrivePending reconciles attempts stuck pending past the staleness
// window: each is pushed through the state machine again. Only attempts in
// the crash window (recorded, never driven) and confirmations parked behind
// a review hold remain pending; everything else is retired at drive time.
func (s *service) ReDrivePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	attempts, err := s.repo.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	var driven int
	var errs error
	for i := range attempts {
		attempt := attempts[i]
		if _, err := s.drive(ctx, &attempt); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("attempt %s: %w", attempt.ID, err))
			continue
		}
		driven++
	}
	return driven, errs
}

// assess scores the order's owner. A missing user row is not fatal; a zero
// account age just reads as unknown to the evaluator.
func (s *service) assess(ctx context.Context, order *models.Order, stage risk.Stage) (*risk.Assessment, error) {
	accountCreatedAt := time.Time{}
	if user, err := s.repo.GetUser(ctx, order.UserID); err == nil && user != nil {
		accountCreatedAt = user.CreatedAt
	}
	return s.risk.Evaluate(ctx, risk.Input{
		UserID:           order.UserID,
		Amount:           order.Amount,
		AccountCreatedAt: accountCreatedAt,
		Stage:            stage,
	})
}

func (s *service) notify(ctx context.Context, order *models.Order, event notify.Event, data map[string]any) {
	if s.notifier == nil || order == nil {
		return
	}
	if err := s.notifier.Notify(ctx, order.UserID, event, data); err != nil && s.logg != nil {
		s.logg.Warn(ctx, fmt.Sprintf("notification %s failed: %v", event, err))
	}
}
