package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ucstore/ucstore-backend/internal/notify"
	"github.com/ucstore/ucstore-backend/internal/orders"
	"github.com/ucstore/ucstore-backend/internal/risk"
	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

// fakeOrders emulates just enough of the state machine for the orchestrator:
// delivery_failed bumps the attempt counter and escalates at the bound.
type fakeOrders struct {
	order       *models.Order
	maxAttempts int
	transitions []orders.Event
}

func (f *fakeOrders) Create(ctx context.Context, input orders.CreateInput) (*models.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOrders) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	copied := *f.order
	return &copied, nil
}

func (f *fakeOrders) ListForUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrders) ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error) {
	return nil, nil
}

func (f *fakeOrders) History(ctx context.Context, orderID uuid.UUID) ([]models.AuditEntry, error) {
	return nil, nil
}

func (f *fakeOrders) Transition(ctx context.Context, input orders.TransitionInput) (*orders.TransitionResult, error) {
	f.transitions = append(f.transitions, input.Event)
	switch input.Event {
	case orders.EventDeliverySucceeded:
		f.order.Status = enums.OrderStatusDelivered
		f.order.DeliveryPayload = input.DeliveryPayload
		f.order.Version++
		copied := *f.order
		return &orders.TransitionResult{Order: &copied, Applied: true}, nil
	case orders.EventDeliveryFailed:
		f.order.DeliveryAttempts++
		f.order.Version++
		escalated := f.order.DeliveryAttempts >= f.maxAttempts
		if escalated {
			f.order.Status = enums.OrderStatusFailed
		}
		copied := *f.order
		return &orders.TransitionResult{Order: &copied, Applied: true, Escalated: escalated}, nil
	case orders.EventAdminCancel:
		f.order.Status = enums.OrderStatusCancelled
		f.order.Version++
		copied := *f.order
		return &orders.TransitionResult{Order: &copied, Applied: true}, nil
	}
	return nil, fmt.Errorf("unexpected event %s", input.Event)
}

func (f *fakeOrders) AdminCancel(ctx context.Context, orderID uuid.UUID, adminID, reason string) (*models.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOrders) UserCancel(ctx context.Context, orderID, userID uuid.UUID) (*models.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOrders) ReviewDecision(ctx context.Context, orderID uuid.UUID, adminID string, approve bool, notes string) (*models.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOrders) ForceRedeliver(ctx context.Context, orderID uuid.UUID, adminID string) (*models.Order, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeOrders) HoldForReview(ctx context.Context, orderID uuid.UUID, reasons []string) (*models.Order, error) {
	f.order.ReviewHold = true
	copied := *f.order
	return &copied, nil
}

// scriptedRisk returns a fixed verdict and records the stages it was asked
// to evaluate.
type scriptedRisk struct {
	decision enums.RiskDecision
	stages   []risk.Stage
}

func (r *scriptedRisk) Evaluate(ctx context.Context, input risk.Input) (*risk.Assessment, error) {
	r.stages = append(r.stages, input.Stage)
	decision := r.decision
	if decision == "" {
		decision = enums.RiskDecisionAllow
	}
	return &risk.Assessment{Decision: decision, Reasons: []string{"scripted"}}, nil
}

type scriptedIssuer struct {
	failures int
	calls    int
}

func (i *scriptedIssuer) Issue(ctx context.Context, order *models.Order) (*Receipt, error) {
	i.calls++
	if i.calls <= i.failures {
		return nil, fmt.Errorf("issuance backend unavailable")
	}
	return &Receipt{TransferID: "tr-" + uuid.NewString()}, nil
}

type recordingNotifier struct {
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, userID uuid.UUID, event notify.Event, data map[string]any) error {
	n.events = append(n.events, event)
	return nil
}

func paidOrder() *models.Order {
	return &models.Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: enums.OrderStatusPaid,
	}
}

func testDeliveryConfig(maxAttempts int) config.DeliveryConfig {
	return config.DeliveryConfig{
		MaxAttempts:    maxAttempts,
		BackoffBase:    time.Millisecond,
		BackoffCeiling: 5 * time.Millisecond,
		IssueTimeout:   time.Second,
	}
}

func newDeliveryService(t *testing.T, ordersSvc orders.Service, issuer Issuer, notifier notify.Notifier, maxAttempts int) Service {
	t.Helper()
	return newDeliveryServiceWithRisk(t, ordersSvc, issuer, &scriptedRisk{}, notifier, maxAttempts)
}

func newDeliveryServiceWithRisk(t *testing.T, ordersSvc orders.Service, issuer Issuer, riskSvc risk.Service, notifier notify.Notifier, maxAttempts int) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Orders:   ordersSvc,
		Issuer:   issuer,
		Risk:     riskSvc,
		Notifier: notifier,
		Config:   testDeliveryConfig(maxAttempts),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestDeliver_FirstTrySucceeds(t *testing.T) {
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: 5}
	issuer := &scriptedIssuer{}
	notifier := &recordingNotifier{}
	svc := newDeliveryService(t, ordersSvc, issuer, notifier, 5)

	delivered, err := svc.Deliver(context.Background(), ordersSvc.order.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", delivered.Status)
	}
	if delivered.DeliveryPayload == nil || *delivered.DeliveryPayload == "" {
		t.Fatal("expected delivery payload to be set")
	}
	if issuer.calls != 1 {
		t.Fatalf("expected 1 issuance call, got %d", issuer.calls)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventOrderDelivered {
		t.Fatalf("unexpected notifications %v", notifier.events)
	}
}

func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: 5}
	issuer := &scriptedIssuer{failures: 2}
	svc := newDeliveryService(t, ordersSvc, issuer, nil, 5)

	delivered, err := svc.Deliver(context.Background(), ordersSvc.order.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if delivered.Status != enums.OrderStatusDelivered {
		t.Fatalf("expected delivered, got %s", delivered.Status)
	}
	if issuer.calls != 3 {
		t.Fatalf("expected 3 issuance calls, got %d", issuer.calls)
	}
	if ordersSvc.order.DeliveryAttempts != 2 {
		t.Fatalf("expected 2 recorded failures, got %d", ordersSvc.order.DeliveryAttempts)
	}
}

func TestDeliver_ExhaustionEscalates(t *testing.T) {
	maxAttempts := 3
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: maxAttempts}
	issuer := &scriptedIssuer{failures: 100}
	notifier := &recordingNotifier{}
	svc := newDeliveryService(t, ordersSvc, issuer, notifier, maxAttempts)

	_, err := svc.Deliver(context.Background(), ordersSvc.order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeDeliveryFailed) {
		t.Fatalf("expected DELIVERY_FAILED, got %v", err)
	}
	if issuer.calls != maxAttempts {
		t.Fatalf("expected exactly %d issuance calls, got %d", maxAttempts, issuer.calls)
	}
	if ordersSvc.order.Status != enums.OrderStatusFailed {
		t.Fatalf("expected order failed, got %s", ordersSvc.order.Status)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventOrderFailed {
		t.Fatalf("unexpected notifications %v", notifier.events)
	}
}

func TestDeliver_AlreadyDeliveredIsNoop(t *testing.T) {
	order := paidOrder()
	order.Status = enums.OrderStatusDelivered
	ordersSvc := &fakeOrders{order: order, maxAttempts: 5}
	issuer := &scriptedIssuer{}
	svc := newDeliveryService(t, ordersSvc, issuer, nil, 5)

	result, err := svc.Deliver(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if result.Status != enums.OrderStatusDelivered {
		t.Fatalf("unexpected status %s", result.Status)
	}
	if issuer.calls != 0 {
		t.Fatalf("expected no issuance calls, got %d", issuer.calls)
	}
}

func TestDeliver_RejectsUnpaidOrder(t *testing.T) {
	order := paidOrder()
	order.Status = enums.OrderStatusProcessing
	ordersSvc := &fakeOrders{order: order, maxAttempts: 5}
	svc := newDeliveryService(t, ordersSvc, &scriptedIssuer{}, nil, 5)

	_, err := svc.Deliver(context.Background(), order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION, got %v", err)
	}
}

func TestDeliver_ConsultsRiskBeforeIssuance(t *testing.T) {
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: 5}
	issuer := &scriptedIssuer{}
	riskSvc := &scriptedRisk{}
	svc := newDeliveryServiceWithRisk(t, ordersSvc, issuer, riskSvc, nil, 5)

	if _, err := svc.Deliver(context.Background(), ordersSvc.order.ID); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(riskSvc.stages) != 1 || riskSvc.stages[0] != risk.StageDelivery {
		t.Fatalf("expected one delivery-stage evaluation, got %v", riskSvc.stages)
	}
}

func TestDeliver_RiskBlockCancelsWithoutIssuing(t *testing.T) {
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: 5}
	issuer := &scriptedIssuer{}
	notifier := &recordingNotifier{}
	riskSvc := &scriptedRisk{decision: enums.RiskDecisionBlock}
	svc := newDeliveryServiceWithRisk(t, ordersSvc, issuer, riskSvc, notifier, 5)

	_, err := svc.Deliver(context.Background(), ordersSvc.order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeRiskBlocked) {
		t.Fatalf("expected RISK_BLOCKED, got %v", err)
	}
	if issuer.calls != 0 {
		t.Fatalf("expected no issuance calls, got %d", issuer.calls)
	}
	if ordersSvc.order.Status != enums.OrderStatusCancelled {
		t.Fatalf("expected cancelled, got %s", ordersSvc.order.Status)
	}
	if len(ordersSvc.transitions) != 1 || ordersSvc.transitions[0] != orders.EventAdminCancel {
		t.Fatalf("unexpected transitions %v", ordersSvc.transitions)
	}
	if len(notifier.events) != 1 || notifier.events[0] != notify.EventOrderFailed {
		t.Fatalf("unexpected notifications %v", notifier.events)
	}
}

func TestDeliver_RiskReviewParksWithoutIssuing(t *testing.T) {
	ordersSvc := &fakeOrders{order: paidOrder(), maxAttempts: 5}
	issuer := &scriptedIssuer{}
	riskSvc := &scriptedRisk{decision: enums.RiskDecisionReview}
	svc := newDeliveryServiceWithRisk(t, ordersSvc, issuer, riskSvc, nil, 5)

	_, err := svc.Deliver(context.Background(), ordersSvc.order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
	if issuer.calls != 0 {
		t.Fatalf("expected no issuance calls, got %d", issuer.calls)
	}
	if !ordersSvc.order.ReviewHold {
		t.Fatal("expected order parked for review")
	}
	if len(ordersSvc.transitions) != 0 {
		t.Fatalf("unexpected transitions %v", ordersSvc.transitions)
	}
}

func TestDeliver_RespectsRemainingBudget(t *testing.T) {
	order := paidOrder()
	order.DeliveryAttempts = 4
	ordersSvc := &fakeOrders{order: order, maxAttempts: 5}
	issuer := &scriptedIssuer{failures: 100}
	svc := newDeliveryService(t, ordersSvc, issuer, nil, 5)

	_, err := svc.Deliver(context.Background(), order.ID)
	if !pkgerrors.HasCode(err, pkgerrors.CodeDeliveryFailed) {
		t.Fatalf("expected DELIVERY_FAILED, got %v", err)
	}
	if issuer.calls != 1 {
		t.Fatalf("expected a single remaining attempt, got %d", issuer.calls)
	}
}
