package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/internal/audit"
	"github.com/ucstore/ucstore-backend/internal/promo"
	"github.com/ucstore/ucstore-backend/pkg/db"
	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

type serviceFixture struct {
	conn    *gorm.DB
	svc     Service
	user    *models.User
	product *models.Product
}

func newServiceFixture(t *testing.T, maxAttempts int) *serviceFixture {
	t.Helper()

	conn := setupOrdersTestDB(t)
	client := db.NewFromConn(conn)

	auditSvc, err := audit.NewService(audit.NewRepository(conn))
	require.NoError(t, err)
	promoSvc, err := promo.NewService(promo.ServiceParams{
		Repo:                 promo.NewRepository(conn),
		ReferralBonusPercent: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		DB:                  client,
		Repo:                NewRepository(conn),
		Audit:               auditSvc,
		Promo:               promoSvc,
		MaxDeliveryAttempts: maxAttempts,
	})
	require.NoError(t, err)

	return &serviceFixture{
		conn:    conn,
		svc:     svc,
		user:    seedUser(t, conn),
		product: seedProduct(t, conn),
	}
}

func (f *serviceFixture) createOrder(t *testing.T, promoCode *string) *models.Order {
	t.Helper()
	order, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        f.user.ID,
		ProductID:     f.product.ID,
		Quantity:      1,
		Currency:      enums.CurrencyUSD,
		PaymentMethod: "cardpro",
		PromoCode:     promoCode,
	})
	require.NoError(t, err)
	return order
}

func (f *serviceFixture) drive(t *testing.T, order *models.Order, event Event, payload *string) *models.Order {
	t.Helper()
	current, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	result, err := f.svc.Transition(context.Background(), TransitionInput{
		OrderID:         order.ID,
		Event:           event,
		ExpectedVersion: current.Version,
		ActorType:       enums.ActorTypeSystem,
		DeliveryPayload: payload,
	})
	require.NoError(t, err)
	return result.Order
}

func (f *serviceFixture) auditActions(t *testing.T, orderID uuid.UUID) []enums.AuditAction {
	t.Helper()
	entries, err := f.svc.History(context.Background(), orderID)
	require.NoError(t, err)
	actions := make([]enums.AuditAction, 0, len(entries))
	for _, entry := range entries {
		actions = append(actions, entry.Action)
	}
	return actions
}

func TestCreate_PlainOrder(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	require.Equal(t, enums.OrderStatusCreated, order.Status)
	require.Equal(t, int64(0), order.Version)
	require.True(t, order.Amount.Equal(decimal.NewFromInt(10)))
	require.Contains(t, f.auditActions(t, order.ID), enums.AuditActionOrderCreated)
}

func TestCreate_WithPromoRoundTrip(t *testing.T) {
	f := newServiceFixture(t, 5)

	limit := 1
	promoCode := &models.PromoCode{
		Code:       "SAVE10",
		Kind:       enums.PromoKindPercentage,
		Value:      decimal.NewFromInt(10),
		UsageLimit: &limit,
		Active:     true,
	}
	require.NoError(t, f.conn.Create(promoCode).Error)

	code := "SAVE10"
	order := f.createOrder(t, &code)
	require.True(t, order.Amount.Equal(decimal.NewFromInt(9)), "10%% off 10.00, got %s", order.Amount)
	require.True(t, order.DiscountAmount.Equal(decimal.NewFromInt(1)))
	require.Contains(t, f.auditActions(t, order.ID), enums.AuditActionPromoApplied)

	// The single use is spent; a second order is rejected, not silently
	// charged full price.
	other := seedUser(t, f.conn)
	_, err := f.svc.Create(context.Background(), CreateInput{
		UserID:        other.ID,
		ProductID:     f.product.ID,
		Quantity:      1,
		Currency:      enums.CurrencyUSD,
		PaymentMethod: "cardpro",
		PromoCode:     &code,
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodePromoExhausted), "got %v", err)
}

func TestTransition_HappyPathToDelivered(t *testing.T) {
	f := newServiceFixture(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	require.Equal(t, enums.OrderStatusProcessing, order.Status)
	order = f.drive(t, order, EventPaymentConfirmed, nil)
	require.Equal(t, enums.OrderStatusPaid, order.Status)
	require.NotNil(t, order.PaidAt)

	receipt := `{"transfer_id":"tr-1"}`
	order = f.drive(t, order, EventDeliverySucceeded, &receipt)
	require.Equal(t, enums.OrderStatusDelivered, order.Status)
	require.NotNil(t, order.DeliveryPayload)
	require.NotNil(t, order.DeliveredAt)
	require.Equal(t, int64(3), order.Version)

	user, err := NewRepository(f.conn).GetUser(ctx, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, 1, user.TotalOrders)
	require.Equal(t, 660, user.TotalUCPurchased)
}

func TestTransition_DeliveredRequiresPayload(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	order = f.drive(t, order, EventPaymentConfirmed, nil)

	_, err := f.svc.Transition(context.Background(), TransitionInput{
		OrderID:         order.ID,
		Event:           EventDeliverySucceeded,
		ExpectedVersion: order.Version,
		ActorType:       enums.ActorTypeSystem,
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	reloaded, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, reloaded.Status)
	require.Nil(t, reloaded.DeliveryPayload)
}

func TestTransition_SkippingProcessingRejected(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	_, err := f.svc.Transition(context.Background(), TransitionInput{
		OrderID:         order.ID,
		Event:           EventPaymentConfirmed,
		ExpectedVersion: order.Version,
		ActorType:       enums.ActorTypeSystem,
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition), "got %v", err)

	// The rejection is a logged no-op: status untouched, audit entry kept.
	reloaded, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCreated, reloaded.Status)
	require.Equal(t, int64(0), reloaded.Version)
	require.Contains(t, f.auditActions(t, order.ID), enums.AuditActionInvalidTransition)
}

func TestTransition_StaleVersionRejected(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	f.drive(t, order, EventPaymentInitiated, nil)

	_, err := f.svc.Transition(context.Background(), TransitionInput{
		OrderID:         order.ID,
		Event:           EventPaymentConfirmed,
		ExpectedVersion: 0, // observed before payment_initiated bumped it
		ActorType:       enums.ActorTypeSystem,
	})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConcurrentModification), "got %v", err)
}

func TestTransition_DeliveryRetriesEscalateToFailed(t *testing.T) {
	maxAttempts := 3
	f := newServiceFixture(t, maxAttempts)

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	order = f.drive(t, order, EventPaymentConfirmed, nil)

	for i := 1; i < maxAttempts; i++ {
		order = f.drive(t, order, EventDeliveryFailed, nil)
		require.Equal(t, enums.OrderStatusPaid, order.Status)
		require.Equal(t, i, order.DeliveryAttempts)
	}

	current, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	result, err := f.svc.Transition(context.Background(), TransitionInput{
		OrderID:         order.ID,
		Event:           EventDeliveryFailed,
		ExpectedVersion: current.Version,
		ActorType:       enums.ActorTypeSystem,
	})
	require.NoError(t, err)
	require.True(t, result.Escalated)
	require.Equal(t, enums.OrderStatusFailed, result.Order.Status)
	require.Contains(t, f.auditActions(t, order.ID), enums.AuditActionAlertRaised)
}

func TestReviewHold_ParksConfirmation(t *testing.T) {
	f := newServiceFixture(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)

	held, err := f.svc.HoldForReview(ctx, order.ID, []string{"large first-time order"})
	require.NoError(t, err)
	require.True(t, held.ReviewHold)

	result, err := f.svc.Transition(ctx, TransitionInput{
		OrderID:         order.ID,
		Event:           EventPaymentConfirmed,
		ExpectedVersion: held.Version,
		ActorType:       enums.ActorTypeSystem,
	})
	require.NoError(t, err)
	require.True(t, result.Held)
	require.False(t, result.Applied)
	require.Equal(t, enums.OrderStatusProcessing, result.Order.Status)
}

func TestReviewDecision_ApproveThenConfirm(t *testing.T) {
	f := newServiceFixture(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	_, err := f.svc.HoldForReview(ctx, order.ID, []string{"velocity"})
	require.NoError(t, err)

	approved, err := f.svc.ReviewDecision(ctx, order.ID, "admin-1", true, "checked manually")
	require.NoError(t, err)
	require.False(t, approved.ReviewHold)

	confirmed := f.drive(t, approved, EventPaymentConfirmed, nil)
	require.Equal(t, enums.OrderStatusPaid, confirmed.Status)
}

func TestReviewDecision_DenyCancels(t *testing.T) {
	f := newServiceFixture(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	f.drive(t, order, EventPaymentInitiated, nil)
	_, err := f.svc.HoldForReview(ctx, order.ID, []string{"velocity"})
	require.NoError(t, err)

	denied, err := f.svc.ReviewDecision(ctx, order.ID, "admin-1", false, "stolen card pattern")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, denied.Status)
	require.False(t, denied.ReviewHold)
	require.Contains(t, f.auditActions(t, order.ID), enums.AuditActionReviewDecision)
}

func TestReviewDecision_NotUnderReview(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	_, err := f.svc.ReviewDecision(context.Background(), order.ID, "admin-1", true, "")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestForceRedeliver(t *testing.T) {
	f := newServiceFixture(t, 1)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	order = f.drive(t, order, EventPaymentConfirmed, nil)
	order = f.drive(t, order, EventDeliveryFailed, nil)
	require.Equal(t, enums.OrderStatusFailed, order.Status)

	revived, err := f.svc.ForceRedeliver(ctx, order.ID, "admin-1")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusPaid, revived.Status)
	require.Equal(t, 0, revived.DeliveryAttempts)

	// Only failed orders qualify.
	_, err = f.svc.ForceRedeliver(ctx, order.ID, "admin-1")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidTransition))
}

func TestUserCancel_OwnershipEnforced(t *testing.T) {
	f := newServiceFixture(t, 5)
	ctx := context.Background()

	order := f.createOrder(t, nil)
	_, err := f.svc.UserCancel(ctx, order.ID, uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))

	cancelled, err := f.svc.UserCancel(ctx, order.ID, f.user.ID)
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
}

func TestAdminCancel_FromProcessing(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	f.drive(t, order, EventPaymentInitiated, nil)

	cancelled, err := f.svc.AdminCancel(context.Background(), order.ID, "admin-1", "user request")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
}

func TestAdminCancel_FromPaid(t *testing.T) {
	f := newServiceFixture(t, 5)

	order := f.createOrder(t, nil)
	order = f.drive(t, order, EventPaymentInitiated, nil)
	f.drive(t, order, EventPaymentConfirmed, nil)

	// A risk block at the delivery gate cancels the order after payment but
	// before any currency is issued.
	cancelled, err := f.svc.AdminCancel(context.Background(), order.ID, "admin-1", "blocked before issuance")
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, cancelled.Status)
}

func TestReferralBonus_FirstDeliveredOnly(t *testing.T) {
	f := newServiceFixture(t, 5)

	referrer := seedUser(t, f.conn)
	referral := &models.Referral{
		ReferredUserID: f.user.ID,
		ReferrerUserID: referrer.ID,
		Bonus:          decimal.Zero,
	}
	require.NoError(t, f.conn.Create(referral).Error)

	deliver := func() {
		order := f.createOrder(t, nil)
		order = f.drive(t, order, EventPaymentInitiated, nil)
		order = f.drive(t, order, EventPaymentConfirmed, nil)
		receipt := `{"transfer_id":"` + uuid.NewString() + `"}`
		f.drive(t, order, EventDeliverySucceeded, &receipt)
	}

	deliver()
	var reloaded models.Referral
	require.NoError(t, f.conn.First(&reloaded, "id = ?", referral.ID).Error)
	require.NotNil(t, reloaded.BonusGrantedAt)
	require.True(t, reloaded.Bonus.Equal(decimal.NewFromInt(1)), "10%% of 10.00, got %s", reloaded.Bonus)
	firstGrant := *reloaded.BonusGrantedAt

	time.Sleep(10 * time.Millisecond)
	deliver()
	require.NoError(t, f.conn.First(&reloaded, "id = ?", referral.ID).Error)
	require.True(t, reloaded.Bonus.Equal(decimal.NewFromInt(1)), "bonus must not accrue twice")
	require.True(t, reloaded.BonusGrantedAt.Equal(firstGrant))
}
