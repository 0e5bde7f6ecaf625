package promo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

type fakePromoRepo struct {
	promo           *models.PromoCode
	redeemOK        bool
	redeemErr       error
	userRedemptions int64
	redemptions     []*models.PromoRedemption

	referral   *models.Referral
	grantOK    bool
	grantCalls int
}

func (f *fakePromoRepo) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakePromoRepo) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	if f.promo == nil || f.promo.Code != code {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promo code not found")
	}
	return f.promo, nil
}

func (f *fakePromoRepo) Redeem(ctx context.Context, promoCodeID uuid.UUID, now time.Time) (bool, error) {
	return f.redeemOK, f.redeemErr
}

func (f *fakePromoRepo) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (f *fakePromoRepo) CreateRedemption(ctx context.Context, redemption *models.PromoRedemption) error {
	f.redemptions = append(f.redemptions, redemption)
	return nil
}

func (f *fakePromoRepo) CountRedemptionsByUser(ctx context.Context, promoCodeID, userID uuid.UUID) (int64, error) {
	return f.userRedemptions, nil
}

func (f *fakePromoRepo) GetReferralByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	return f.referral, nil
}

func (f *fakePromoRepo) CreateReferral(ctx context.Context, referral *models.Referral) error {
	f.referral = referral
	return nil
}

func (f *fakePromoRepo) GrantReferralBonus(ctx context.Context, referralID uuid.UUID, bonus decimal.Decimal, grantedAt time.Time) (bool, error) {
	f.grantCalls++
	return f.grantOK, nil
}

func newTestService(t *testing.T, repo Repository) Service {
	t.Helper()
	svc, err := NewService(ServiceParams{Repo: repo, ReferralBonusPercent: decimal.NewFromInt(10)})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func activePromo(kind enums.PromoKind, value decimal.Decimal) *models.PromoCode {
	return &models.PromoCode{
		ID:           uuid.New(),
		Code:         "TESTCODE",
		Kind:         kind,
		Value:        value,
		PerUserLimit: 1,
		Active:       true,
	}
}

func TestApply_PercentageDiscount(t *testing.T) {
	repo := &fakePromoRepo{promo: activePromo(enums.PromoKindPercentage, decimal.NewFromInt(10)), redeemOK: true}
	svc := newTestService(t, repo)

	application, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := application.DiscountAmount.StringFixed(2); got != "10.00" {
		t.Fatalf("unexpected discount %s", got)
	}
	if got := application.AdjustedTotal.StringFixed(2); got != "90.00" {
		t.Fatalf("unexpected adjusted total %s", got)
	}
	if len(repo.redemptions) != 1 {
		t.Fatalf("expected one redemption record, got %d", len(repo.redemptions))
	}
}

func TestApply_FixedAmountCapsAtTotal(t *testing.T) {
	repo := &fakePromoRepo{promo: activePromo(enums.PromoKindFixedAmount, decimal.NewFromInt(50)), redeemOK: true}
	svc := newTestService(t, repo)

	application, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(30),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !application.AdjustedTotal.IsZero() {
		t.Fatalf("expected zero adjusted total, got %s", application.AdjustedTotal)
	}
}

func TestApply_BonusUCNoDiscount(t *testing.T) {
	promo := activePromo(enums.PromoKindBonusUC, decimal.Zero)
	promo.BonusUC = 120
	repo := &fakePromoRepo{promo: promo, redeemOK: true}
	svc := newTestService(t, repo)

	application, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(20),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if application.BonusUC != 120 {
		t.Fatalf("unexpected bonus uc %d", application.BonusUC)
	}
	if !application.DiscountAmount.IsZero() {
		t.Fatalf("bonus promo should not discount, got %s", application.DiscountAmount)
	}
}

func TestApply_ExhaustedWhenConditionalUpdateLoses(t *testing.T) {
	repo := &fakePromoRepo{promo: activePromo(enums.PromoKindPercentage, decimal.NewFromInt(10)), redeemOK: false}
	svc := newTestService(t, repo)

	_, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(100),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodePromoExhausted) {
		t.Fatalf("expected PROMO_EXHAUSTED, got %v", err)
	}
}

func TestApply_ExpiredCode(t *testing.T) {
	promo := activePromo(enums.PromoKindPercentage, decimal.NewFromInt(10))
	past := time.Now().Add(-time.Minute)
	promo.ExpiresAt = &past
	repo := &fakePromoRepo{promo: promo, redeemOK: false}
	svc := newTestService(t, repo)

	_, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(100),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodePromoExpired) {
		t.Fatalf("expected PROMO_EXPIRED, got %v", err)
	}
}

func TestApply_PerUserLimit(t *testing.T) {
	repo := &fakePromoRepo{
		promo:           activePromo(enums.PromoKindPercentage, decimal.NewFromInt(10)),
		redeemOK:        true,
		userRedemptions: 1,
	}
	svc := newTestService(t, repo)

	_, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(100),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodePromoExhausted) {
		t.Fatalf("expected PROMO_EXHAUSTED for per-user limit, got %v", err)
	}
}

func TestApply_BelowMinimum(t *testing.T) {
	promo := activePromo(enums.PromoKindPercentage, decimal.NewFromInt(10))
	promo.MinOrderAmount = decimal.NewFromInt(50)
	repo := &fakePromoRepo{promo: promo, redeemOK: true}
	svc := newTestService(t, repo)

	_, err := svc.Apply(context.Background(), ApplyInput{
		UserID:  uuid.New(),
		OrderID: uuid.New(),
		Code:    "TESTCODE",
		Amount:  decimal.NewFromInt(20),
	})
	if !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestAccrueReferralBonus(t *testing.T) {
	referral := &models.Referral{
		ID:             uuid.New(),
		ReferredUserID: uuid.New(),
		ReferrerUserID: uuid.New(),
	}
	repo := &fakePromoRepo{referral: referral, grantOK: true}
	svc := newTestService(t, repo)

	granted, err := svc.AccrueReferralBonus(context.Background(), referral.ReferredUserID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if granted == nil {
		t.Fatal("expected a granted referral")
	}
	if got := granted.Bonus.StringFixed(2); got != "10.00" {
		t.Fatalf("unexpected bonus %s", got)
	}

	// Already granted: the conditional update loses and nothing accrues.
	repo.grantOK = false
	granted, err = svc.AccrueReferralBonus(context.Background(), referral.ReferredUserID, decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("accrue second: %v", err)
	}
	if granted != nil {
		t.Fatal("expected nil on already-granted referral")
	}
}

func TestAccrueReferralBonus_NoReferrer(t *testing.T) {
	repo := &fakePromoRepo{}
	svc := newTestService(t, repo)

	granted, err := svc.AccrueReferralBonus(context.Background(), uuid.New(), decimal.NewFromInt(100))
	if err != nil {
		t.Fatalf("accrue: %v", err)
	}
	if granted != nil {
		t.Fatal("expected nil when user has no referrer")
	}
	if repo.grantCalls != 0 {
		t.Fatalf("expected no grant calls, got %d", repo.grantCalls)
	}
}

func TestLinkReferral_SelfReferralRejected(t *testing.T) {
	repo := &fakePromoRepo{}
	svc := newTestService(t, repo)

	id := uuid.New()
	if _, err := svc.LinkReferral(context.Background(), id, id); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
