package promo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

// Service is the promo/referral ledger. Apply must run inside the order
// creation transaction so a failed order rolls the redemption back.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Apply(ctx context.Context, input ApplyInput) (*Application, error)
	AccrueReferralBonus(ctx context.Context, referredUserID uuid.UUID, orderAmount decimal.Decimal) (*models.Referral, error)
	LinkReferral(ctx context.Context, referredUserID, referrerUserID uuid.UUID) (*models.Referral, error)
	ExpireStale(ctx context.Context) (int64, error)
}

// ApplyInput is one redemption request against an order being created.
type ApplyInput struct {
	UserID  uuid.UUID
	OrderID uuid.UUID
	Code    string
	Amount  decimal.Decimal
}

// Application is the outcome of a successful redemption.
type Application struct {
	PromoCodeID    uuid.UUID
	Kind           enums.PromoKind
	DiscountAmount decimal.Decimal
	BonusUC        int
	AdjustedTotal  decimal.Decimal
}

type service struct {
	repo                 Repository
	referralBonusPercent decimal.Decimal
	now                  func() time.Time
}

type ServiceParams struct {
	Repo                 Repository
	ReferralBonusPercent decimal.Decimal
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("promo repository required")
	}
	if params.ReferralBonusPercent.IsNegative() {
		return nil, fmt.Errorf("referral bonus percent must not be negative")
	}
	return &service{
		repo:                 params.Repo,
		referralBonusPercent: params.ReferralBonusPercent,
		now:                  time.Now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

func (s *service) Apply(ctx context.Context, input ApplyInput) (*Application, error) {
	code := strings.TrimSpace(input.Code)
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "promo code is required")
	}
	if input.UserID == uuid.Nil || input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id and order id are required")
	}
	if input.Amount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must not be negative")
	}

	promo, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.checkEligibility(ctx, promo, input, now); err != nil {
		return nil, err
	}

	redeemed, err := s.repo.Redeem(ctx, promo.ID, now)
	if err != nil {
		return nil, err
	}
	if !redeemed {
		// The conditional update lost: either the last use went to a
		// concurrent redeemer or the code expired between read and write.
		return nil, s.classifyRedeemFailure(promo, now)
	}

	application := s.compute(promo, input.Amount)
	redemption := &models.PromoRedemption{
		PromoCodeID:    promo.ID,
		OrderID:        input.OrderID,
		UserID:         input.UserID,
		DiscountAmount: application.DiscountAmount,
	}
	if err := s.repo.CreateRedemption(ctx, redemption); err != nil {
		return nil, err
	}
	return application, nil
}

func (s *service) checkEligibility(ctx context.Context, promo *models.PromoCode, input ApplyInput, now time.Time) error {
	if !promo.Active {
		return pkgerrors.New(pkgerrors.CodeNotFound, "promo code not found", map[string]any{"code": promo.Code})
	}
	if promo.ExpiresAt != nil && !promo.ExpiresAt.After(now) {
		return pkgerrors.New(pkgerrors.CodePromoExpired, "promo code has expired", map[string]any{"code": promo.Code})
	}
	if input.Amount.LessThan(promo.MinOrderAmount) {
		return pkgerrors.New(pkgerrors.CodeValidation, "order amount below promo minimum", map[string]any{
			"code":             promo.Code,
			"min_order_amount": promo.MinOrderAmount.String(),
		})
	}
	if promo.PerUserLimit > 0 {
		used, err := s.repo.CountRedemptionsByUser(ctx, promo.ID, input.UserID)
		if err != nil {
			return err
		}
		if used >= int64(promo.PerUserLimit) {
			return pkgerrors.New(pkgerrors.CodePromoExhausted, "promo code per-user limit reached", map[string]any{
				"code": promo.Code,
			})
		}
	}
	return nil
}

func (s *service) classifyRedeemFailure(promo *models.PromoCode, now time.Time) error {
	if promo.ExpiresAt != nil && !promo.ExpiresAt.After(now) {
		return pkgerrors.New(pkgerrors.CodePromoExpired, "promo code has expired", map[string]any{"code": promo.Code})
	}
	return pkgerrors.New(pkgerrors.CodePromoExhausted, "promo code has no uses left", map[string]any{"code": promo.Code})
}

func (s *service) compute(promo *models.PromoCode, amount decimal.Decimal) *Application {
	application := &Application{
		PromoCodeID:    promo.ID,
		Kind:           promo.Kind,
		DiscountAmount: decimal.Zero,
		AdjustedTotal:  amount,
	}
	switch promo.Kind {
	case enums.PromoKindPercentage:
		application.DiscountAmount = amount.Mul(promo.Value).Div(decimal.NewFromInt(100)).Round(2)
	case enums.PromoKindFixedAmount:
		application.DiscountAmount = decimal.Min(promo.Value, amount)
	case enums.PromoKindBonusUC:
		application.BonusUC = promo.BonusUC
	}
	application.AdjustedTotal = amount.Sub(application.DiscountAmount)
	return application
}

// LinkReferral records that referrerUserID referred referredUserID. The
// unique index on referred_user_id enforces at most one referrer per user.
func (s *service) LinkReferral(ctx context.Context, referredUserID, referrerUserID uuid.UUID) (*models.Referral, error) {
	if referredUserID == uuid.Nil || referrerUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred and referrer user ids are required")
	}
	if referredUserID == referrerUserID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "a user cannot refer themselves")
	}
	referral := &models.Referral{
		ReferredUserID: referredUserID,
		ReferrerUserID: referrerUserID,
		Bonus:          decimal.Zero,
	}
	if err := s.repo.CreateReferral(ctx, referral); err != nil {
		return nil, err
	}
	return referral, nil
}

// AccrueReferralBonus credits the referrer when the referred user's first
// order reaches delivered. Returns nil when the user has no referrer or the
// bonus was already granted.
func (s *service) AccrueReferralBonus(ctx context.Context, referredUserID uuid.UUID, orderAmount decimal.Decimal) (*models.Referral, error) {
	if referredUserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "referred user id is required")
	}
	referral, err := s.repo.GetReferralByReferredUser(ctx, referredUserID)
	if err != nil {
		return nil, err
	}
	if referral == nil {
		return nil, nil
	}

	bonus := orderAmount.Mul(s.referralBonusPercent).Div(decimal.NewFromInt(100)).Round(2)
	grantedAt := s.now().UTC()
	granted, err := s.repo.GrantReferralBonus(ctx, referral.ID, bonus, grantedAt)
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, nil
	}

	referral.Bonus = bonus
	referral.BonusGrantedAt = &grantedAt
	return referral, nil
}

// ExpireStale deactivates promo codes whose expiry has passed, so the
// lookup path stops matching them without waiting on a redemption miss.
func (s *service) ExpireStale(ctx context.Context) (int64, error) {
	return s.repo.DeactivateExpired(ctx, s.now().UTC())
}
