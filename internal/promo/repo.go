package promo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	pkgerrors "github.com/ucstore/ucstore-backend/pkg/errors"
)

// Repository persists promo codes, redemptions and referrals. Redeem is the
// only write path that moves used_count.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	GetByCode(ctx context.Context, code string) (*models.PromoCode, error)
	Redeem(ctx context.Context, promoCodeID uuid.UUID, now time.Time) (bool, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	CreateRedemption(ctx context.Context, redemption *models.PromoRedemption) error
	CountRedemptionsByUser(ctx context.Context, promoCodeID, userID uuid.UUID) (int64, error)

	GetReferralByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error)
	CreateReferral(ctx context.Context, referral *models.Referral) error
	GrantReferralBonus(ctx context.Context, referralID uuid.UUID, bonus decimal.Decimal, grantedAt time.Time) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&promo).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "promo code not found", map[string]any{"code": code})
		}
		return nil, err
	}
	return &promo, nil
}

// Redeem performs the single conditional increment that makes redemption
// race-safe: with one remaining use, concurrent redeemers contend on this
// UPDATE and exactly one sees an affected row.
func (r *repository) Redeem(ctx context.Context, promoCodeID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("id = ? AND active = ?", promoCodeID, true).
		Where("usage_limit IS NULL OR used_count < usage_limit").
		Where("expires_at IS NULL OR expires_at > ?", now).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PromoCode{}).
		Where("active = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now).
		UpdateColumn("active", false)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repository) CreateRedemption(ctx context.Context, redemption *models.PromoRedemption) error {
	return r.db.WithContext(ctx).Create(redemption).Error
}

func (r *repository) CountRedemptionsByUser(ctx context.Context, promoCodeID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PromoRedemption{}).
		Where("promo_code_id = ? AND user_id = ?", promoCodeID, userID).
		Count(&count).Error
	return count, err
}

func (r *repository) GetReferralByReferredUser(ctx context.Context, referredUserID uuid.UUID) (*models.Referral, error) {
	var referral models.Referral
	err := r.db.WithContext(ctx).Where("referred_user_id = ?", referredUserID).First(&referral).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &referral, nil
}

func (r *repository) CreateReferral(ctx context.Context, referral *models.Referral) error {
	return r.db.WithContext(ctx).Create(referral).Error
}

// GrantReferralBonus writes the bonus iff it has never been granted. The
// bonus_granted_at IS NULL guard makes the accrual at-most-once even when two
// delivered transitions race.
func (r *repository) GrantReferralBonus(ctx context.Context, referralID uuid.UUID, bonus decimal.Decimal, grantedAt time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Referral{}).
		Where("id = ? AND bonus_granted_at IS NULL", referralID).
		Updates(map[string]any{
			"bonus":            bonus,
			"bonus_granted_at": grantedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
