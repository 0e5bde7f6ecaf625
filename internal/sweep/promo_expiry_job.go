package sweep

import (
	"context"
	"fmt"

	"github.com/ucstore/ucstore-backend/pkg/logger"
)

type promoExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// PromoExpiryJobParams configure the promo housekeeping job.
type PromoExpiryJobParams struct {
	Logger *logger.Logger
	Promos promoExpirer
}

// NewPromoExpiryJob builds the job that flips expired promo codes inactive.
func NewPromoExpiryJob(params PromoExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Promos == nil {
		return nil, fmt.Errorf("promo service required")
	}
	return &promoExpiryJob{logg: params.Logger, promos: params.Promos}, nil
}

type promoExpiryJob struct {
	logg   *logger.Logger
	promos promoExpirer
}

func (j *promoExpiryJob) Name() string { return "promo-expiry" }

func (j *promoExpiryJob) Run(ctx context.Context) error {
	expired, err := j.promos.ExpireStale(ctx)
	if err != nil {
		return fmt.Errorf("expire stale promo codes: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{"expired": expired}), "promo expiry sweep complete")
	return nil
}
