package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/ucstore/ucstore-backend/pkg/db/models"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

type stalePaidLister interface {
	ListStalePaid(ctx context.Context, olderThan time.Time, limit int) ([]models.Order, error)
}

type deliverer interface {
	Deliver(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

// StuckDeliveryJobParams configure the delivery retry job.
type StuckDeliveryJobParams struct {
	Logger          *logger.Logger
	Orders          stalePaidLister
	Delivery        deliverer
	StalenessWindow time.Duration
	BatchSize       int
}

// NewStuckDeliveryJob builds the job that retries delivery for orders that
// were paid but never delivered, e.g. because the process died mid-delivery
// or the issuance backend was down past the retry budget's horizon.
func NewStuckDeliveryJob(params StuckDeliveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Delivery == nil {
		return nil, fmt.Errorf("delivery service required")
	}
	if params.StalenessWindow <= 0 {
		return nil, fmt.Errorf("staleness window must be positive")
	}
	return &stuckDeliveryJob{
		logg:      params.Logger,
		orders:    params.Orders,
		delivery:  params.Delivery,
		window:    params.StalenessWindow,
		batchSize: params.BatchSize,
		now:       time.Now,
	}, nil
}

type stuckDeliveryJob struct {
	logg      *logger.Logger
	orders    stalePaidLister
	delivery  deliverer
	window    time.Duration
	batchSize int
	now       func() time.Time
}

func (j *stuckDeliveryJob) Name() string { return "stuck-deliveries" }

func (j *stuckDeliveryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	stuck, err := j.orders.ListStalePaid(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale paid orders: %w", err)
	}

	var delivered int
	var errs error
	for _, order := range stuck {
		if _, err := j.delivery.Deliver(ctx, order.ID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order %s: %w", order.ID, err))
			continue
		}
		delivered++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"stuck": len(stuck), "delivered": delivered})
	j.logg.Info(logCtx, "stuck delivery retry loop complete")
	return errs
}
