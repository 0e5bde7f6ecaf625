package sweep

import (
	"context"
	"fmt"
	"time"

	"github.com/ucstore/ucstore-backend/pkg/logger"
)

type paymentRedriver interface {
	ReDrivePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

// StalePaymentsJobParams configure the payment reconciliation job.
type StalePaymentsJobParams struct {
	Logger          *logger.Logger
	Payments        paymentRedriver
	StalenessWindow time.Duration
	BatchSize       int
}

// NewStalePaymentsJob builds the job that pushes payment attempts stuck in
// pending back through the state machine. This is the recovery path for
// webhooks that were recorded but never fully applied.
func NewStalePaymentsJob(params StalePaymentsJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	if params.StalenessWindow <= 0 {
		return nil, fmt.Errorf("staleness window must be positive")
	}
	return &stalePaymentsJob{
		logg:      params.Logger,
		payments:  params.Payments,
		window:    params.StalenessWindow,
		batchSize: params.BatchSize,
		now:       time.Now,
	}, nil
}

type stalePaymentsJob struct {
	logg      *logger.Logger
	payments  paymentRedriver
	window    time.Duration
	batchSize int
	now       func() time.Time
}

func (j *stalePaymentsJob) Name() string { return "stale-payments" }

func (j *stalePaymentsJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	driven, err := j.payments.ReDrivePending(ctx, cutoff, j.batchSize)
	logCtx := j.logg.WithFields(ctx, map[string]any{"driven": driven})
	if err != nil {
		return fmt.Errorf("re-drive pending attempts: %w", err)
	}
	j.logg.Info(logCtx, "stale payment reconciliation complete")
	return nil
}
