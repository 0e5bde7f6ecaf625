package risk

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ucstore/ucstore-backend/pkg/config"
	"github.com/ucstore/ucstore-backend/pkg/enums"
	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// Stage says where in the order lifecycle the evaluation runs. Only the
// payment stage moves the velocity counter; the delivery stage re-reads it.
type Stage string

const (
	StagePayment  Stage = "payment"
	StageDelivery Stage = "delivery"
)

// CounterStore is the sliding velocity counter, backed by redis in
// production.
type CounterStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Get(ctx context.Context, key string) (string, error)
	CounterKey(parts ...string) string
}

// Input carries the signals the evaluator scores.
type Input struct {
	UserID           uuid.UUID
	Amount           decimal.Decimal
	AccountCreatedAt time.Time
	Stage            Stage
}

// Assessment is the evaluator's verdict plus the reasons behind it.
type Assessment struct {
	Decision enums.RiskDecision
	Reasons  []string
	Velocity int64
}

type Service interface {
	Evaluate(ctx context.Context, input Input) (*Assessment, error)
}

type service struct {
	counters        CounterStore
	cfg             config.RiskConfig
	amountReviewMax decimal.Decimal
	amountBlockMax  decimal.Decimal
	logg            *logger.Logger
	now             func() time.Time
}

type ServiceParams struct {
	Counters CounterStore
	Config   config.RiskConfig
	Logger   *logger.Logger
}

func NewService(params ServiceParams) (Service, error) {
	if params.Counters == nil {
		return nil, fmt.Errorf("counter store required")
	}
	reviewMax, err := decimal.NewFromString(params.Config.AmountReviewMax)
	if err != nil {
		return nil, fmt.Errorf("parsing amount review max: %w", err)
	}
	blockMax, err := decimal.NewFromString(params.Config.AmountBlockMax)
	if err != nil {
		return nil, fmt.Errorf("parsing amount block max: %w", err)
	}
	if blockMax.LessThan(reviewMax) {
		return nil, fmt.Errorf("amount block max must be >= amount review max")
	}
	return &service{
		counters:        params.Counters,
		cfg:             params.Config,
		amountReviewMax: reviewMax,
		amountBlockMax:  blockMax,
		logg:            params.Logger,
		now:             time.Now,
	}, nil
}

// Evaluate scores velocity, amount thresholds and account age and returns the
// strictest verdict any signal produced. Counter store outages degrade to a
// velocity of zero rather than blocking payments. Review-level findings only
// fire at the payment stage: the delivery gate runs after each of them has
// either passed or been parked and adjudicated by an admin, so re-raising
// them would deadlock approved orders. Block-level findings fire at both
// stages.
func (s *service) Evaluate(ctx context.Context, input Input) (*Assessment, error) {
	if input.UserID == uuid.Nil {
		return nil, fmt.Errorf("user id is required")
	}

	assessment := &Assessment{Decision: enums.RiskDecisionAllow}

	velocity := s.velocity(ctx, input)
	assessment.Velocity = velocity
	if velocity > int64(s.cfg.VelocityBlockMax) {
		s.escalate(assessment, enums.RiskDecisionBlock, fmt.Sprintf("order velocity %d above block threshold", velocity))
	} else if input.Stage != StageDelivery && velocity > int64(s.cfg.VelocityReviewMax) {
		s.escalate(assessment, enums.RiskDecisionReview, fmt.Sprintf("order velocity %d above review threshold", velocity))
	}

	if input.Amount.GreaterThan(s.amountBlockMax) {
		s.escalate(assessment, enums.RiskDecisionBlock, fmt.Sprintf("amount %s above block threshold", input.Amount))
	} else if input.Stage != StageDelivery && input.Amount.GreaterThan(s.amountReviewMax) {
		s.escalate(assessment, enums.RiskDecisionReview, fmt.Sprintf("amount %s above review threshold", input.Amount))
	}

	if input.Stage != StageDelivery && !input.AccountCreatedAt.IsZero() {
		age := s.now().Sub(input.AccountCreatedAt)
		if age < s.cfg.MinAccountAge {
			s.escalate(assessment, enums.RiskDecisionReview, fmt.Sprintf("account age %s below minimum", age.Round(time.Minute)))
		}
	}

	return assessment, nil
}

func (s *service) velocity(ctx context.Context, input Input) int64 {
	key := s.counters.CounterKey("velocity", input.UserID.String())

	if input.Stage == StageDelivery {
		raw, err := s.counters.Get(ctx, key)
		if err != nil || raw == "" {
			return 0
		}
		count, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0
		}
		return count
	}

	count, err := s.counters.IncrWithTTL(ctx, key, s.cfg.VelocityWindow)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(ctx, fmt.Sprintf("velocity counter unavailable, treating as zero: %v", err))
		}
		return 0
	}
	return count
}

func (s *service) escalate(assessment *Assessment, decision enums.RiskDecision, reason string) {
	assessment.Reasons = append(assessment.Reasons, reason)
	if decision == enums.RiskDecisionBlock || assessment.Decision == enums.RiskDecisionAllow {
		assessment.Decision = decision
	}
}
