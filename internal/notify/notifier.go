package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ucstore/ucstore-backend/pkg/logger"
)

// Event is a user-facing notification trigger.
type Event string

const (
	EventOrderPaid      Event = "order_paid"
	EventOrderDelivered Event = "order_delivered"
	EventOrderFailed    Event = "order_failed"
	EventOrderCancelled Event = "order_cancelled"
)

// Notifier pushes order lifecycle updates to the user. Implementations are
// fire-and-forget: callers log failures and move on, they never propagate.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, event Event, data map[string]any) error
}

// LogNotifier writes notifications to the structured log. It stands in for
// the chat-bot messaging collaborator in deployments without one.
type LogNotifier struct {
	logg *logger.Logger
}

func NewLogNotifier(logg *logger.Logger) *LogNotifier {
	return &LogNotifier{logg: logg}
}

func (n *LogNotifier) Notify(ctx context.Context, userID uuid.UUID, event Event, data map[string]any) error {
	if n.logg == nil {
		return nil
	}
	ctx = n.logg.WithUserID(ctx, userID.String())
	ctx = n.logg.WithField(ctx, "notification", string(event))
	if len(data) > 0 {
		ctx = n.logg.WithFields(ctx, data)
	}
	n.logg.Info(ctx, fmt.Sprintf("notify user: %s", event))
	return nil
}
