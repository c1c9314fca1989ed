// Package notify persists notifications created by appointment transitions
// and pushes them to the owning user over a Redis channel. The push is
// best-effort; the row is the durable record.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/clinic-scheduling/internal/booking"
	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

// Store is the persistence slice the sink needs.
type Store interface {
	CreateNotification(ctx context.Context, n *booking.Notification) error
}

// Channel returns the pub/sub channel carrying a user's pushes.
func Channel(userID uuid.UUID) string {
	return "notify:user:" + userID.String()
}

type Sink struct {
	store  Store
	client *redis.Client
	logger *logging.Logger
}

func NewSink(store Store, client *redis.Client, logger *logging.Logger) *Sink {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sink{store: store, client: client, logger: logger}
}

type pushPayload struct {
	ID            uuid.UUID  `json:"id"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
}

// Notify writes the notification row, then publishes a push. Neither failure
// propagates to the transition that raised the notification.
func (s *Sink) Notify(ctx context.Context, n booking.Notification) {
	if err := s.store.CreateNotification(ctx, &n); err != nil {
		s.logger.Error("persist notification failed", "user_id", n.UserID, "type", n.Type, "error", err)
		return
	}

	if s.client == nil {
		return
	}

	payload, err := json.Marshal(pushPayload{
		ID:            n.ID,
		Type:          string(n.Type),
		Title:         n.Title,
		Message:       n.Message,
		AppointmentID: n.AppointmentID,
	})
	if err != nil {
		s.logger.Error("marshal push payload failed", "error", err)
		return
	}

	if err := s.client.Publish(ctx, Channel(n.UserID), payload).Err(); err != nil {
		s.logger.Warn("notification push failed", "user_id", n.UserID, "error", err)
	}
}
