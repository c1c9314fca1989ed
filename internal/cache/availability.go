// Package cache signals the external availability read-cache when a doctor's
// bookable slots change. Invalidation is fire-and-forget: a miss only costs
// the reader a rebuild, so errors are logged and swallowed.
package cache

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicdesk/clinic-scheduling/pkg/logging"
)

const keyPrefix = "availability:doctor:"

// Key returns the cache key holding a doctor's availability view.
func Key(doctorID uuid.UUID) string {
	return keyPrefix + doctorID.String()
}

type AvailabilityInvalidator struct {
	client *redis.Client
	logger *logging.Logger
}

func NewAvailabilityInvalidator(client *redis.Client, logger *logging.Logger) *AvailabilityInvalidator {
	if logger == nil {
		logger = logging.Default()
	}
	return &AvailabilityInvalidator{client: client, logger: logger}
}

func (i *AvailabilityInvalidator) InvalidateDoctor(ctx context.Context, doctorID uuid.UUID) {
	if err := i.client.Del(ctx, Key(doctorID)).Err(); err != nil {
		i.logger.Warn("availability cache invalidation failed", "doctor_id", doctorID, "error", err)
	}
}

// Noop satisfies the invalidator contract when no cache is deployed.
type Noop struct{}

func (Noop) InvalidateDoctor(context.Context, uuid.UUID) {}
