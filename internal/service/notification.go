package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
)

// outbox appends lifecycle events for the notification, email and UI
// consumers. Emission is fire-and-forget: a failed append is logged and the
// lifecycle operation still succeeds.
type outbox struct {
	repo repository.OutboxRepository
	now  func() time.Time
}

func newOutbox(repo repository.OutboxRepository, now func() time.Time) *outbox {
	return &outbox{repo: repo, now: now}
}

func (o *outbox) emit(ctx context.Context, typ domain.EventType, bookingID string, prior, next domain.BookingStatus, attrs map[string]string) {
	if o == nil || o.repo == nil {
		return
	}
	evt := &domain.Event{
		ID:         uuid.NewString(),
		Type:       typ,
		BookingID:  bookingID,
		PriorState: prior,
		NewState:   next,
		OccurredAt: o.now(),
		Attributes: attrs,
	}
	if err := o.repo.Append(ctx, evt); err != nil {
		logger.ErrorContext(ctx, "Failed to append outbox event", "type", typ, "booking_id", bookingID, "error", err)
	}
}
