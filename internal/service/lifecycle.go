package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
)

// lifecycle holds the transition rules shared by the booking service and the
// payment orchestrator. Every status change goes through transition so that
// the halt check, the state machine and the CAS are applied in one place.
type lifecycle struct {
	repos     Repositories
	ledger    ReservationLedger
	contracts ContractService
	outbox    *outbox
	now       func() time.Time
}

// transition moves b to status to if b still holds the status it was read
// with. b is updated in place on success.
func (l *lifecycle) transition(ctx context.Context, b *domain.Booking, to domain.BookingStatus, actor domain.Principal, reason, op string, deadline *time.Time) error {
	if b.Halted {
		return fmt.Errorf("%s booking %s: %w", op, b.ID, domain.ErrBookingHalted)
	}
	if !domain.CanTransition(b.Status, to) {
		if actor.Role == domain.RoleSystem {
			logger.ErrorContext(ctx, "Internal caller requested invalid transition", "booking_id", b.ID, "from", b.Status, "to", to, "op", op)
		}
		return domain.NewTransitionError(op, b.Status)
	}

	now := l.now()
	t := &domain.Transition{
		BookingID:     b.ID,
		From:          b.Status,
		To:            to,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
		Reason:        reason,
		At:            now,
		Deadline:      deadline,
		ClearDeadline: deadline == nil,
	}
	if err := l.repos.Bookings.Transition(ctx, t); err != nil {
		if errors.Is(err, domain.ErrStaleState) {
			logger.InfoContext(ctx, "Booking transition lost CAS", "booking_id", b.ID, "from", t.From, "to", to)
		}
		return err
	}

	b.Status = to
	b.UpdatedOn = now
	b.ExpiresAt = deadline
	logger.InfoContext(ctx, "Booking transitioned", "booking_id", b.ID, "from", t.From, "to", to,
		"actor_id", actor.ID, "actor_role", actor.Role)
	return nil
}

// cancel moves b to CANCELLED and unwinds everything it holds: the reservation
// window, an unsigned contract and any open payment order. A failed release
// halts the booking since the ledger would still block its dates.
func (l *lifecycle) cancel(ctx context.Context, b *domain.Booking, actor domain.Principal, reason, op string, events ...domain.EventType) error {
	prior := b.Status
	if err := l.transition(ctx, b, domain.BookingStatusCancelled, actor, reason, op, nil); err != nil {
		return err
	}

	if err := l.ledger.Release(ctx, b.ID); err != nil {
		l.halt(ctx, b, fmt.Sprintf("release after %s failed: %v", op, err))
		return fmt.Errorf("%w: release window for cancelled booking %s: %v", domain.ErrInvariant, b.ID, err)
	}

	if b.ContractID != nil {
		role := actor.Role
		if role == domain.RoleAdmin {
			role = domain.RoleSystem
		}
		if _, err := l.contracts.Reject(ctx, *b.ContractID, role); err != nil &&
			!errors.Is(err, domain.ErrConflict) {
			logger.WarnContext(ctx, "Failed to mark contract rejected on cancel", "booking_id", b.ID, "contract_id", *b.ContractID, "error", err)
		}
	}

	if n, err := l.repos.Orders.FailOpenByBooking(ctx, b.ID, "booking cancelled: "+reason, l.now()); err != nil {
		logger.WarnContext(ctx, "Failed to fail open payment orders", "booking_id", b.ID, "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "Open payment orders failed on cancel", "booking_id", b.ID, "count", n)
	}

	attrs := map[string]string{"reason": reason, "actor_role": string(actor.Role)}
	for _, evt := range events {
		l.outbox.emit(ctx, evt, b.ID, prior, b.Status, attrs)
	}
	return nil
}

// afterConfirm finalizes the window of a booking that just reached CONFIRMED.
// A missing HELD window means the ledger and the booking diverged; the
// booking is halted rather than left to further automation.
func (l *lifecycle) afterConfirm(ctx context.Context, b *domain.Booking, prior domain.BookingStatus) error {
	if err := l.ledger.Finalize(ctx, b.ID); err != nil {
		l.halt(ctx, b, fmt.Sprintf("finalize failed: %v", err))
		if errors.Is(err, domain.ErrInvariant) {
			return err
		}
		return fmt.Errorf("%w: %v", domain.ErrInvariant, err)
	}
	if _, err := l.repos.Orders.FailOpenByBooking(ctx, b.ID, "superseded by confirmed booking", l.now()); err != nil {
		logger.WarnContext(ctx, "Failed to close sibling payment orders", "booking_id", b.ID, "error", err)
	}
	l.outbox.emit(ctx, domain.EventBookingConfirmed, b.ID, prior, b.Status, nil)
	return nil
}

// confirmPaid moves a PAYMENT_PENDING booking whose order is VERIFIED to
// CONFIRMED and finalizes its window. It reports false when the booking moved
// first; the paid order is then failed and the window released.
func (l *lifecycle) confirmPaid(ctx context.Context, b *domain.Booking, order *domain.PaymentOrder) (bool, error) {
	prior := b.Status
	if err := l.transition(ctx, b, domain.BookingStatusConfirmed, domain.SystemPrincipal, "payment verified", "confirm", nil); err != nil {
		if !errors.Is(err, domain.ErrStaleState) {
			return false, err
		}
		latest, lerr := l.repos.Bookings.GetByID(ctx, b.ID)
		if lerr != nil {
			return false, lerr
		}
		if latest.Status == domain.BookingStatusConfirmed {
			return true, nil
		}
		l.refundPaid(ctx, latest, order.ID, fmt.Sprintf("booking %s moved to %s during verification", b.ID, latest.Status), domain.PaymentOrderStatusVerified)
		return false, nil
	}

	l.outbox.emit(ctx, domain.EventPaymentVerified, b.ID, prior, b.Status, map[string]string{
		"order_id":           order.ID,
		"gateway_payment_id": order.GatewayPaymentID,
	})
	if err := l.afterConfirm(ctx, b, prior); err != nil {
		return false, err
	}
	return true, nil
}

// refundPaid fails an order whose money arrived for a booking that can no
// longer be confirmed and frees the window of a cancelled booking. The refund
// itself is out of band.
func (l *lifecycle) refundPaid(ctx context.Context, b *domain.Booking, orderID, reason string, from domain.PaymentOrderStatus) {
	if _, err := l.repos.Orders.MarkFailed(ctx, orderID, []domain.PaymentOrderStatus{from}, reason, l.now()); err != nil {
		logger.ErrorContext(ctx, "Failed to mark payment order failed", "order_id", orderID, "error", err)
	}
	if b.Status == domain.BookingStatusCancelled {
		if err := l.ledger.Release(ctx, b.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to release window of refunded booking", "booking_id", b.ID, "error", err)
		}
	}
	logger.WarnContext(ctx, "Payment received for unconfirmable booking, refund required", "order_id", orderID, "booking_id", b.ID, "reason", reason)
}

// verifiedOrder returns the booking's VERIFIED order, or nil.
func (l *lifecycle) verifiedOrder(ctx context.Context, bookingID string) (*domain.PaymentOrder, error) {
	orders, err := l.repos.Orders.ListByBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("list payment orders: %w", err)
	}
	for i := range orders {
		if orders[i].Status == domain.PaymentOrderStatusVerified {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// expire cancels b for a missed deadline. A PAYMENT_PENDING booking whose
// payment was already verified is confirmed instead; callers check b.Status.
func (l *lifecycle) expire(ctx context.Context, b *domain.Booking) error {
	reason := "provider response deadline elapsed"
	if b.Status == domain.BookingStatusPaymentPending {
		reason = "payment window elapsed"
		order, err := l.verifiedOrder(ctx, b.ID)
		if err != nil {
			return err
		}
		if order != nil {
			logger.WarnContext(ctx, "Payment window elapsed with a verified order, confirming", "booking_id", b.ID, "order_id", order.ID)
			_, err := l.confirmPaid(ctx, b, order)
			return err
		}
	}
	return l.cancel(ctx, b, domain.SystemPrincipal, reason, "expire", domain.EventBookingCancelled)
}

func (l *lifecycle) halt(ctx context.Context, b *domain.Booking, reason string) {
	logger.ErrorContext(ctx, "Halting booking for manual reconciliation", "booking_id", b.ID, "status", b.Status, "reason", reason)
	if err := l.repos.Bookings.Halt(ctx, b.ID, reason); err != nil {
		logger.ErrorContext(ctx, "Failed to halt booking", "booking_id", b.ID, "error", err)
		return
	}
	b.Halted = true
	b.HaltReason = reason
}
