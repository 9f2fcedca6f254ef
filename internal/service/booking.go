package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/utils"
)

type bookingService struct {
	*lifecycle
	payments            PaymentService
	providerResponseTTL time.Duration
	paymentWindow       time.Duration
	paymentRequired     bool
	sweepBatch          int
}

func NewBookingService(repos Repositories, ledger ReservationLedger, contracts ContractService, payments PaymentService, opts ...Option) BookingService {
	o := buildOptions(opts)
	return &bookingService{
		lifecycle: &lifecycle{
			repos:     repos,
			ledger:    ledger,
			contracts: contracts,
			outbox:    newOutbox(repos.Outbox, o.now),
			now:       o.now,
		},
		payments:            payments,
		providerResponseTTL: o.providerResponseTTL,
		paymentWindow:       o.paymentWindow,
		paymentRequired:     o.paymentRequired,
		sweepBatch:          o.sweepBatch,
	}
}

func (s *bookingService) CreateBooking(ctx context.Context, p domain.Principal, in CreateBookingInput) (*domain.Booking, error) {
	if p.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: only customers can book", domain.ErrForbidden)
	}
	start, end := utils.TruncateDay(in.StartDate), utils.TruncateDay(in.EndDate)
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: end date must be after start date", domain.ErrValidation)
	}
	now := s.now()
	if start.Before(utils.TruncateDay(now)) {
		return nil, fmt.Errorf("%w: start date is in the past", domain.ErrValidation)
	}

	v, err := s.repos.Vehicles.GetByID(ctx, in.VehicleID)
	if err != nil {
		return nil, err
	}
	if v.ProviderID == p.ID {
		return nil, fmt.Errorf("%w: providers cannot book their own vehicle", domain.ErrValidation)
	}
	if v.Status == domain.VehicleStatusMaintenance {
		return nil, fmt.Errorf("%w: vehicle %s is under maintenance", domain.ErrConflict, v.ID)
	}
	total, err := utils.CalculateRentalCost(start, end, v.DailyRate)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	id := uuid.NewString()
	deadline := now.Add(s.providerResponseTTL)
	b := &domain.Booking{
		ID:         id,
		CustomerID: p.ID,
		ProviderID: v.ProviderID,
		VehicleID:  v.ID,
		StartDate:  start,
		EndDate:    end,
		DailyRate:  v.DailyRate,
		Currency:   v.Currency,
		TotalCost:  total,
		Status:     domain.BookingStatusPendingProvider,
		ExpiresAt:  &deadline,
		CreatedOn:  now,
		UpdatedOn:  now,
	}
	result, err := s.ledger.ClaimForBooking(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("create booking: %w", err)
	}
	if result == domain.ClaimResultConflict {
		return nil, domain.ErrDatesUnavailable
	}

	logger.InfoContext(ctx, "Booking created", "booking_id", id, "vehicle_id", v.ID, "customer_id", p.ID, "total_cost", total)
	s.outbox.emit(ctx, domain.EventBookingCreated, id, "", b.Status, map[string]string{
		"vehicle_id":  v.ID,
		"customer_id": p.ID,
		"provider_id": v.ProviderID,
	})
	return b, nil
}

// AcceptBooking issues the contract with the provider's signature. A request
// past its response deadline is expired here instead of accepted, even if the
// sweep has not reached it yet.
func (s *bookingService) AcceptBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, *domain.Contract, error) {
	b, err := s.providerBooking(ctx, p, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.Expired(s.now()) {
		if err := s.expire(ctx, b); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, nil, err
		}
		return nil, nil, domain.NewTransitionError("accept", domain.BookingStatusCancelled)
	}
	if b.Status != domain.BookingStatusPendingProvider {
		return nil, nil, domain.NewTransitionError("accept", b.Status)
	}

	prior := b.Status
	if err := s.transition(ctx, b, domain.BookingStatusProviderAccepted, p, "", "accept", nil); err != nil {
		return nil, nil, err
	}
	c, created, err := s.contracts.Issue(ctx, b)
	if err != nil {
		// Accepted without a contract: the customer cannot sign, so hand the
		// booking to an operator instead of leaving it waiting.
		s.halt(ctx, b, fmt.Sprintf("contract issue failed: %v", err))
		return nil, nil, fmt.Errorf("%w: issue contract: %v", domain.ErrInvariant, err)
	}
	b.ContractID = &c.ID

	// A cancel that landed between the accept and the issue saw no contract
	// to reject, so the rejection happens here.
	latest, err := s.repos.Bookings.GetByID(ctx, b.ID)
	if err != nil {
		return nil, nil, err
	}
	if latest.Status == domain.BookingStatusCancelled {
		if _, err := s.contracts.Reject(ctx, c.ID, domain.RoleSystem); err != nil && !errors.Is(err, domain.ErrConflict) {
			logger.WarnContext(ctx, "Failed to reject contract of booking cancelled during accept", "booking_id", b.ID, "contract_id", c.ID, "error", err)
		}
		return nil, nil, domain.NewTransitionError("accept", domain.BookingStatusCancelled)
	}

	s.outbox.emit(ctx, domain.EventBookingAccepted, b.ID, prior, b.Status, nil)
	if created {
		s.outbox.emit(ctx, domain.EventContractIssued, b.ID, prior, b.Status, map[string]string{"contract_id": c.ID})
	}
	return b, c, nil
}

func (s *bookingService) DeclineBooking(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
	b, err := s.providerBooking(ctx, p, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Expired(s.now()) {
		if err := s.expire(ctx, b); err != nil && !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, domain.NewTransitionError("decline", domain.BookingStatusCancelled)
	}
	if b.Status != domain.BookingStatusPendingProvider {
		return nil, domain.NewTransitionError("decline", b.Status)
	}
	if reason == "" {
		reason = "declined by provider"
	}
	if err := s.cancel(ctx, b, p, reason, "decline", domain.EventBookingDeclined, domain.EventBookingCancelled); err != nil {
		return nil, err
	}
	return b, nil
}

// CancelBooking is the customer's withdrawal before payment starts. Once in
// PAYMENT_PENDING the booking either confirms or times out.
func (s *bookingService) CancelBooking(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
	b, err := s.customerBooking(ctx, p, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != domain.BookingStatusPendingProvider && b.Status != domain.BookingStatusProviderAccepted {
		return nil, domain.NewTransitionError("cancel", b.Status)
	}
	if reason == "" {
		reason = "cancelled by customer"
	}
	if err := s.cancel(ctx, b, p, reason, "cancel", domain.EventBookingCancelled); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *bookingService) SignContract(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, *domain.PaymentOrder, error) {
	b, err := s.customerBooking(ctx, p, bookingID)
	if err != nil {
		return nil, nil, err
	}
	if b.Status != domain.BookingStatusProviderAccepted {
		return nil, nil, domain.NewTransitionError("sign", b.Status)
	}
	if b.Halted {
		return nil, nil, fmt.Errorf("sign booking %s: %w", b.ID, domain.ErrBookingHalted)
	}
	c, _, err := s.contracts.Issue(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	if err := signable(c); err != nil {
		return nil, nil, err
	}

	prior := b.Status
	to := domain.BookingStatusPaymentPending
	var deadline *time.Time
	if s.paymentRequired {
		d := s.now().Add(s.paymentWindow)
		deadline = &d
	} else {
		to = domain.BookingStatusConfirmed
	}
	if err := s.transition(ctx, b, to, p, "contract signed", "sign", deadline); err != nil {
		return nil, nil, err
	}
	if _, err := s.contracts.Sign(ctx, c.ID, domain.RoleCustomer); err != nil {
		// The booking already advanced on the strength of this signature.
		s.halt(ctx, b, fmt.Sprintf("contract signature failed after transition: %v", err))
		return nil, nil, fmt.Errorf("%w: sign contract %s: %v", domain.ErrInvariant, c.ID, err)
	}
	s.outbox.emit(ctx, domain.EventContractSigned, b.ID, prior, b.Status, map[string]string{"contract_id": c.ID})

	if !s.paymentRequired {
		if err := s.afterConfirm(ctx, b, prior); err != nil {
			return nil, nil, err
		}
		logger.InfoContext(ctx, "Booking confirmed without payment", "booking_id", b.ID)
		return b, nil, nil
	}

	order, err := s.payments.CreateOrder(ctx, p, c.ID)
	if err != nil {
		logger.WarnContext(ctx, "Contract signed but payment order creation failed", "booking_id", b.ID, "error", err)
		return b, nil, fmt.Errorf("contract signed, payment order not created: %w", err)
	}
	return b, order, nil
}

func (s *bookingService) RejectContract(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error) {
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	switch {
	case p.Role == domain.RoleCustomer && p.ID == b.CustomerID:
	case p.Role == domain.RoleProvider && p.ID == b.ProviderID:
	default:
		return nil, fmt.Errorf("%w: not a party to booking %s", domain.ErrForbidden, bookingID)
	}
	if b.Status != domain.BookingStatusProviderAccepted {
		return nil, domain.NewTransitionError("reject contract", b.Status)
	}
	if b.ContractID != nil {
		c, err := s.repos.Contracts.GetByID(ctx, *b.ContractID)
		if err != nil {
			return nil, err
		}
		if err := rejectable(c); err != nil {
			return nil, err
		}
	}
	if reason == "" {
		reason = fmt.Sprintf("contract rejected by %s", p.Role)
	}
	if err := s.cancel(ctx, b, p, reason, "reject contract", domain.EventContractRejected, domain.EventBookingCancelled); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *bookingService) GetBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error) {
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !canView(p, b) {
		return nil, fmt.Errorf("%w: not a party to booking %s", domain.ErrForbidden, bookingID)
	}
	return b, nil
}

func (s *bookingService) ListBookings(ctx context.Context, p domain.Principal, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	switch p.Role {
	case domain.RoleCustomer:
		return s.repos.Bookings.ListByCustomer(ctx, p.ID, status, page, pageSize)
	case domain.RoleProvider:
		return s.repos.Bookings.ListByProvider(ctx, p.ID, status, page, pageSize)
	}
	return nil, 0, fmt.Errorf("%w: role %s has no booking list", domain.ErrForbidden, p.Role)
}

func (s *bookingService) History(ctx context.Context, p domain.Principal, bookingID string) ([]domain.Transition, error) {
	if _, err := s.GetBooking(ctx, p, bookingID); err != nil {
		return nil, err
	}
	return s.repos.Bookings.ListTransitions(ctx, bookingID)
}

// ResumeBooking is the operator's exit from a halt. It repairs the ledger to
// match the booking's status and then clears the flag.
func (s *bookingService) ResumeBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error) {
	if p.Role != domain.RoleAdmin {
		return nil, fmt.Errorf("%w: only admins can resume bookings", domain.ErrForbidden)
	}
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !b.Halted {
		return b, nil
	}

	switch b.Status {
	case domain.BookingStatusCancelled:
		if err := s.ledger.Release(ctx, b.ID); err != nil {
			return nil, err
		}
	case domain.BookingStatusConfirmed:
		w, err := s.ledger.Window(ctx, b.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: confirmed booking has no window: %v", domain.ErrInvariant, err)
		}
		if w.State == domain.WindowStateHeld {
			if err := s.ledger.Finalize(ctx, b.ID); err != nil {
				return nil, err
			}
		} else if w.State != domain.WindowStateConfirmed {
			return nil, fmt.Errorf("%w: confirmed booking window is %s", domain.ErrInvariant, w.State)
		}
	}

	if err := s.repos.Bookings.Resume(ctx, b.ID); err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Booking resumed", "booking_id", b.ID, "admin_id", p.ID, "status", b.Status, "halt_reason", b.HaltReason)
	b.Halted = false
	b.HaltReason = ""
	return b, nil
}

// ExpireOverdue cancels bookings whose provider response or payment deadline
// has passed and frees windows left behind by bookings that were never saved.
// Bookings that moved on since being listed are skipped; a payment-pending
// booking with a verified order is confirmed rather than cancelled.
func (s *bookingService) ExpireOverdue(ctx context.Context) ([]domain.Booking, error) {
	if n, err := s.ledger.ReleaseOrphans(ctx, s.now().Add(-s.providerResponseTTL), s.sweepBatch); err != nil {
		logger.ErrorContext(ctx, "Failed to sweep orphaned reservation windows", "error", err)
	} else if n > 0 {
		logger.InfoContext(ctx, "Orphaned reservation windows released", "count", n)
	}

	var expired []domain.Booking
	for {
		batch, err := s.repos.Bookings.ListExpired(ctx, s.now(), s.sweepBatch)
		if err != nil {
			return expired, err
		}
		progressed := 0
		for i := range batch {
			if err := ctx.Err(); err != nil {
				return expired, err
			}
			b := &batch[i]
			if err := s.expire(ctx, b); err != nil {
				if errors.Is(err, domain.ErrConflict) || errors.Is(err, domain.ErrBookingHalted) {
					logger.DebugContext(ctx, "Skipping expiry of booking that moved on", "booking_id", b.ID, "error", err)
					continue
				}
				logger.ErrorContext(ctx, "Failed to expire booking", "booking_id", b.ID, "error", err)
				continue
			}
			progressed++
			if b.Status == domain.BookingStatusCancelled {
				expired = append(expired, *b)
			}
		}
		if len(batch) < s.sweepBatch || progressed == 0 {
			return expired, nil
		}
	}
}

func (s *bookingService) providerBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error) {
	if p.Role != domain.RoleProvider {
		return nil, fmt.Errorf("%w: provider only", domain.ErrForbidden)
	}
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.ProviderID != p.ID {
		return nil, fmt.Errorf("%w: booking %s belongs to another provider", domain.ErrForbidden, bookingID)
	}
	return b, nil
}

func (s *bookingService) customerBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error) {
	if p.Role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: customer only", domain.ErrForbidden)
	}
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != p.ID {
		return nil, fmt.Errorf("%w: booking %s belongs to another customer", domain.ErrForbidden, bookingID)
	}
	return b, nil
}
