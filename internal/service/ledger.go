package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
)

type reservationLedger struct {
	repo  repository.ReservationRepository
	cache AvailabilityCache
	now   func() time.Time
}

// NewReservationLedger wraps the reservation store. cache may be nil.
func NewReservationLedger(repo repository.ReservationRepository, cache AvailabilityCache, opts ...Option) ReservationLedger {
	o := buildOptions(opts)
	return &reservationLedger{repo: repo, cache: cache, now: o.now}
}

func (l *reservationLedger) TryClaim(ctx context.Context, vehicleID string, start, end time.Time, bookingID string) (domain.ClaimResult, error) {
	w, err := l.newWindow(vehicleID, start, end, bookingID)
	if err != nil {
		return "", err
	}
	claimed, err := l.repo.Claim(ctx, w)
	return l.claimed(ctx, w, claimed, err)
}

// ClaimForBooking holds the booking's dates and persists b with the window in
// one unit, so a claim can never outlive a booking that failed to save.
func (l *reservationLedger) ClaimForBooking(ctx context.Context, b *domain.Booking) (domain.ClaimResult, error) {
	w, err := l.newWindow(b.VehicleID, b.StartDate, b.EndDate, b.ID)
	if err != nil {
		return "", err
	}
	claimed, err := l.repo.ClaimForBooking(ctx, w, b)
	return l.claimed(ctx, w, claimed, err)
}

func (l *reservationLedger) newWindow(vehicleID string, start, end time.Time, bookingID string) (*domain.ReservationWindow, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("%w: end date must be after start date", domain.ErrValidation)
	}
	return &domain.ReservationWindow{
		ID:        uuid.NewString(),
		VehicleID: vehicleID,
		BookingID: bookingID,
		StartDate: start,
		EndDate:   end,
		State:     domain.WindowStateHeld,
		CreatedOn: l.now(),
	}, nil
}

func (l *reservationLedger) claimed(ctx context.Context, w *domain.ReservationWindow, claimed bool, err error) (domain.ClaimResult, error) {
	if err != nil {
		return "", fmt.Errorf("claim window for vehicle %s: %w", w.VehicleID, err)
	}
	if !claimed {
		logger.InfoContext(ctx, "Reservation claim conflict", "vehicle_id", w.VehicleID, "booking_id", w.BookingID,
			"start", w.StartDate.Format(time.DateOnly), "end", w.EndDate.Format(time.DateOnly))
		return domain.ClaimResultConflict, nil
	}

	l.invalidate(ctx, w.VehicleID)
	logger.DebugContext(ctx, "Reservation window held", "vehicle_id", w.VehicleID, "booking_id", w.BookingID, "window_id", w.ID)
	return domain.ClaimResultClaimed, nil
}

// ReleaseOrphans frees HELD windows created before cutoff whose booking was
// never stored. It returns how many windows it released.
func (l *reservationLedger) ReleaseOrphans(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	orphans, err := l.repo.ListOrphanedHeld(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list orphaned windows: %w", err)
	}
	released := 0
	for _, w := range orphans {
		ok, err := l.repo.Release(ctx, w.BookingID, l.now())
		if err != nil {
			logger.ErrorContext(ctx, "Failed to release orphaned window", "window_id", w.ID, "booking_id", w.BookingID, "error", err)
			continue
		}
		if ok {
			released++
			l.invalidate(ctx, w.VehicleID)
			logger.WarnContext(ctx, "Released orphaned reservation window", "window_id", w.ID, "vehicle_id", w.VehicleID, "booking_id", w.BookingID)
		}
	}
	return released, nil
}

func (l *reservationLedger) Finalize(ctx context.Context, bookingID string) error {
	if err := l.repo.Finalize(ctx, bookingID); err != nil {
		if errors.Is(err, domain.ErrInvariant) {
			logger.ErrorContext(ctx, "Ledger and booking diverged on finalize", "booking_id", bookingID, "error", err)
		}
		return fmt.Errorf("finalize window: %w", err)
	}
	return nil
}

// Release is idempotent: releasing an already released window, or a booking
// that never held one, is a no-op.
func (l *reservationLedger) Release(ctx context.Context, bookingID string) error {
	w, err := l.repo.GetByBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load window: %w", err)
	}
	if !w.State.IsActive() {
		return nil
	}
	released, err := l.repo.Release(ctx, bookingID, l.now())
	if err != nil {
		return fmt.Errorf("release window: %w", err)
	}
	if released {
		l.invalidate(ctx, w.VehicleID)
		logger.DebugContext(ctx, "Reservation window released", "vehicle_id", w.VehicleID, "booking_id", bookingID)
	}
	return nil
}

// IsAvailable is a read path for search. It may be served from cache and
// gives no hold guarantee; only TryClaim does.
func (l *reservationLedger) IsAvailable(ctx context.Context, vehicleID string, start, end time.Time) (bool, error) {
	if !start.Before(end) {
		return false, fmt.Errorf("%w: end date must be after start date", domain.ErrValidation)
	}
	cacheable := false
	var gen int64
	if l.cache != nil {
		available, found, err := l.cache.Get(ctx, vehicleID, start, end)
		if err != nil {
			logger.WarnContext(ctx, "Availability cache read failed", "vehicle_id", vehicleID, "error", err)
		} else if found {
			return available, nil
		}
		// The generation is read before the store so a claim committed in
		// between invalidates this answer instead of being masked by it.
		if gen, err = l.cache.Generation(ctx, vehicleID); err != nil {
			logger.WarnContext(ctx, "Availability cache generation read failed", "vehicle_id", vehicleID, "error", err)
		} else {
			cacheable = true
		}
	}

	available, err := l.repo.IsAvailable(ctx, vehicleID, start, end)
	if err != nil {
		return false, err
	}
	if cacheable {
		if err := l.cache.Set(ctx, vehicleID, start, end, available, gen); err != nil {
			logger.WarnContext(ctx, "Availability cache write failed", "vehicle_id", vehicleID, "error", err)
		}
	}
	return available, nil
}

func (l *reservationLedger) Window(ctx context.Context, bookingID string) (*domain.ReservationWindow, error) {
	return l.repo.GetByBooking(ctx, bookingID)
}

func (l *reservationLedger) invalidate(ctx context.Context, vehicleID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, vehicleID); err != nil {
		logger.WarnContext(ctx, "Availability cache invalidation failed", "vehicle_id", vehicleID, "error", err)
	}
}
