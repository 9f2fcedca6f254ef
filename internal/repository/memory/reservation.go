package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wheelshare-backend/internal/domain"
)

type vehicleRepository struct {
	s *Store
}

func (r *vehicleRepository) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	v, ok := r.s.vehicles[id]
	if !ok {
		return nil, fmt.Errorf("vehicle %s: %w", id, domain.ErrNotFound)
	}
	return &v, nil
}

type reservationRepository struct {
	s *Store
}

func (r *reservationRepository) Claim(ctx context.Context, w *domain.ReservationWindow) (bool, error) {
	return r.claim(w, nil)
}

func (r *reservationRepository) ClaimForBooking(ctx context.Context, w *domain.ReservationWindow, b *domain.Booking) (bool, error) {
	return r.claim(w, b)
}

func (r *reservationRepository) claim(w *domain.ReservationWindow, b *domain.Booking) (bool, error) {
	// The vehicle mutex is held only for the overlap check and insert.
	lock := r.s.vehicleLock(w.VehicleID)
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.vehicles[w.VehicleID]; !ok {
		return false, fmt.Errorf("vehicle %s: %w", w.VehicleID, domain.ErrNotFound)
	}
	if b != nil {
		if _, ok := r.s.bookings[b.ID]; ok {
			return false, fmt.Errorf("booking %s already exists: %w", b.ID, domain.ErrConflict)
		}
	}
	for _, existing := range r.s.windows {
		if existing.VehicleID != w.VehicleID || !existing.State.IsActive() {
			continue
		}
		if existing.BookingID == w.BookingID {
			return false, fmt.Errorf("booking %s already holds a window: %w", w.BookingID, domain.ErrConflict)
		}
		if existing.Overlaps(w.StartDate, w.EndDate) {
			return false, nil
		}
	}

	w.State = domain.WindowStateHeld
	c := *w
	r.s.windows[w.ID] = &c
	if b != nil {
		r.s.insertBookingLocked(b)
	}
	return true, nil
}

func (r *reservationRepository) ListOrphanedHeld(ctx context.Context, cutoff time.Time, limit int) ([]domain.ReservationWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ReservationWindow
	for _, w := range r.s.windows {
		if w.State != domain.WindowStateHeld || w.CreatedOn.After(cutoff) {
			continue
		}
		if _, ok := r.s.bookings[w.BookingID]; ok {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn.Before(out[j].CreatedOn) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *reservationRepository) Finalize(ctx context.Context, bookingID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.windows {
		if w.BookingID == bookingID && w.State == domain.WindowStateHeld {
			w.State = domain.WindowStateConfirmed
			return nil
		}
	}
	return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNoHeldWindow)
}

func (r *reservationRepository) Release(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.windows {
		if w.BookingID == bookingID && w.State.IsActive() {
			w.State = domain.WindowStateReleased
			released := at
			w.ReleasedOn = &released
			return true, nil
		}
	}
	return false, nil
}

func (r *reservationRepository) IsAvailable(ctx context.Context, vehicleID string, start, end time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, w := range r.s.windows {
		if w.VehicleID == vehicleID && w.State.IsActive() && w.Overlaps(start, end) {
			return false, nil
		}
	}
	return true, nil
}

func (r *reservationRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.ReservationWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var latest *domain.ReservationWindow
	for _, w := range r.s.windows {
		if w.BookingID != bookingID {
			continue
		}
		if latest == nil || w.CreatedOn.After(latest.CreatedOn) {
			latest = w
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("window for booking %s: %w", bookingID, domain.ErrNotFound)
	}
	c := *latest
	c.ReleasedOn = clonePtr(latest.ReleasedOn)
	return &c, nil
}

func (r *reservationRepository) ListActiveByVehicle(ctx context.Context, vehicleID string) ([]domain.ReservationWindow, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.ReservationWindow
	for _, w := range r.s.windows {
		if w.VehicleID == vehicleID && w.State.IsActive() {
			out = append(out, *w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}
