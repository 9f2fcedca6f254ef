package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wheelshare-backend/internal/domain"
)

type bookingRepository struct {
	s *Store
}

func cloneBooking(b *domain.Booking) *domain.Booking {
	c := *b
	c.ContractID = clonePtr(b.ContractID)
	c.ExpiresAt = clonePtr(b.ExpiresAt)
	return &c
}

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.bookings[b.ID]; ok {
		return fmt.Errorf("booking %s already exists: %w", b.ID, domain.ErrConflict)
	}
	r.s.insertBookingLocked(b)
	return nil
}

// insertBookingLocked stores b with its initial audit entry. s.mu must be held.
func (s *Store) insertBookingLocked(b *domain.Booking) {
	s.bookings[b.ID] = cloneBooking(b)
	s.nextTransID++
	s.transitions[b.ID] = append(s.transitions[b.ID], domain.Transition{
		ID:        s.nextTransID,
		BookingID: b.ID,
		To:        b.Status,
		ActorID:   b.CustomerID,
		ActorRole: domain.RoleCustomer,
		At:        b.CreatedOn,
	})
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return nil, fmt.Errorf("booking %s: %w", id, domain.ErrNotFound)
	}
	return cloneBooking(b), nil
}

func (r *bookingRepository) Transition(ctx context.Context, t *domain.Transition) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[t.BookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", t.BookingID, domain.ErrNotFound)
	}
	if b.Status != t.From || b.Halted {
		return domain.ErrStaleState
	}
	b.Status = t.To
	b.UpdatedOn = t.At
	if t.Deadline != nil {
		b.ExpiresAt = clonePtr(t.Deadline)
	} else if t.ClearDeadline {
		b.ExpiresAt = nil
	}
	r.s.nextTransID++
	t.ID = r.s.nextTransID
	r.s.transitions[t.BookingID] = append(r.s.transitions[t.BookingID], *t)
	return nil
}

func (r *bookingRepository) SetContractID(ctx context.Context, bookingID, contractID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	id := contractID
	b.ContractID = &id
	return nil
}

func (r *bookingRepository) Halt(ctx context.Context, bookingID, reason string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	b.Halted = true
	b.HaltReason = reason
	return nil
}

func (r *bookingRepository) Resume(ctx context.Context, bookingID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.bookings[bookingID]
	if !ok {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	b.Halted = false
	b.HaltReason = ""
	return nil
}

func (r *bookingRepository) list(match func(*domain.Booking) bool, page, pageSize int32) ([]domain.Booking, int32) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var all []domain.Booking
	for _, b := range r.s.bookings {
		if match(b) {
			all = append(all, *cloneBooking(b))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedOn.After(all[j].CreatedOn) })
	total := int32(len(all))
	offset := (page - 1) * pageSize
	if offset >= total {
		return nil, total
	}
	end := offset + pageSize
	if end > total {
		end = total
	}
	return all[offset:end], total
}

func (r *bookingRepository) ListByCustomer(ctx context.Context, customerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	out, total := r.list(func(b *domain.Booking) bool {
		return b.CustomerID == customerID && (status == "" || b.Status == status)
	}, page, pageSize)
	return out, total, nil
}

func (r *bookingRepository) ListByProvider(ctx context.Context, providerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	out, total := r.list(func(b *domain.Booking) bool {
		return b.ProviderID == providerID && (status == "" || b.Status == status)
	}, page, pageSize)
	return out, total, nil
}

func (r *bookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Booking
	for _, b := range r.s.bookings {
		if !b.Halted && b.Expired(now) {
			out = append(out, *cloneBooking(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *bookingRepository) ListTransitions(ctx context.Context, bookingID string) ([]domain.Transition, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Transition, len(r.s.transitions[bookingID]))
	copy(out, r.s.transitions[bookingID])
	return out, nil
}
