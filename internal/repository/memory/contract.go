package memory

import (
	"context"
	"fmt"
	"time"

	"wheelshare-backend/internal/domain"
)

type contractRepository struct {
	s *Store
}

func cloneContract(c *domain.Contract) *domain.Contract {
	out := *c
	out.ProviderSignedAt = clonePtr(c.ProviderSignedAt)
	out.CustomerSignedAt = clonePtr(c.CustomerSignedAt)
	out.RejectedAt = clonePtr(c.RejectedAt)
	return &out
}

func (r *contractRepository) Create(ctx context.Context, c *domain.Contract) (*domain.Contract, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.contracts {
		if existing.BookingID == c.BookingID {
			return cloneContract(existing), false, nil
		}
	}
	r.s.contracts[c.ID] = cloneContract(c)
	return cloneContract(c), true, nil
}

func (r *contractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("contract %s: %w", id, domain.ErrNotFound)
	}
	return cloneContract(c), nil
}

func (r *contractRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.Contract, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, c := range r.s.contracts {
		if c.BookingID == bookingID {
			return cloneContract(c), nil
		}
	}
	return nil, fmt.Errorf("contract for booking %s: %w", bookingID, domain.ErrNotFound)
}

func (r *contractRepository) SignCustomer(ctx context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok {
		return false, fmt.Errorf("contract %s: %w", id, domain.ErrNotFound)
	}
	if c.ProviderSignedAt == nil || c.CustomerSignedAt != nil || c.RejectedAt != nil {
		return false, nil
	}
	signed := at
	c.CustomerSignedAt = &signed
	return true, nil
}

func (r *contractRepository) Reject(ctx context.Context, id string, by domain.Role, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.contracts[id]
	if !ok {
		return false, fmt.Errorf("contract %s: %w", id, domain.ErrNotFound)
	}
	if c.RejectedAt != nil || c.CustomerSignedAt != nil {
		return false, nil
	}
	rejected := at
	c.RejectedAt = &rejected
	c.RejectedBy = by
	return true, nil
}
