package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wheelshare-backend/internal/domain"
)

type paymentOrderRepository struct {
	s *Store
}

func (r *paymentOrderRepository) Create(ctx context.Context, o *domain.PaymentOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *o
	r.s.orders[o.ID] = &c
	return nil
}

func (r *paymentOrderRepository) GetByID(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	c := *o
	return &c, nil
}

func (r *paymentOrderRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.PaymentOrder, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.PaymentOrder
	for _, o := range r.s.orders {
		if o.BookingID == bookingID {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedOn.Before(out[j].CreatedOn) })
	return out, nil
}

func (r *paymentOrderRepository) MarkVerified(ctx context.Context, id, gatewayPaymentID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return false, fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	if o.Status != domain.PaymentOrderStatusCreated {
		return false, nil
	}
	for _, other := range r.s.orders {
		if other.BookingID == o.BookingID && other.Status == domain.PaymentOrderStatusVerified {
			return false, nil
		}
	}
	o.Status = domain.PaymentOrderStatusVerified
	o.GatewayPaymentID = gatewayPaymentID
	o.UpdatedOn = at
	return true, nil
}

func (r *paymentOrderRepository) MarkFailed(ctx context.Context, id string, from []domain.PaymentOrderStatus, reason string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return false, fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	for _, st := range from {
		if o.Status == st {
			o.Status = domain.PaymentOrderStatusFailed
			o.FailureReason = reason
			o.UpdatedOn = at
			return true, nil
		}
	}
	return false, nil
}

func (r *paymentOrderRepository) FailOpenByBooking(ctx context.Context, bookingID, reason string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for _, o := range r.s.orders {
		if o.BookingID == bookingID && o.Status == domain.PaymentOrderStatusCreated {
			o.Status = domain.PaymentOrderStatusFailed
			o.FailureReason = reason
			o.UpdatedOn = at
			n++
		}
	}
	return n, nil
}
