package repository

import (
	"context"
	"time"

	"wheelshare-backend/internal/domain"
)

type VehicleRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Vehicle, error)
}

// ReservationRepository is the durable side of the reservation ledger. Claim is
// the only operation that takes the per-vehicle serialization point.
type ReservationRepository interface {
	// Claim inserts w as HELD unless an active window of the same vehicle
	// overlaps it. It returns false, nil on overlap.
	Claim(ctx context.Context, w *domain.ReservationWindow) (bool, error)
	// ClaimForBooking is Claim plus BookingRepository.Create for b, committed
	// together: either both rows exist afterwards or neither does.
	ClaimForBooking(ctx context.Context, w *domain.ReservationWindow, b *domain.Booking) (bool, error)
	// ListOrphanedHeld returns HELD windows created at or before cutoff that
	// have no booking row.
	ListOrphanedHeld(ctx context.Context, cutoff time.Time, limit int) ([]domain.ReservationWindow, error)
	// Finalize moves the booking's HELD window to CONFIRMED; domain.ErrNoHeldWindow if none.
	Finalize(ctx context.Context, bookingID string) error
	// Release moves a HELD or CONFIRMED window to RELEASED and reports whether one moved.
	Release(ctx context.Context, bookingID string, at time.Time) (bool, error)
	IsAvailable(ctx context.Context, vehicleID string, start, end time.Time) (bool, error)
	GetByBooking(ctx context.Context, bookingID string) (*domain.ReservationWindow, error)
	ListActiveByVehicle(ctx context.Context, vehicleID string) ([]domain.ReservationWindow, error)
}

type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) error
	GetByID(ctx context.Context, id string) (*domain.Booking, error)
	// Transition applies t only if the row still holds t.From and is not halted,
	// and records t in the audit trail. domain.ErrStaleState otherwise.
	Transition(ctx context.Context, t *domain.Transition) error
	SetContractID(ctx context.Context, bookingID, contractID string) error
	Halt(ctx context.Context, bookingID, reason string) error
	Resume(ctx context.Context, bookingID string) error
	ListByCustomer(ctx context.Context, customerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error)
	ListByProvider(ctx context.Context, providerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error)
	ListTransitions(ctx context.Context, bookingID string) ([]domain.Transition, error)
}

type ContractRepository interface {
	// Create inserts c unless the booking already has a contract, in which case
	// the existing one is returned and created is false.
	Create(ctx context.Context, c *domain.Contract) (existing *domain.Contract, created bool, err error)
	GetByID(ctx context.Context, id string) (*domain.Contract, error)
	GetByBooking(ctx context.Context, bookingID string) (*domain.Contract, error)
	// SignCustomer sets CustomerSignedAt if the provider has signed and the
	// contract is neither rejected nor customer-signed. Reports whether it applied.
	SignCustomer(ctx context.Context, id string, at time.Time) (bool, error)
	// Reject sets RejectedAt if the contract is not rejected and not customer-signed.
	Reject(ctx context.Context, id string, by domain.Role, at time.Time) (bool, error)
}

type PaymentOrderRepository interface {
	Create(ctx context.Context, o *domain.PaymentOrder) error
	GetByID(ctx context.Context, id string) (*domain.PaymentOrder, error)
	ListByBooking(ctx context.Context, bookingID string) ([]domain.PaymentOrder, error)
	// MarkVerified moves CREATED → VERIFIED unless another order of the same
	// booking is already VERIFIED. Reports whether it applied.
	MarkVerified(ctx context.Context, id, gatewayPaymentID string, at time.Time) (bool, error)
	// MarkFailed moves an order in one of from to FAILED. Reports whether it applied.
	MarkFailed(ctx context.Context, id string, from []domain.PaymentOrderStatus, reason string, at time.Time) (bool, error)
	// FailOpenByBooking moves every CREATED order of the booking to FAILED.
	FailOpenByBooking(ctx context.Context, bookingID, reason string, at time.Time) (int64, error)
}

type OutboxRepository interface {
	Append(ctx context.Context, e *domain.Event) error
	ListPending(ctx context.Context, limit int) ([]domain.Event, error)
	MarkPublished(ctx context.Context, ids []string, at time.Time) error
}
