package service

import (
	"context"
	"time"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

// ReservationLedger answers availability and owns the claim/finalize/release
// rules that keep active windows of a vehicle pairwise non-overlapping.
type ReservationLedger interface {
	TryClaim(ctx context.Context, vehicleID string, start, end time.Time, bookingID string) (domain.ClaimResult, error)
	ClaimForBooking(ctx context.Context, b *domain.Booking) (domain.ClaimResult, error)
	ReleaseOrphans(ctx context.Context, cutoff time.Time, limit int) (int, error)
	Finalize(ctx context.Context, bookingID string) error
	Release(ctx context.Context, bookingID string) error
	IsAvailable(ctx context.Context, vehicleID string, start, end time.Time) (bool, error)
	Window(ctx context.Context, bookingID string) (*domain.ReservationWindow, error)
}

type ContractService interface {
	Issue(ctx context.Context, booking *domain.Booking) (*domain.Contract, bool, error)
	Sign(ctx context.Context, contractID string, role domain.Role) (*domain.Contract, error)
	Reject(ctx context.Context, contractID string, role domain.Role) (*domain.Contract, error)
	GetForBooking(ctx context.Context, bookingID string) (*domain.Contract, error)
}

type PaymentService interface {
	CreateOrder(ctx context.Context, p domain.Principal, contractID string) (*domain.PaymentOrder, error)
	Verify(ctx context.Context, req VerifyRequest) (domain.VerifyResult, error)
	ListOrders(ctx context.Context, p domain.Principal, bookingID string) ([]domain.PaymentOrder, error)
}

type BookingService interface {
	CreateBooking(ctx context.Context, p domain.Principal, in CreateBookingInput) (*domain.Booking, error)
	AcceptBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, *domain.Contract, error)
	DeclineBooking(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error)
	SignContract(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, *domain.PaymentOrder, error)
	RejectContract(ctx context.Context, p domain.Principal, bookingID, reason string) (*domain.Booking, error)
	GetBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error)
	ListBookings(ctx context.Context, p domain.Principal, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error)
	History(ctx context.Context, p domain.Principal, bookingID string) ([]domain.Transition, error)
	ResumeBooking(ctx context.Context, p domain.Principal, bookingID string) (*domain.Booking, error)
	ExpireOverdue(ctx context.Context) ([]domain.Booking, error)
}

// AvailabilityCache is an optional read-through cache for IsAvailable.
type AvailabilityCache interface {
	Get(ctx context.Context, vehicleID string, start, end time.Time) (available bool, found bool, err error)
	// Generation changes on every Invalidate of the vehicle.
	Generation(ctx context.Context, vehicleID string) (int64, error)
	// Set is a no-op if the vehicle was invalidated since gen was read.
	Set(ctx context.Context, vehicleID string, start, end time.Time, available bool, gen int64) error
	Invalidate(ctx context.Context, vehicleID string) error
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error)
	VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool
}

// Repositories groups the stores the lifecycle services write to.
type Repositories struct {
	Vehicles     repository.VehicleRepository
	Reservations repository.ReservationRepository
	Bookings     repository.BookingRepository
	Contracts    repository.ContractRepository
	Orders       repository.PaymentOrderRepository
	Outbox       repository.OutboxRepository
}

type CreateBookingInput struct {
	VehicleID string
	StartDate time.Time
	EndDate   time.Time
}

// VerifyRequest is the gateway callback. Every field is untrusted.
type VerifyRequest struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
}

const (
	defaultProviderResponseTTL = 24 * time.Hour
	defaultPaymentWindow       = 30 * time.Minute
	defaultSweepBatch          = 200
)

type options struct {
	now                 func() time.Time
	providerResponseTTL time.Duration
	paymentWindow       time.Duration
	paymentRequired     bool
	sweepBatch          int
}

type Option func(*options)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func WithProviderResponseTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.providerResponseTTL = d
		}
	}
}

func WithPaymentWindow(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.paymentWindow = d
		}
	}
}

// WithPaymentRequired(false) lets a signed contract confirm the booking
// directly, skipping PAYMENT_PENDING.
func WithPaymentRequired(required bool) Option {
	return func(o *options) {
		o.paymentRequired = required
	}
}

func WithSweepBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepBatch = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:                 time.Now,
		providerResponseTTL: defaultProviderResponseTTL,
		paymentWindow:       defaultPaymentWindow,
		paymentRequired:     true,
		sweepBatch:          defaultSweepBatch,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
