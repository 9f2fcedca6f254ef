package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/gateway"
	"wheelshare-backend/internal/repository"
	"wheelshare-backend/internal/repository/memory"
	"wheelshare-backend/internal/service"
)

const gatewaySecret = "gateway_test_secret"

var (
	customer  = domain.Principal{ID: "cust-1", Role: domain.RoleCustomer}
	customer2 = domain.Principal{ID: "cust-2", Role: domain.RoleCustomer}
	provider  = domain.Principal{ID: "prov-1", Role: domain.RoleProvider}
	provider2 = domain.Principal{ID: "prov-2", Role: domain.RoleProvider}
	admin     = domain.Principal{ID: "admin-1", Role: domain.RoleAdmin}

	june1 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	june4 = time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
)

// MockGateway mocks order creation; signatures are checked with the real signer.
type MockGateway struct {
	mock.Mock
	signer *gateway.Signer
}

func (m *MockGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (string, error) {
	args := m.Called(ctx, amount, currency, receipt)
	return args.String(0), args.Error(1)
}

func (m *MockGateway) VerifySignature(gatewayOrderID, gatewayPaymentID, signature string) bool {
	return m.signer.Verify(gatewayOrderID, gatewayPaymentID, signature)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// hookedBookings runs beforeTransition ahead of every Transition so tests can
// interleave a competing writer or inject a storage failure.
type hookedBookings struct {
	repository.BookingRepository
	beforeTransition func(t *domain.Transition) error
}

func (h *hookedBookings) Transition(ctx context.Context, t *domain.Transition) error {
	if h.beforeTransition != nil {
		if err := h.beforeTransition(t); err != nil {
			return err
		}
	}
	return h.BookingRepository.Transition(ctx, t)
}

type hookedContracts struct {
	repository.ContractRepository
	beforeCreate func(c *domain.Contract)
}

func (h *hookedContracts) Create(ctx context.Context, c *domain.Contract) (*domain.Contract, bool, error) {
	if h.beforeCreate != nil {
		h.beforeCreate(c)
	}
	return h.ContractRepository.Create(ctx, c)
}

type hookedOrders struct {
	repository.PaymentOrderRepository
	beforeMarkVerified func(id string)
}

func (h *hookedOrders) MarkVerified(ctx context.Context, id, gatewayPaymentID string, at time.Time) (bool, error) {
	if h.beforeMarkVerified != nil {
		h.beforeMarkVerified(id)
	}
	return h.PaymentOrderRepository.MarkVerified(ctx, id, gatewayPaymentID, at)
}

// once wraps fn so that only its first call runs; later calls return nil.
func once(fn func(t *domain.Transition) error) func(t *domain.Transition) error {
	var fired bool
	var mu sync.Mutex
	return func(t *domain.Transition) error {
		mu.Lock()
		if fired {
			mu.Unlock()
			return nil
		}
		fired = true
		mu.Unlock()
		return fn(t)
	}
}

type fixture struct {
	store         *memory.Store
	bookingsRepo  *hookedBookings
	contractsRepo *hookedContracts
	ordersRepo    *hookedOrders
	clock         *testClock
	gw            *MockGateway
	signer        *gateway.Signer
	ledger        service.ReservationLedger
	contracts     service.ContractService
	payments      service.PaymentService
	bookings      service.BookingService
}

func newFixture(t *testing.T, opts ...service.Option) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.PutVehicle(domain.Vehicle{
		ID:                 "veh-1",
		ProviderID:         provider.ID,
		Title:              "Hatchback",
		RegistrationNumber: "KA01AB1234",
		DailyRate:          2000,
		Currency:           "INR",
		Status:             domain.VehicleStatusAvailable,
	})
	store.PutVehicle(domain.Vehicle{
		ID:         "veh-maint",
		ProviderID: provider.ID,
		DailyRate:  1500,
		Currency:   "INR",
		Status:     domain.VehicleStatusMaintenance,
	})

	clock := &testClock{now: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)}
	signer := gateway.NewSigner(gatewaySecret)
	gw := &MockGateway{signer: signer}

	opts = append([]service.Option{service.WithClock(clock.Now)}, opts...)
	bookingsRepo := &hookedBookings{BookingRepository: store.Bookings}
	contractsRepo := &hookedContracts{ContractRepository: store.Contracts}
	ordersRepo := &hookedOrders{PaymentOrderRepository: store.Orders}
	repos := service.Repositories{
		Vehicles:     store.Vehicles,
		Reservations: store.Reservations,
		Bookings:     bookingsRepo,
		Contracts:    contractsRepo,
		Orders:       ordersRepo,
		Outbox:       store.Outbox,
	}
	ledger := service.NewReservationLedger(store.Reservations, nil, opts...)
	contracts := service.NewContractService(repos, opts...)
	payments := service.NewPaymentService(repos, ledger, contracts, gw, opts...)
	bookings := service.NewBookingService(repos, ledger, contracts, payments, opts...)

	return &fixture{
		store:         store,
		bookingsRepo:  bookingsRepo,
		contractsRepo: contractsRepo,
		ordersRepo:    ordersRepo,
		clock:         clock,
		gw:            gw,
		signer:        signer,
		ledger:        ledger,
		contracts:     contracts,
		payments:      payments,
		bookings:      bookings,
	}
}

func (f *fixture) book(t *testing.T, p domain.Principal, start, end time.Time) *domain.Booking {
	t.Helper()
	b, err := f.bookings.CreateBooking(context.Background(), p, service.CreateBookingInput{
		VehicleID: "veh-1",
		StartDate: start,
		EndDate:   end,
	})
	require.NoError(t, err)
	return b
}

// toPaymentPending drives a fresh booking through accept and sign.
func (f *fixture) toPaymentPending(t *testing.T, gatewayOrderID string) (*domain.Booking, *domain.PaymentOrder) {
	t.Helper()
	ctx := context.Background()
	b := f.book(t, customer, june1, june4)
	_, _, err := f.bookings.AcceptBooking(ctx, provider, b.ID)
	require.NoError(t, err)

	f.gw.On("CreateOrder", mock.Anything, b.TotalCost, "INR", b.ID).Return(gatewayOrderID, nil).Once()
	b, order, err := f.bookings.SignContract(ctx, customer, b.ID)
	require.NoError(t, err)
	require.NotNil(t, order)
	return b, order
}

func (f *fixture) verifyRequest(order *domain.PaymentOrder, paymentID string) service.VerifyRequest {
	return service.VerifyRequest{
		OrderID:          order.ID,
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        f.signer.Sign(order.GatewayOrderID, paymentID),
	}
}

func (f *fixture) window(t *testing.T, bookingID string) *domain.ReservationWindow {
	t.Helper()
	w, err := f.ledger.Window(context.Background(), bookingID)
	require.NoError(t, err)
	return w
}

func (f *fixture) eventTypes(t *testing.T, bookingID string) []domain.EventType {
	t.Helper()
	evts, err := f.store.Outbox.ListPending(context.Background(), 0)
	require.NoError(t, err)
	var out []domain.EventType
	for _, e := range evts {
		if e.BookingID == bookingID {
			out = append(out, e.Type)
		}
	}
	return out
}
