package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wheelshare-backend/internal/config"
	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository/memory"
	"wheelshare-backend/internal/service"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, evts []domain.Event) error {
	args := m.Called(ctx, evts)
	return args.Error(0)
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func newRunner(t *testing.T, pub EventPublisher, batch int) (*JobRunner, *memory.Store, *fakeClock, service.BookingService) {
	t.Helper()
	store := memory.NewStore()
	store.PutVehicle(domain.Vehicle{ID: "veh-1", ProviderID: "prov-1", DailyRate: 1000, Currency: "INR", Status: domain.VehicleStatusAvailable})

	clock := &fakeClock{now: time.Date(2024, 5, 20, 10, 0, 0, 0, time.UTC)}
	repos := service.Repositories{
		Vehicles: store.Vehicles, Reservations: store.Reservations, Bookings: store.Bookings,
		Contracts: store.Contracts, Orders: store.Orders, Outbox: store.Outbox,
	}
	ledger := service.NewReservationLedger(store.Reservations, nil, service.WithClock(clock.Now))
	contracts := service.NewContractService(repos, service.WithClock(clock.Now))
	bookings := service.NewBookingService(repos, ledger, contracts, nil,
		service.WithClock(clock.Now), service.WithPaymentRequired(false))

	cfg := &config.Config{Outbox: config.OutboxConfig{BatchSize: batch}}
	jr := NewJobRunner(bookings, store.Outbox, pub, cfg)
	jr.now = clock.Now
	return jr, store, clock, bookings
}

func appendEvents(t *testing.T, store *memory.Store, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.NoError(t, store.Outbox.Append(context.Background(), &domain.Event{
			ID:        string(rune('a' + i)),
			Type:      domain.EventBookingCreated,
			BookingID: "bk-1",
			NewState:  domain.BookingStatusPendingProvider,
		}))
	}
}

func TestRelayOutbox(t *testing.T) {
	ctx := context.Background()

	t.Run("PublishesInBatches", func(t *testing.T) {
		pub := new(MockPublisher)
		jr, store, _, _ := newRunner(t, pub, 2)
		appendEvents(t, store, 5)

		var sizes []int
		pub.On("Publish", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
			sizes = append(sizes, len(args.Get(1).([]domain.Event)))
		}).Return(nil)

		n, err := jr.RelayOutbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		assert.Equal(t, []int{2, 2, 1}, sizes)

		pending, err := store.Outbox.ListPending(ctx, 0)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("FailureLeavesPending", func(t *testing.T) {
		pub := new(MockPublisher)
		jr, store, _, _ := newRunner(t, pub, 10)
		appendEvents(t, store, 3)

		pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("broker down")).Once()
		_, err := jr.RelayOutbox(ctx)
		assert.Error(t, err)

		pending, err := store.Outbox.ListPending(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, pending, 3)

		pub.On("Publish", mock.Anything, mock.MatchedBy(func(evts []domain.Event) bool {
			return len(evts) == 3 && evts[0].ID == "a" && evts[2].ID == "c"
		})).Return(nil).Once()
		n, err := jr.RelayOutbox(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		pub.AssertExpectations(t)
	})

	t.Run("NoPublisher", func(t *testing.T) {
		jr, store, _, _ := newRunner(t, nil, 10)
		appendEvents(t, store, 1)
		n, err := jr.RelayOutbox(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestExpireBookings(t *testing.T) {
	ctx := context.Background()
	jr, _, clock, bookings := newRunner(t, nil, 10)

	customer := domain.Principal{ID: "cust-1", Role: domain.RoleCustomer}
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	b, err := bookings.CreateBooking(ctx, customer, service.CreateBookingInput{VehicleID: "veh-1", StartDate: start, EndDate: start.AddDate(0, 0, 2)})
	require.NoError(t, err)

	n, err := jr.ExpireBookings(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	clock.now = clock.now.Add(25 * time.Hour)
	n, err = jr.ExpireBookings(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := bookings.GetBooking(ctx, customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, got.Status)

	// cron wrapper swallows and logs
	jr.ExpireBookingsJob()
	jr.RelayOutboxJob()
}
