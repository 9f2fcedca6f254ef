package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository/memory"
	"wheelshare-backend/internal/service"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, vehicleID string, start, end time.Time) (bool, bool, error) {
	args := m.Called(ctx, vehicleID, start, end)
	return args.Bool(0), args.Bool(1), args.Error(2)
}

func (m *MockCache) Generation(ctx context.Context, vehicleID string) (int64, error) {
	args := m.Called(ctx, vehicleID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCache) Set(ctx context.Context, vehicleID string, start, end time.Time, available bool, gen int64) error {
	args := m.Called(ctx, vehicleID, start, end, available, gen)
	return args.Error(0)
}

func (m *MockCache) Invalidate(ctx context.Context, vehicleID string) error {
	args := m.Called(ctx, vehicleID)
	return args.Error(0)
}

func newLedger(t *testing.T, cache service.AvailabilityCache) (service.ReservationLedger, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	store.PutVehicle(domain.Vehicle{ID: "veh-1", ProviderID: provider.ID, DailyRate: 2000, Currency: "INR"})
	return service.NewReservationLedger(store.Reservations, cache), store
}

func TestReservationLedger_TryClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("Claim then conflict", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Invalidate", ctx, "veh-1").Return(nil).Once()

		res, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultClaimed, res)

		res, err = ledger.TryClaim(ctx, "veh-1", june1.AddDate(0, 0, 1), june4.AddDate(0, 0, 1), "b2")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultConflict, res)
		cache.AssertExpectations(t)
	})

	t.Run("Adjacent ranges", func(t *testing.T) {
		ledger, _ := newLedger(t, nil)
		res, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultClaimed, res)
		res, err = ledger.TryClaim(ctx, "veh-1", june4, june4.AddDate(0, 0, 1), "b2")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultClaimed, res)
		res, err = ledger.TryClaim(ctx, "veh-1", june1.AddDate(0, 0, -2), june1, "b3")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultClaimed, res)
	})

	t.Run("Invalid range", func(t *testing.T) {
		ledger, _ := newLedger(t, nil)
		_, err := ledger.TryClaim(ctx, "veh-1", june4, june1, "b1")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})

	t.Run("Unknown vehicle", func(t *testing.T) {
		ledger, _ := newLedger(t, nil)
		_, err := ledger.TryClaim(ctx, "veh-x", june1, june4, "b1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("Cache failure does not fail the claim", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Invalidate", ctx, "veh-1").Return(errors.New("redis down"))

		res, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.ClaimResultClaimed, res)
	})
}

func TestReservationLedger_Release(t *testing.T) {
	ctx := context.Background()
	ledger, _ := newLedger(t, nil)
	_, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
	require.NoError(t, err)

	require.NoError(t, ledger.Release(ctx, "b1"))
	require.NoError(t, ledger.Release(ctx, "b1"))
	require.NoError(t, ledger.Release(ctx, "never-claimed"))

	w, err := ledger.Window(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.WindowStateReleased, w.State)
	assert.NotNil(t, w.ReleasedOn)

	res, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b2")
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimResultClaimed, res)
}

func TestReservationLedger_ClaimForBooking(t *testing.T) {
	ctx := context.Background()
	ledger, store := newLedger(t, nil)
	booking := func(id string, start, end time.Time) *domain.Booking {
		return &domain.Booking{
			ID: id, CustomerID: customer.ID, ProviderID: provider.ID, VehicleID: "veh-1",
			StartDate: start, EndDate: end, DailyRate: 2000, Currency: "INR", TotalCost: 6000,
			Status: domain.BookingStatusPendingProvider,
		}
	}

	res, err := ledger.ClaimForBooking(ctx, booking("b1", june1, june4))
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimResultClaimed, res)
	_, err = store.Bookings.GetByID(ctx, "b1")
	require.NoError(t, err)

	res, err = ledger.ClaimForBooking(ctx, booking("b2", june1.AddDate(0, 0, 1), june4))
	require.NoError(t, err)
	assert.Equal(t, domain.ClaimResultConflict, res)
	_, err = store.Bookings.GetByID(ctx, "b2")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = ledger.ClaimForBooking(ctx, booking("b3", june4, june1))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestReservationLedger_ReleaseOrphans(t *testing.T) {
	ctx := context.Background()
	cache := &MockCache{}
	ledger, _ := newLedger(t, cache)
	cache.On("Invalidate", mock.Anything, "veh-1").Return(nil)

	_, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "never-persisted")
	require.NoError(t, err)
	_, err = ledger.ClaimForBooking(ctx, &domain.Booking{
		ID: "b1", CustomerID: customer.ID, ProviderID: provider.ID, VehicleID: "veh-1",
		StartDate: june4, EndDate: june4.AddDate(0, 0, 2), Status: domain.BookingStatusPendingProvider,
	})
	require.NoError(t, err)

	n, err := ledger.ReleaseOrphans(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = ledger.ReleaseOrphans(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	w, err := ledger.Window(ctx, "never-persisted")
	require.NoError(t, err)
	assert.Equal(t, domain.WindowStateReleased, w.State)
	w, err = ledger.Window(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, domain.WindowStateHeld, w.State)

	n, err = ledger.ReleaseOrphans(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	cache.AssertNumberOfCalls(t, "Invalidate", 3)
}

func TestReservationLedger_Finalize(t *testing.T) {
	ctx := context.Background()

	t.Run("Held to confirmed", func(t *testing.T) {
		ledger, _ := newLedger(t, nil)
		_, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
		require.NoError(t, err)

		require.NoError(t, ledger.Finalize(ctx, "b1"))
		w, err := ledger.Window(ctx, "b1")
		require.NoError(t, err)
		assert.Equal(t, domain.WindowStateConfirmed, w.State)

		// A confirmed window still blocks the range and can still be released.
		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.False(t, available)
		require.NoError(t, ledger.Release(ctx, "b1"))
	})

	t.Run("No held window", func(t *testing.T) {
		ledger, _ := newLedger(t, nil)
		err := ledger.Finalize(ctx, "b1")
		assert.ErrorIs(t, err, domain.ErrNoHeldWindow)
		assert.ErrorIs(t, err, domain.ErrInvariant)

		_, err = ledger.TryClaim(ctx, "veh-1", june1, june4, "b2")
		require.NoError(t, err)
		require.NoError(t, ledger.Release(ctx, "b2"))
		assert.ErrorIs(t, ledger.Finalize(ctx, "b2"), domain.ErrNoHeldWindow)
	})
}

func TestReservationLedger_IsAvailable(t *testing.T) {
	ctx := context.Background()

	t.Run("Cache hit skips the store", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Get", ctx, "veh-1", june1, june4).Return(false, true, nil)

		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.False(t, available)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Miss fills the cache", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Get", ctx, "veh-1", june1, june4).Return(false, false, nil)
		cache.On("Generation", ctx, "veh-1").Return(int64(2), nil)
		cache.On("Set", ctx, "veh-1", june1, june4, true, int64(2)).Return(nil)

		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.True(t, available)
		cache.AssertExpectations(t)
	})

	t.Run("Cache error falls back to the store", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Invalidate", ctx, "veh-1").Return(nil)
		_, err := ledger.TryClaim(ctx, "veh-1", june1, june4, "b1")
		require.NoError(t, err)

		cache.On("Get", ctx, "veh-1", june1, june4).Return(false, false, errors.New("redis down"))
		cache.On("Generation", ctx, "veh-1").Return(int64(1), nil)
		cache.On("Set", ctx, "veh-1", june1, june4, false, int64(1)).Return(errors.New("redis down"))

		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.False(t, available)
	})

	t.Run("Unreadable generation skips the cache write", func(t *testing.T) {
		cache := new(MockCache)
		ledger, _ := newLedger(t, cache)
		cache.On("Get", ctx, "veh-1", june1, june4).Return(false, false, nil)
		cache.On("Generation", ctx, "veh-1").Return(int64(0), errors.New("redis down"))

		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.True(t, available)
		cache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Generation is read before the store", func(t *testing.T) {
		cache := new(MockCache)
		ledger, store := newLedger(t, cache)
		cache.On("Get", ctx, "veh-1", june1, june4).Return(false, false, nil)
		// A claim committed right after the generation read: the answer it
		// leaves cached must carry the pre-claim generation so Set drops it.
		cache.On("Generation", ctx, "veh-1").Return(int64(5), nil).Run(func(mock.Arguments) {
			_, err := store.Reservations.Claim(ctx, &domain.ReservationWindow{
				ID: "w-race", VehicleID: "veh-1", BookingID: "b-race", StartDate: june1, EndDate: june4,
				State: domain.WindowStateHeld, CreatedOn: time.Now(),
			})
			require.NoError(t, err)
		})
		cache.On("Set", ctx, "veh-1", june1, june4, false, int64(5)).Return(nil)

		available, err := ledger.IsAvailable(ctx, "veh-1", june1, june4)
		require.NoError(t, err)
		assert.False(t, available)
		cache.AssertExpectations(t)
	})
}
