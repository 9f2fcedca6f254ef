package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/service"
)

func TestPaymentService_Verify(t *testing.T) {
	ctx := context.Background()

	t.Run("Full lifecycle", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		assert.Equal(t, int64(6000), order.Amount)

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_1"))
		require.NoError(t, err)
		assert.True(t, res.Verified())
		assert.Equal(t, order.ID, res.OrderID)

		got, err := f.bookings.GetBooking(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusConfirmed, got.Status)
		assert.Nil(t, got.ExpiresAt)
		assert.Equal(t, domain.WindowStateConfirmed, f.window(t, b.ID).State)

		orders, err := f.payments.ListOrders(ctx, customer, b.ID)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, domain.PaymentOrderStatusVerified, orders[0].Status)
		assert.Equal(t, "pay_1", orders[0].GatewayPaymentID)

		assert.Equal(t, []domain.EventType{
			domain.EventBookingCreated,
			domain.EventBookingAccepted,
			domain.EventContractIssued,
			domain.EventContractSigned,
			domain.EventPaymentVerified,
			domain.EventBookingConfirmed,
		}, f.eventTypes(t, b.ID))

		// Confirmed bookings are terminal.
		_, err = f.bookings.CancelBooking(ctx, customer, b.ID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		_, err = f.bookings.RejectContract(ctx, customer, b.ID, "")
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})

	t.Run("Idempotent", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		req := f.verifyRequest(order, "pay_1")

		first, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		before, err := f.bookings.History(ctx, admin, b.ID)
		require.NoError(t, err)
		eventsBefore := len(f.eventTypes(t, b.ID))

		second, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		after, err := f.bookings.History(ctx, admin, b.ID)
		require.NoError(t, err)
		assert.Equal(t, before, after)
		assert.Len(t, f.eventTypes(t, b.ID), eventsBefore)
	})

	t.Run("Concurrent duplicate callbacks", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		req := f.verifyRequest(order, "pay_1")

		var wg sync.WaitGroup
		results := make([]domain.VerifyResult, 8)
		errs := make([]error, 8)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], errs[i] = f.payments.Verify(ctx, req)
			}(i)
		}
		wg.Wait()

		for i := range results {
			require.NoError(t, errs[i])
			assert.True(t, results[i].Verified())
		}
		history, err := f.bookings.History(ctx, admin, b.ID)
		require.NoError(t, err)
		confirms := 0
		for _, tr := range history {
			if tr.To == domain.BookingStatusConfirmed {
				confirms++
			}
		}
		assert.Equal(t, 1, confirms)
	})

	t.Run("Tampered signature", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		req := f.verifyRequest(order, "pay_1")
		req.GatewayPaymentID = "pay_forged"

		res, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyOutcomeRejected, res.Outcome)
		assert.Equal(t, "payment could not be verified, please contact support", res.Reason)

		got, err := f.bookings.GetBooking(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusPaymentPending, got.Status)
		assert.Equal(t, domain.WindowStateHeld, f.window(t, b.ID).State)

		orders, err := f.payments.ListOrders(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentOrderStatusCreated, orders[0].Status)
	})

	t.Run("Signature for another gateway order", func(t *testing.T) {
		f := newFixture(t)
		_, order := f.toPaymentPending(t, "order_1")
		req := service.VerifyRequest{
			OrderID:          order.ID,
			GatewayOrderID:   "order_other",
			GatewayPaymentID: "pay_1",
			Signature:        f.signer.Sign("order_other", "pay_1"),
		}

		res, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		assert.False(t, res.Verified())
	})

	t.Run("Unknown order", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.payments.Verify(ctx, service.VerifyRequest{
			OrderID:          "missing",
			GatewayOrderID:   "order_1",
			GatewayPaymentID: "pay_1",
			Signature:        f.signer.Sign("order_1", "pay_1"),
		})
		require.NoError(t, err)
		assert.False(t, res.Verified())
	})

	t.Run("Verified order with a different payment", func(t *testing.T) {
		f := newFixture(t)
		_, order := f.toPaymentPending(t, "order_1")
		_, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_1"))
		require.NoError(t, err)

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_2"))
		require.NoError(t, err)
		assert.False(t, res.Verified())
	})

	t.Run("After the payment window expired", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		f.clock.Advance(time.Hour)
		_, err := f.bookings.ExpireOverdue(ctx)
		require.NoError(t, err)

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_late"))
		require.NoError(t, err)
		assert.False(t, res.Verified())

		got, err := f.bookings.GetBooking(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusCancelled, got.Status)
		assert.Equal(t, domain.WindowStateReleased, f.window(t, b.ID).State)
	})

	t.Run("Halted booking", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		require.NoError(t, f.store.Bookings.Halt(ctx, b.ID, "manual review"))

		_, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_1"))
		assert.ErrorIs(t, err, domain.ErrBookingHalted)

		orders, err := f.payments.ListOrders(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentOrderStatusCreated, orders[0].Status)
	})
}

func TestPaymentService_VerifyInterrupted(t *testing.T) {
	ctx := context.Background()

	failConfirm := func(f *fixture) {
		f.bookingsRepo.beforeTransition = once(func(tr *domain.Transition) error {
			if tr.To == domain.BookingStatusConfirmed {
				return errors.New("connection reset by peer")
			}
			return nil
		})
	}
	orderStatus := func(t *testing.T, f *fixture, bookingID string) domain.PaymentOrderStatus {
		t.Helper()
		orders, err := f.payments.ListOrders(ctx, customer, bookingID)
		require.NoError(t, err)
		require.Len(t, orders, 1)
		return orders[0].Status
	}
	bookingStatus := func(t *testing.T, f *fixture, bookingID string) domain.BookingStatus {
		t.Helper()
		got, err := f.bookings.GetBooking(ctx, customer, bookingID)
		require.NoError(t, err)
		return got.Status
	}

	t.Run("Retried callback completes the confirm", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		failConfirm(f)
		req := f.verifyRequest(order, "pay_1")

		_, err := f.payments.Verify(ctx, req)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrConflict)
		assert.Equal(t, domain.PaymentOrderStatusVerified, orderStatus(t, f, b.ID))
		assert.Equal(t, domain.BookingStatusPaymentPending, bookingStatus(t, f, b.ID))

		res, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Verified())
		assert.Equal(t, domain.BookingStatusConfirmed, bookingStatus(t, f, b.ID))
		assert.Equal(t, domain.WindowStateConfirmed, f.window(t, b.ID).State)
		assert.Equal(t, domain.PaymentOrderStatusVerified, orderStatus(t, f, b.ID))

		evts := f.eventTypes(t, b.ID)
		assert.Contains(t, evts, domain.EventPaymentVerified)
		assert.Contains(t, evts, domain.EventBookingConfirmed)
	})

	t.Run("Sweep confirms a paid booking instead of cancelling it", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		failConfirm(f)
		req := f.verifyRequest(order, "pay_1")
		_, err := f.payments.Verify(ctx, req)
		require.Error(t, err)

		f.clock.Advance(31 * time.Minute)
		expired, err := f.bookings.ExpireOverdue(ctx)
		require.NoError(t, err)
		assert.Empty(t, expired)
		assert.Equal(t, domain.BookingStatusConfirmed, bookingStatus(t, f, b.ID))
		assert.Equal(t, domain.WindowStateConfirmed, f.window(t, b.ID).State)
		assert.Equal(t, domain.PaymentOrderStatusVerified, orderStatus(t, f, b.ID))

		res, err := f.payments.Verify(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Verified())
	})

	t.Run("Booking cancelled between verify and confirm", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		f.bookingsRepo.beforeTransition = once(func(tr *domain.Transition) error {
			return f.store.Bookings.Transition(ctx, &domain.Transition{
				BookingID:     tr.BookingID,
				From:          domain.BookingStatusPaymentPending,
				To:            domain.BookingStatusCancelled,
				ActorID:       domain.SystemPrincipal.ID,
				ActorRole:     domain.RoleSystem,
				Reason:        "payment window elapsed",
				At:            f.clock.Now(),
				ClearDeadline: true,
			})
		})

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_late"))
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyOutcomeRejected, res.Outcome)
		assert.Equal(t, domain.BookingStatusCancelled, bookingStatus(t, f, b.ID))
		assert.Equal(t, domain.WindowStateReleased, f.window(t, b.ID).State)
		assert.Equal(t, domain.PaymentOrderStatusFailed, orderStatus(t, f, b.ID))
	})

	t.Run("Sweep racing the confirm settles on confirmed", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		f.bookingsRepo.beforeTransition = once(func(*domain.Transition) error {
			f.clock.Advance(31 * time.Minute)
			_, err := f.bookings.ExpireOverdue(ctx)
			return err
		})

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_1"))
		require.NoError(t, err)
		assert.True(t, res.Verified())
		assert.Equal(t, domain.BookingStatusConfirmed, bookingStatus(t, f, b.ID))
		assert.Equal(t, domain.WindowStateConfirmed, f.window(t, b.ID).State)

		history, err := f.bookings.History(ctx, admin, b.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.BookingStatusConfirmed, history[len(history)-1].To)
		assert.Equal(t, domain.RoleSystem, history[len(history)-1].ActorRole)
	})

	t.Run("Sweep wins before the order is marked verified", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")
		var sweep sync.Once
		f.ordersRepo.beforeMarkVerified = func(string) {
			sweep.Do(func() {
				f.clock.Advance(31 * time.Minute)
				_, err := f.bookings.ExpireOverdue(ctx)
				assert.NoError(t, err)
			})
		}

		res, err := f.payments.Verify(ctx, f.verifyRequest(order, "pay_late"))
		require.NoError(t, err)
		assert.Equal(t, domain.VerifyOutcomeRejected, res.Outcome)
		assert.Equal(t, domain.BookingStatusCancelled, bookingStatus(t, f, b.ID))
		assert.Equal(t, domain.WindowStateReleased, f.window(t, b.ID).State)
		assert.Equal(t, domain.PaymentOrderStatusFailed, orderStatus(t, f, b.ID))
	})
}

func TestPaymentService_CreateOrder(t *testing.T) {
	ctx := context.Background()

	t.Run("Amount comes from the booking snapshot", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, customer, june1, june4)
		// Provider raises the rate after the booking was made.
		f.store.PutVehicle(domain.Vehicle{ID: "veh-1", ProviderID: provider.ID, DailyRate: 9000, Currency: "INR"})

		_, c, err := f.bookings.AcceptBooking(ctx, provider, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(2000), c.Terms.DailyRate)
		assert.Equal(t, int64(6000), c.Terms.TotalCost)

		f.gw.On("CreateOrder", mock.Anything, int64(6000), "INR", b.ID).Return("order_1", nil).Once()
		_, order, err := f.bookings.SignContract(ctx, customer, b.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(6000), order.Amount)
		f.gw.AssertExpectations(t)
	})

	t.Run("Retry and sibling orders", func(t *testing.T) {
		f := newFixture(t)
		b, first := f.toPaymentPending(t, "order_1")

		f.gw.On("CreateOrder", mock.Anything, int64(6000), "INR", b.ID).Return("order_2", nil).Once()
		second, err := f.payments.CreateOrder(ctx, customer, first.ContractID)
		require.NoError(t, err)
		assert.NotEqual(t, first.ID, second.ID)
		assert.Equal(t, first.Amount, second.Amount)

		res, err := f.payments.Verify(ctx, f.verifyRequest(second, "pay_2"))
		require.NoError(t, err)
		assert.True(t, res.Verified())

		// The first order can no longer be used once the booking is paid.
		res, err = f.payments.Verify(ctx, f.verifyRequest(first, "pay_1"))
		require.NoError(t, err)
		assert.False(t, res.Verified())

		orders, err := f.payments.ListOrders(ctx, customer, b.ID)
		require.NoError(t, err)
		verified := 0
		for _, o := range orders {
			if o.Status == domain.PaymentOrderStatusVerified {
				verified++
				assert.Equal(t, second.ID, o.ID)
			}
		}
		assert.Equal(t, 1, verified)
	})

	t.Run("Rejected callers and states", func(t *testing.T) {
		f := newFixture(t)
		b, order := f.toPaymentPending(t, "order_1")

		_, err := f.payments.CreateOrder(ctx, customer2, order.ContractID)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		_, err = f.payments.ListOrders(ctx, customer2, b.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		_, err = f.payments.Verify(ctx, f.verifyRequest(order, "pay_1"))
		require.NoError(t, err)
		_, err = f.payments.CreateOrder(ctx, customer, order.ContractID)
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	})
}
