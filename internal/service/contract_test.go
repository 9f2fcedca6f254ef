package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wheelshare-backend/internal/domain"
)

func TestContractService(t *testing.T) {
	ctx := context.Background()

	t.Run("Issue is idempotent per booking", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, customer, june1, june4)

		first, created, err := f.contracts.Issue(ctx, b)
		require.NoError(t, err)
		assert.True(t, created)
		require.NotNil(t, first.ProviderSignedAt)
		assert.Equal(t, "Hatchback", first.Terms.VehicleTitle)
		assert.Equal(t, customer.ID, first.Terms.CustomerID)

		second, created, err := f.contracts.Issue(ctx, b)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)

		linked, err := f.bookings.GetBooking(ctx, customer, b.ID)
		require.NoError(t, err)
		require.NotNil(t, linked.ContractID)
		assert.Equal(t, first.ID, *linked.ContractID)
	})

	t.Run("Sign", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, customer, june1, june4)
		c, _, err := f.contracts.Issue(ctx, b)
		require.NoError(t, err)

		_, err = f.contracts.Sign(ctx, c.ID, domain.RoleProvider)
		assert.ErrorIs(t, err, domain.ErrForbidden)

		signed, err := f.contracts.Sign(ctx, c.ID, domain.RoleCustomer)
		require.NoError(t, err)
		assert.True(t, signed.FullySigned())

		_, err = f.contracts.Sign(ctx, c.ID, domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrAlreadySigned)
		assert.ErrorIs(t, err, domain.ErrConflict)

		_, err = f.contracts.Reject(ctx, c.ID, domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrAlreadySigned)

		after, err := f.contracts.GetForBooking(ctx, b.ID)
		require.NoError(t, err)
		assert.Nil(t, after.RejectedAt)
		assert.Equal(t, signed.CustomerSignedAt, after.CustomerSignedAt)
	})

	t.Run("Rejected contract cannot be signed", func(t *testing.T) {
		f := newFixture(t)
		b := f.book(t, customer, june1, june4)
		c, _, err := f.contracts.Issue(ctx, b)
		require.NoError(t, err)

		rejected, err := f.contracts.Reject(ctx, c.ID, domain.RoleProvider)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleProvider, rejected.RejectedBy)

		_, err = f.contracts.Sign(ctx, c.ID, domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrConflict)
		_, err = f.contracts.Reject(ctx, c.ID, domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("Unknown contract", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.contracts.Sign(ctx, "missing", domain.RoleCustomer)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}
