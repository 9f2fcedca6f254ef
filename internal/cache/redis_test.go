package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
)

var (
	start = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	end   = time.Date(2024, 6, 4, 0, 0, 0, 0, time.UTC)
)

func TestAvailabilityCache_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("Hit", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewAvailabilityCache(db, time.Minute)
		mock.ExpectHGet("availability:vehicle:v1", "2024-06-01:2024-06-04").SetVal("1")

		available, found, err := c.Get(ctx, "v1", start, end)
		assert.NoError(t, err)
		assert.True(t, found)
		assert.True(t, available)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Miss", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewAvailabilityCache(db, time.Minute)
		mock.ExpectHGet("availability:vehicle:v1", "2024-06-01:2024-06-04").RedisNil()

		_, found, err := c.Get(ctx, "v1", start, end)
		assert.NoError(t, err)
		assert.False(t, found)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("Error", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewAvailabilityCache(db, time.Minute)
		mock.ExpectHGet("availability:vehicle:v1", "2024-06-01:2024-06-04").SetErr(errors.New("connection refused"))

		_, found, err := c.Get(ctx, "v1", start, end)
		assert.Error(t, err)
		assert.False(t, found)
	})
}

func TestAvailabilityCache_Generation(t *testing.T) {
	ctx := context.Background()
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute)

	mock.ExpectGet("availability:vehicle:v1:gen").RedisNil()
	gen, err := c.Generation(ctx, "v1")
	assert.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	mock.ExpectGet("availability:vehicle:v1:gen").SetVal("7")
	gen, err = c.Generation(ctx, "v1")
	assert.NoError(t, err)
	assert.Equal(t, int64(7), gen)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAvailabilityCache_Set(t *testing.T) {
	keys := []string{"availability:vehicle:v1", "availability:vehicle:v1:gen"}

	t.Run("Current generation", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewAvailabilityCache(db, 2*time.Minute)
		mock.ExpectEvalSha(setIfCurrent.Hash(), keys, int64(3), "2024-06-01:2024-06-04", "0", int64(120000)).SetVal(int64(1))

		err := c.Set(context.Background(), "v1", start, end, false, 3)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	// A claim that invalidated after the answer was read makes the write a no-op.
	t.Run("Stale generation", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		c := NewAvailabilityCache(db, 2*time.Minute)
		mock.ExpectEvalSha(setIfCurrent.Hash(), keys, int64(3), "2024-06-01:2024-06-04", "1", int64(120000)).SetVal(int64(0))

		err := c.Set(context.Background(), "v1", start, end, true, 3)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAvailabilityCache_Invalidate(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := NewAvailabilityCache(db, time.Minute)

	mock.ExpectIncr("availability:vehicle:v1:gen").SetVal(4)
	mock.ExpectDel("availability:vehicle:v1").SetVal(1)

	assert.NoError(t, c.Invalidate(context.Background(), "v1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
