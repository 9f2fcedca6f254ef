package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "0123456789abcdef0123456789abcdef"

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(`
store: memory
jwt:
  secret: ` + secret + `
gateway:
  base_url: https://api.gateway.test
  key_secret: s3cret
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9090, cfg.Server.GRPCPort)
	assert.Equal(t, 24*time.Hour, cfg.ProviderResponseTTL())
	assert.Equal(t, 30*time.Minute, cfg.PaymentWindow())
	assert.True(t, cfg.PaymentRequired())
	assert.Equal(t, "INR", cfg.Booking.Currency)
	assert.Equal(t, 300, cfg.Redis.AvailabilityTTLSeconds)
	assert.Equal(t, "booking-events", cfg.Kafka.Topic)
	assert.Equal(t, 100, cfg.Outbox.BatchSize)
	assert.Equal(t, "0 * * * * *", cfg.Scheduler.ExpireBookings)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestParse_PaymentDisabled(t *testing.T) {
	cfg, err := Parse([]byte(`
store: memory
jwt:
  secret: ` + secret + `
booking:
  payment_required: false
  payment_window_minutes: 15
`))
	require.NoError(t, err)
	assert.False(t, cfg.PaymentRequired())
	assert.Equal(t, 15*time.Minute, cfg.PaymentWindow())
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", secret)
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("PAYMENT_REQUIRED", "false")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Parse([]byte(`
database:
  user: wheelshare
  database: bookings
`))
	require.NoError(t, err)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.False(t, cfg.PaymentRequired())
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "postgres://wheelshare:@db.internal:5432/bookings?sslmode=disable", cfg.GetDatabaseConnectionString())
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"short secret":      "store: memory\njwt:\n  secret: short\nbooking:\n  payment_required: false\n",
		"missing gateway":   "store: memory\njwt:\n  secret: " + secret + "\n",
		"unknown store":     "store: mongo\njwt:\n  secret: " + secret + "\n",
		"missing db host":   "jwt:\n  secret: " + secret + "\nbooking:\n  payment_required: false\n",
		"bad cron":          "store: memory\njwt:\n  secret: " + secret + "\nbooking:\n  payment_required: false\nscheduler:\n  relay_outbox: every now and then\n",
		"negative deadline": "store: memory\njwt:\n  secret: " + secret + "\nbooking:\n  payment_required: false\n  payment_window_minutes: -5\n",
		"seed without id":   "store: memory\njwt:\n  secret: " + secret + "\nbooking:\n  payment_required: false\nseed:\n  vehicles:\n    - provider_id: p1\n",
		"seed negative":     "store: memory\njwt:\n  secret: " + secret + "\nbooking:\n  payment_required: false\nseed:\n  vehicles:\n    - id: v1\n      provider_id: p1\n      daily_rate: -1\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestParse_SeedVehicles(t *testing.T) {
	cfg, err := Parse([]byte(`
store: memory
jwt:
  secret: ` + secret + `
booking:
  payment_required: false
  currency: USD
seed:
  vehicles:
    - id: v1
      provider_id: p1
      daily_rate: 4500
    - id: v2
      provider_id: p1
      currency: EUR
      status: MAINTENANCE
`))
	require.NoError(t, err)
	require.Len(t, cfg.Seed.Vehicles, 2)
	assert.Equal(t, "USD", cfg.Seed.Vehicles[0].Currency)
	assert.Equal(t, "AVAILABLE", cfg.Seed.Vehicles[0].Status)
	assert.Equal(t, int64(4500), cfg.Seed.Vehicles[0].DailyRate)
	assert.Equal(t, "EUR", cfg.Seed.Vehicles[1].Currency)
	assert.Equal(t, "MAINTENANCE", cfg.Seed.Vehicles[1].Status)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: memory\njwt:\n  secret: "+secret+"\nbooking:\n  payment_required: false\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
