// Package app assembles the stores, services and jobs from configuration. The
// server and the cronjob binary share it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"wheelshare-backend/internal/cache"
	"wheelshare-backend/internal/config"
	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/events"
	"wheelshare-backend/internal/gateway"
	"wheelshare-backend/internal/jobs"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository/memory"
	"wheelshare-backend/internal/repository/postgres"
	"wheelshare-backend/internal/service"
)

// App holds the wired services. Close releases every connection Build opened.
type App struct {
	Config    *config.Config
	Repos     service.Repositories
	Ledger    service.ReservationLedger
	Contracts service.ContractService
	Payments  service.PaymentService
	Bookings  service.BookingService
	Jobs      *jobs.JobRunner

	// Memory is set when the in-process store is selected.
	Memory *memory.Store

	closers []func() error
}

// Build connects to the configured backends and wires the services.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("Using in-memory store, data is lost on restart")
		a.Memory = memory.NewStore()
		a.Repos = service.Repositories{
			Vehicles: a.Memory.Vehicles, Reservations: a.Memory.Reservations, Bookings: a.Memory.Bookings,
			Contracts: a.Memory.Contracts, Orders: a.Memory.Orders, Outbox: a.Memory.Outbox,
		}
		seedVehicles(a.Memory, cfg.Seed.Vehicles)
	default:
		logger.Info("Connecting to database...", "host", cfg.Database.Host, "port", cfg.Database.Port, "database", cfg.Database.Database)
		db, err := postgres.Open(ctx, cfg.GetDatabaseConnectionString())
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := postgres.Migrate(ctx, db); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("Database connection established")
		a.Repos = reposFromDB(db)
	}

	var availability service.AvailabilityCache
	if cfg.Redis.Addr != "" {
		client := cache.NewRedisClient(cache.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			// the ledger treats cache errors as misses, so a cold Redis is not fatal
			logger.Warn("Redis unreachable, availability reads go to the store", "addr", cfg.Redis.Addr, "error", err)
		}
		availability = newAvailabilityCache(client, cfg)
	}

	opts := []service.Option{
		service.WithProviderResponseTTL(cfg.ProviderResponseTTL()),
		service.WithPaymentWindow(cfg.PaymentWindow()),
		service.WithPaymentRequired(cfg.PaymentRequired()),
		service.WithSweepBatch(cfg.Booking.SweepBatchSize),
	}

	gw := gateway.NewClient(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		KeyID:     cfg.Gateway.KeyID,
		KeySecret: cfg.Gateway.KeySecret,
		Timeout:   time.Duration(cfg.Gateway.TimeoutSeconds) * time.Second,
	})

	a.Ledger = service.NewReservationLedger(a.Repos.Reservations, availability, opts...)
	a.Contracts = service.NewContractService(a.Repos, opts...)
	a.Payments = service.NewPaymentService(a.Repos, a.Ledger, a.Contracts, gw, opts...)
	a.Bookings = service.NewBookingService(a.Repos, a.Ledger, a.Contracts, a.Payments, opts...)

	var publisher jobs.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		producer := events.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, producer.Close)
		publisher = producer
		logger.Info("Outbox relay enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	} else {
		logger.Warn("No Kafka brokers configured, outbox events stay pending")
	}
	a.Jobs = jobs.NewJobRunner(a.Bookings, a.Repos.Outbox, publisher, cfg)

	return a, nil
}

func seedVehicles(store *memory.Store, seeds []config.VehicleSeed) {
	for _, v := range seeds {
		store.PutVehicle(domain.Vehicle{
			ID:                 v.ID,
			ProviderID:         v.ProviderID,
			Title:              v.Title,
			RegistrationNumber: v.RegistrationNumber,
			DailyRate:          v.DailyRate,
			Currency:           v.Currency,
			Status:             domain.VehicleStatus(v.Status),
		})
	}
	if len(seeds) > 0 {
		logger.Info("Seeded vehicles into memory store", "count", len(seeds))
	}
}

func reposFromDB(db *sql.DB) service.Repositories {
	store := postgres.NewStore(db)
	return service.Repositories{
		Vehicles: store.Vehicles, Reservations: store.Reservations, Bookings: store.Bookings,
		Contracts: store.Contracts, Orders: store.Orders, Outbox: store.Outbox,
	}
}

func newAvailabilityCache(client redis.Cmdable, cfg *config.Config) service.AvailabilityCache {
	return cache.NewAvailabilityCache(client, time.Duration(cfg.Redis.AvailabilityTTLSeconds)*time.Second)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
