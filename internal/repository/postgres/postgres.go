package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	db *sql.DB

	Vehicles     repository.VehicleRepository
	Reservations repository.ReservationRepository
	Bookings     repository.BookingRepository
	Contracts    repository.ContractRepository
	Orders       repository.PaymentOrderRepository
	Outbox       repository.OutboxRepository
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:           db,
		Vehicles:     NewVehicleRepository(db),
		Reservations: NewReservationRepository(db),
		Bookings:     NewBookingRepository(db),
		Contracts:    NewContractRepository(db),
		Orders:       NewPaymentOrderRepository(db),
		Outbox:       NewOutboxRepository(db),
	}
}

// Open connects with lib/pq and checks the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded schema. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

const (
	pqUniqueViolation    = "23505"
	pqExclusionViolation = "23P01"
)

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

func notFound(err error, what, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}
