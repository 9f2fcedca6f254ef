package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

type contractRepository struct {
	db *sql.DB
}

func NewContractRepository(db *sql.DB) repository.ContractRepository {
	return &contractRepository{db: db}
}

const contractColumns = `id, booking_id, terms, provider_signed_at, customer_signed_at, rejected_at, rejected_by, created_on`

func (r *contractRepository) Create(ctx context.Context, c *domain.Contract) (*domain.Contract, bool, error) {
	terms, err := json.Marshal(c.Terms)
	if err != nil {
		return nil, false, fmt.Errorf("encode contract terms: %w", err)
	}
	query := `INSERT INTO contracts (` + contractColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	          ON CONFLICT (booking_id) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, c.ID, c.BookingID, string(terms), c.ProviderSignedAt, c.CustomerSignedAt, c.RejectedAt, c.RejectedBy, c.CreatedOn)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		existing, err := r.GetByBooking(ctx, c.BookingID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	out := *c
	return &out, true, nil
}

func (r *contractRepository) GetByID(ctx context.Context, id string) (*domain.Contract, error) {
	c, err := scanContract(r.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "contract", id)
	}
	return c, nil
}

func (r *contractRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.Contract, error) {
	c, err := scanContract(r.db.QueryRowContext(ctx, `SELECT `+contractColumns+` FROM contracts WHERE booking_id = $1`, bookingID))
	if err != nil {
		return nil, notFound(err, "contract for booking", bookingID)
	}
	return c, nil
}

func (r *contractRepository) SignCustomer(ctx context.Context, id string, at time.Time) (bool, error) {
	query := `UPDATE contracts SET customer_signed_at = $2
	          WHERE id = $1 AND provider_signed_at IS NOT NULL AND customer_signed_at IS NULL AND rejected_at IS NULL`
	return r.apply(ctx, id, query, id, at)
}

func (r *contractRepository) Reject(ctx context.Context, id string, by domain.Role, at time.Time) (bool, error) {
	query := `UPDATE contracts SET rejected_at = $2, rejected_by = $3
	          WHERE id = $1 AND rejected_at IS NULL AND customer_signed_at IS NULL`
	return r.apply(ctx, id, query, id, at, by)
}

// apply runs a conditional update and tells a missing contract apart from a
// contract whose state no longer allows the change.
func (r *contractRepository) apply(ctx context.Context, id, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM contracts WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, fmt.Errorf("contract %s: %w", id, domain.ErrNotFound)
	}
	return false, nil
}

func scanContract(s scanner) (*domain.Contract, error) {
	c := &domain.Contract{}
	var (
		terms                               []byte
		providerSigned, customerSigned, rej sql.NullTime
	)
	if err := s.Scan(&c.ID, &c.BookingID, &terms, &providerSigned, &customerSigned, &rej, &c.RejectedBy, &c.CreatedOn); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(terms, &c.Terms); err != nil {
		return nil, fmt.Errorf("decode contract terms: %w", err)
	}
	if providerSigned.Valid {
		c.ProviderSignedAt = &providerSigned.Time
	}
	if customerSigned.Valid {
		c.CustomerSignedAt = &customerSigned.Time
	}
	if rej.Valid {
		c.RejectedAt = &rej.Time
	}
	return c, nil
}
