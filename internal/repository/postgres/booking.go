package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
)

type bookingRepository struct {
	db *sql.DB
}

func NewBookingRepository(db *sql.DB) repository.BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, customer_id, provider_id, vehicle_id, start_date, end_date, daily_rate, currency, total_cost,
	status, contract_id, expires_at, halted, halt_reason, created_on, updated_on`

func (r *bookingRepository) Create(ctx context.Context, b *domain.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertBooking(ctx, tx, b); err != nil {
		return err
	}
	return tx.Commit()
}

// insertBooking writes b and its initial audit row inside tx.
func insertBooking(ctx context.Context, tx *sql.Tx, b *domain.Booking) error {
	query := `INSERT INTO bookings (` + bookingColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err := tx.ExecContext(ctx, query, b.ID, b.CustomerID, b.ProviderID, b.VehicleID, b.StartDate, b.EndDate,
		b.DailyRate, b.Currency, b.TotalCost, b.Status, b.ContractID, b.ExpiresAt, b.Halted, b.HaltReason, b.CreatedOn, b.UpdatedOn)
	if err != nil {
		if pqCode(err) == pqUniqueViolation {
			return fmt.Errorf("booking %s already exists: %w", b.ID, domain.ErrConflict)
		}
		return err
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO booking_transitions (booking_id, from_status, to_status, actor_id, actor_role, reason, at)
		VALUES ($1, '', $2, $3, $4, '', $5)`, b.ID, b.Status, b.CustomerID, domain.RoleCustomer, b.CreatedOn)
	return err
}

func (r *bookingRepository) GetByID(ctx context.Context, id string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	b, err := scanBooking(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "booking", id)
	}
	return b, nil
}

// Transition is a compare-and-set on (status, halted). The audit row is written
// in the same transaction so history never disagrees with the booking row.
func (r *bookingRepository) Transition(ctx context.Context, t *domain.Transition) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var res sql.Result
	switch {
	case t.Deadline != nil:
		res, err = tx.ExecContext(ctx, `UPDATE bookings SET status = $3, expires_at = $4, updated_on = $5
			WHERE id = $1 AND status = $2 AND NOT halted`, t.BookingID, t.From, t.To, *t.Deadline, t.At)
	case t.ClearDeadline:
		res, err = tx.ExecContext(ctx, `UPDATE bookings SET status = $3, expires_at = NULL, updated_on = $4
			WHERE id = $1 AND status = $2 AND NOT halted`, t.BookingID, t.From, t.To, t.At)
	default:
		res, err = tx.ExecContext(ctx, `UPDATE bookings SET status = $3, updated_on = $4
			WHERE id = $1 AND status = $2 AND NOT halted`, t.BookingID, t.From, t.To, t.At)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, t.BookingID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("booking %s: %w", t.BookingID, domain.ErrNotFound)
		}
		return domain.ErrStaleState
	}

	err = tx.QueryRowContext(ctx, `INSERT INTO booking_transitions (booking_id, from_status, to_status, actor_id, actor_role, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.BookingID, t.From, t.To, t.ActorID, t.ActorRole, t.Reason, t.At).Scan(&t.ID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (r *bookingRepository) exec(ctx context.Context, bookingID, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNotFound)
	}
	return nil
}

func (r *bookingRepository) SetContractID(ctx context.Context, bookingID, contractID string) error {
	return r.exec(ctx, bookingID, `UPDATE bookings SET contract_id = $2 WHERE id = $1`, bookingID, contractID)
}

func (r *bookingRepository) Halt(ctx context.Context, bookingID, reason string) error {
	logger.Warn("Halting booking", "bookingID", bookingID, "reason", reason)
	return r.exec(ctx, bookingID, `UPDATE bookings SET halted = TRUE, halt_reason = $2 WHERE id = $1`, bookingID, reason)
}

func (r *bookingRepository) Resume(ctx context.Context, bookingID string) error {
	return r.exec(ctx, bookingID, `UPDATE bookings SET halted = FALSE, halt_reason = '' WHERE id = $1`, bookingID)
}

func (r *bookingRepository) ListByCustomer(ctx context.Context, customerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	return r.listBy(ctx, "customer_id", customerID, status, page, pageSize)
}

func (r *bookingRepository) ListByProvider(ctx context.Context, providerID string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	return r.listBy(ctx, "provider_id", providerID, status, page, pageSize)
}

// listBy only receives column names from this file.
func (r *bookingRepository) listBy(ctx context.Context, column, id string, status domain.BookingStatus, page, pageSize int32) ([]domain.Booking, int32, error) {
	offset := (page - 1) * pageSize
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE ` + column + ` = $1`

	args := []any{id}
	argIdx := 2
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
		argIdx++
	}

	var count int32
	countQuery := "SELECT count(*) FROM (" + query + ") as sub"
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&count); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(" ORDER BY created_on DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, pageSize, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, 0, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, count, rows.Err()
}

func (r *bookingRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings
	          WHERE NOT halted AND status IN ('PENDING_PROVIDER', 'PAYMENT_PENDING') AND expires_at <= $1
	          ORDER BY expires_at LIMIT $2`
	logger.DatabaseCall("ListExpired", query, "now", now, "limit", limit)
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		logger.DatabaseResult("ListExpired", 0, err)
		return nil, err
	}
	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	logger.DatabaseResult("ListExpired", int64(len(bookings)), rows.Err())
	return bookings, rows.Err()
}

func (r *bookingRepository) ListTransitions(ctx context.Context, bookingID string) ([]domain.Transition, error) {
	query := `SELECT id, booking_id, from_status, to_status, actor_id, actor_role, reason, at
	          FROM booking_transitions WHERE booking_id = $1 ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transition
	for rows.Next() {
		var t domain.Transition
		if err := rows.Scan(&t.ID, &t.BookingID, &t.From, &t.To, &t.ActorID, &t.ActorRole, &t.Reason, &t.At); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanBooking(s scanner) (*domain.Booking, error) {
	b := &domain.Booking{}
	var (
		contractID sql.NullString
		expiresAt  sql.NullTime
	)
	err := s.Scan(&b.ID, &b.CustomerID, &b.ProviderID, &b.VehicleID, &b.StartDate, &b.EndDate, &b.DailyRate, &b.Currency, &b.TotalCost,
		&b.Status, &contractID, &expiresAt, &b.Halted, &b.HaltReason, &b.CreatedOn, &b.UpdatedOn)
	if err != nil {
		return nil, err
	}
	if contractID.Valid {
		b.ContractID = &contractID.String
	}
	if expiresAt.Valid {
		b.ExpiresAt = &expiresAt.Time
	}
	return b, nil
}
