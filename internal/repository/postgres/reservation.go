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

type reservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &reservationRepository{db: db}
}

const windowColumns = `id, vehicle_id, booking_id, start_date, end_date, state, created_on, released_on`

// Claim serializes on the vehicle row: the overlap check and the insert run
// under SELECT ... FOR UPDATE, so concurrent claims for one vehicle queue
// for the length of this transaction only.
func (r *reservationRepository) Claim(ctx context.Context, w *domain.ReservationWindow) (bool, error) {
	return r.claim(ctx, w, nil)
}

// ClaimForBooking commits the window, the booking row and its first audit
// entry together, so a crash between them cannot strand a HELD window.
func (r *reservationRepository) ClaimForBooking(ctx context.Context, w *domain.ReservationWindow, b *domain.Booking) (bool, error) {
	return r.claim(ctx, w, b)
}

func (r *reservationRepository) claim(ctx context.Context, w *domain.ReservationWindow, b *domain.Booking) (bool, error) {
	logger.EnterMethod("reservationRepository.Claim", "vehicleID", w.VehicleID, "bookingID", w.BookingID)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	claimed, err := claimInTx(ctx, tx, w)
	if err != nil || !claimed {
		return false, err
	}
	if b != nil {
		if err := insertBooking(ctx, tx, b); err != nil {
			logger.ExitMethodWithError("reservationRepository.Claim", err, "bookingID", b.ID)
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		if pqCode(err) == pqExclusionViolation {
			return false, nil
		}
		return false, err
	}

	w.State = domain.WindowStateHeld
	logger.ExitMethod("reservationRepository.Claim", "result", domain.ClaimResultClaimed, "windowID", w.ID)
	return true, nil
}

// claimInTx locks the vehicle row, checks for overlap and inserts w as HELD.
// It reports false, nil on overlap; the caller owns commit and rollback.
func claimInTx(ctx context.Context, tx *sql.Tx, w *domain.ReservationWindow) (bool, error) {
	var locked string
	err := tx.QueryRowContext(ctx, `SELECT id FROM vehicles WHERE id = $1 FOR UPDATE`, w.VehicleID).Scan(&locked)
	if err != nil {
		return false, notFound(err, "vehicle", w.VehicleID)
	}

	var overlapping bool
	err = tx.QueryRowContext(ctx, `SELECT EXISTS (
		SELECT 1 FROM reservation_windows
		WHERE vehicle_id = $1 AND state IN ('HELD', 'CONFIRMED') AND start_date < $3 AND $2 < end_date)`,
		w.VehicleID, w.StartDate, w.EndDate).Scan(&overlapping)
	if err != nil {
		return false, err
	}
	if overlapping {
		logger.ExitMethod("reservationRepository.Claim", "result", domain.ClaimResultConflict)
		return false, nil
	}

	_, err = tx.ExecContext(ctx, `INSERT INTO reservation_windows (`+windowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULL)`,
		w.ID, w.VehicleID, w.BookingID, w.StartDate, w.EndDate, domain.WindowStateHeld, w.CreatedOn)
	if err != nil {
		switch pqCode(err) {
		case pqExclusionViolation:
			logger.Warn("Overlap caught by exclusion constraint", "vehicleID", w.VehicleID, "bookingID", w.BookingID)
			return false, nil
		case pqUniqueViolation:
			return false, fmt.Errorf("booking %s already holds a window: %w", w.BookingID, domain.ErrConflict)
		}
		logger.ExitMethodWithError("reservationRepository.Claim", err, "vehicleID", w.VehicleID)
		return false, err
	}
	return true, nil
}

// ListOrphanedHeld finds HELD windows created at or before cutoff whose
// booking row was never written.
func (r *reservationRepository) ListOrphanedHeld(ctx context.Context, cutoff time.Time, limit int) ([]domain.ReservationWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM reservation_windows w
	          WHERE w.state = 'HELD' AND w.created_on <= $1
	            AND NOT EXISTS (SELECT 1 FROM bookings b WHERE b.id = w.booking_id)
	          ORDER BY w.created_on LIMIT $2`
	logger.DatabaseCall("ListOrphanedHeld", query, "cutoff", cutoff, "limit", limit)
	rows, err := r.db.QueryContext(ctx, query, cutoff, limit)
	if err != nil {
		logger.DatabaseResult("ListOrphanedHeld", 0, err)
		return nil, err
	}
	defer rows.Close()
	return scanWindows(rows)
}

func (r *reservationRepository) Finalize(ctx context.Context, bookingID string) error {
	query := `UPDATE reservation_windows SET state = 'CONFIRMED' WHERE booking_id = $1 AND state = 'HELD'`
	logger.DatabaseCall("Finalize", query, "bookingID", bookingID)
	res, err := r.db.ExecContext(ctx, query, bookingID)
	if err != nil {
		logger.DatabaseResult("Finalize", 0, err)
		return err
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("Finalize", n, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("booking %s: %w", bookingID, domain.ErrNoHeldWindow)
	}
	return nil
}

func (r *reservationRepository) Release(ctx context.Context, bookingID string, at time.Time) (bool, error) {
	query := `UPDATE reservation_windows SET state = 'RELEASED', released_on = $2
	          WHERE booking_id = $1 AND state IN ('HELD', 'CONFIRMED')`
	res, err := r.db.ExecContext(ctx, query, bookingID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *reservationRepository) IsAvailable(ctx context.Context, vehicleID string, start, end time.Time) (bool, error) {
	var taken bool
	query := `SELECT EXISTS (
		SELECT 1 FROM reservation_windows
		WHERE vehicle_id = $1 AND state IN ('HELD', 'CONFIRMED') AND start_date < $3 AND $2 < end_date)`
	if err := r.db.QueryRowContext(ctx, query, vehicleID, start, end).Scan(&taken); err != nil {
		return false, err
	}
	return !taken, nil
}

func (r *reservationRepository) GetByBooking(ctx context.Context, bookingID string) (*domain.ReservationWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM reservation_windows WHERE booking_id = $1 ORDER BY created_on DESC LIMIT 1`
	w, err := scanWindow(r.db.QueryRowContext(ctx, query, bookingID))
	if err != nil {
		return nil, notFound(err, "window for booking", bookingID)
	}
	return w, nil
}

func (r *reservationRepository) ListActiveByVehicle(ctx context.Context, vehicleID string) ([]domain.ReservationWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM reservation_windows
	          WHERE vehicle_id = $1 AND state IN ('HELD', 'CONFIRMED') ORDER BY start_date`
	rows, err := r.db.QueryContext(ctx, query, vehicleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanWindows(rows)
}

func scanWindows(rows *sql.Rows) ([]domain.ReservationWindow, error) {
	var windows []domain.ReservationWindow
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, err
		}
		windows = append(windows, *w)
	}
	return windows, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWindow(s scanner) (*domain.ReservationWindow, error) {
	w := &domain.ReservationWindow{}
	var released sql.NullTime
	if err := s.Scan(&w.ID, &w.VehicleID, &w.BookingID, &w.StartDate, &w.EndDate, &w.State, &w.CreatedOn, &released); err != nil {
		return nil, err
	}
	if released.Valid {
		w.ReleasedOn = &released.Time
	}
	return w, nil
}
