package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
)

type paymentOrderRepository struct {
	db *sql.DB
}

func NewPaymentOrderRepository(db *sql.DB) repository.PaymentOrderRepository {
	return &paymentOrderRepository{db: db}
}

const orderColumns = `id, contract_id, booking_id, gateway_order_id, gateway_payment_id, amount, currency, status,
	failure_reason, created_on, updated_on`

func (r *paymentOrderRepository) Create(ctx context.Context, o *domain.PaymentOrder) error {
	query := `INSERT INTO payment_orders (` + orderColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := r.db.ExecContext(ctx, query, o.ID, o.ContractID, o.BookingID, o.GatewayOrderID, o.GatewayPaymentID,
		o.Amount, o.Currency, o.Status, o.FailureReason, o.CreatedOn, o.UpdatedOn)
	return err
}

func (r *paymentOrderRepository) GetByID(ctx context.Context, id string) (*domain.PaymentOrder, error) {
	o := &domain.PaymentOrder{}
	err := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE id = $1`, id).
		Scan(&o.ID, &o.ContractID, &o.BookingID, &o.GatewayOrderID, &o.GatewayPaymentID, &o.Amount, &o.Currency, &o.Status,
			&o.FailureReason, &o.CreatedOn, &o.UpdatedOn)
	if err != nil {
		return nil, notFound(err, "payment order", id)
	}
	return o, nil
}

func (r *paymentOrderRepository) ListByBooking(ctx context.Context, bookingID string) ([]domain.PaymentOrder, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM payment_orders WHERE booking_id = $1 ORDER BY created_on`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.PaymentOrder
	for rows.Next() {
		var o domain.PaymentOrder
		if err := rows.Scan(&o.ID, &o.ContractID, &o.BookingID, &o.GatewayOrderID, &o.GatewayPaymentID, &o.Amount, &o.Currency, &o.Status,
			&o.FailureReason, &o.CreatedOn, &o.UpdatedOn); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// MarkVerified relies on payment_orders_one_verified when two orders of one
// booking race past the NOT EXISTS check.
func (r *paymentOrderRepository) MarkVerified(ctx context.Context, id, gatewayPaymentID string, at time.Time) (bool, error) {
	query := `UPDATE payment_orders o SET status = 'VERIFIED', gateway_payment_id = $2, updated_on = $3
	          WHERE o.id = $1 AND o.status = 'CREATED'
	            AND NOT EXISTS (SELECT 1 FROM payment_orders v WHERE v.booking_id = o.booking_id AND v.status = 'VERIFIED')`
	logger.DatabaseCall("MarkVerified", query, "orderID", id)
	res, err := r.db.ExecContext(ctx, query, id, gatewayPaymentID, at)
	if err != nil {
		logger.DatabaseResult("MarkVerified", 0, err)
		if pqCode(err) == pqUniqueViolation {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	logger.DatabaseResult("MarkVerified", n, err)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

func (r *paymentOrderRepository) MarkFailed(ctx context.Context, id string, from []domain.PaymentOrderStatus, reason string, at time.Time) (bool, error) {
	states := make([]string, len(from))
	for i, s := range from {
		states[i] = string(s)
	}
	query := `UPDATE payment_orders SET status = 'FAILED', failure_reason = $3, updated_on = $4
	          WHERE id = $1 AND status = ANY($2)`
	res, err := r.db.ExecContext(ctx, query, id, pq.Array(states), reason, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, r.ensureExists(ctx, id)
	}
	return true, nil
}

func (r *paymentOrderRepository) FailOpenByBooking(ctx context.Context, bookingID, reason string, at time.Time) (int64, error) {
	query := `UPDATE payment_orders SET status = 'FAILED', failure_reason = $2, updated_on = $3
	          WHERE booking_id = $1 AND status = 'CREATED'`
	res, err := r.db.ExecContext(ctx, query, bookingID, reason, at)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *paymentOrderRepository) ensureExists(ctx context.Context, id string) error {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM payment_orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("payment order %s: %w", id, domain.ErrNotFound)
	}
	return nil
}
