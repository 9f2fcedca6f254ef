package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

type outboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Append(ctx context.Context, e *domain.Event) error {
	var attrs any
	if len(e.Attributes) > 0 {
		raw, err := json.Marshal(e.Attributes)
		if err != nil {
			return fmt.Errorf("encode event attributes: %w", err)
		}
		attrs = string(raw)
	}
	query := `INSERT INTO outbox_events (id, type, booking_id, prior_state, new_state, occurred_at, attributes)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.Type, e.BookingID, e.PriorState, e.NewState, e.OccurredAt, attrs)
	return err
}

// ListPending returns unpublished events in append order.
func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id, type, booking_id, prior_state, new_state, occurred_at, attributes
	          FROM outbox_events WHERE published_at IS NULL ORDER BY seq LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			e     domain.Event
			attrs []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, &e.BookingID, &e.PriorState, &e.NewState, &e.OccurredAt, &attrs); err != nil {
			return nil, err
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &e.Attributes); err != nil {
				return nil, fmt.Errorf("decode event %s attributes: %w", e.ID, err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *outboxRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = $1 WHERE id = ANY($2)`, at, pq.Array(ids))
	return err
}
