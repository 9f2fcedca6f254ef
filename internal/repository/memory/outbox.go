package memory

import (
	"context"
	"time"

	"wheelshare-backend/internal/domain"
)

type outboxRepository struct {
	s *Store
}

func (r *outboxRepository) Append(ctx context.Context, e *domain.Event) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c := *e
	r.s.events = append(r.s.events, &c)
	return nil
}

func (r *outboxRepository) ListPending(ctx context.Context, limit int) ([]domain.Event, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Event
	for _, e := range r.s.events {
		if e.PublishedAt != nil {
			continue
		}
		out = append(out, *e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (r *outboxRepository) MarkPublished(ctx context.Context, ids []string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for _, e := range r.s.events {
		if _, ok := set[e.ID]; ok && e.PublishedAt == nil {
			published := at
			e.PublishedAt = &published
		}
	}
	return nil
}
