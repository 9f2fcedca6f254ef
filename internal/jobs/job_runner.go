package jobs

import (
	"context"
	"time"

	"wheelshare-backend/internal/config"
	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
	"wheelshare-backend/internal/service"
)

// EventPublisher delivers outbox events downstream. events.Producer is the
// Kafka implementation.
type EventPublisher interface {
	Publish(ctx context.Context, evts []domain.Event) error
}

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	bookings  service.BookingService
	outbox    repository.OutboxRepository
	publisher EventPublisher
	config    *config.Config
	now       func() time.Time
	timeout   time.Duration
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(bookings service.BookingService, outbox repository.OutboxRepository, publisher EventPublisher, cfg *config.Config) *JobRunner {
	return &JobRunner{
		bookings:  bookings,
		outbox:    outbox,
		publisher: publisher,
		config:    cfg,
		now:       time.Now,
		timeout:   time.Minute,
	}
}

// Config returns the configuration the runner was built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery and a deadline
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) (int, error)) {
	log := logger.WithService("jobs").With("job", jobName)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Job panicked", "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), jr.timeout)
	defer cancel()

	start := time.Now()
	log.Debug("Starting job")
	n, err := jobFunc(ctx)
	if err != nil {
		log.Error("Job failed", "processed", n, "error", err)
		return
	}
	if n > 0 {
		log.Info("Job completed", "processed", n, "duration", time.Since(start))
	}
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() {
	jr.ExpireBookingsJob()
	jr.RelayOutboxJob()
}
