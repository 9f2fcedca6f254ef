package jobs

import (
	"context"
	"fmt"
)

// RelayOutbox publishes pending outbox events in append order and marks them
// published. A failed publish leaves the batch pending for the next run, so
// consumers see each event at least once.
func (jr *JobRunner) RelayOutbox(ctx context.Context) (int, error) {
	if jr.publisher == nil {
		return 0, nil
	}
	batchSize := jr.config.Outbox.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	relayed := 0
	for {
		pending, err := jr.outbox.ListPending(ctx, batchSize)
		if err != nil {
			return relayed, fmt.Errorf("list pending events: %w", err)
		}
		if len(pending) == 0 {
			return relayed, nil
		}
		if err := jr.publisher.Publish(ctx, pending); err != nil {
			return relayed, err
		}

		ids := make([]string, len(pending))
		for i, e := range pending {
			ids[i] = e.ID
		}
		if err := jr.outbox.MarkPublished(ctx, ids, jr.now()); err != nil {
			return relayed, fmt.Errorf("mark events published: %w", err)
		}
		relayed += len(pending)

		if len(pending) < batchSize {
			return relayed, nil
		}
	}
}

// RelayOutboxJob is the cron entry point for RelayOutbox
func (jr *JobRunner) RelayOutboxJob() {
	jr.runWithRecovery("RelayOutbox", jr.RelayOutbox)
}
