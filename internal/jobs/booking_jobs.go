package jobs

import (
	"context"

	"wheelshare-backend/internal/logger"
)

// ExpireBookings cancels bookings past their provider response or payment
// deadline and reports how many it cancelled.
func (jr *JobRunner) ExpireBookings(ctx context.Context) (int, error) {
	expired, err := jr.bookings.ExpireOverdue(ctx)
	for _, b := range expired {
		logger.Info("Booking expired", "booking_id", b.ID, "vehicle_id", b.VehicleID, "customer_id", b.CustomerID)
	}
	return len(expired), err
}

// ExpireBookingsJob is the cron entry point for ExpireBookings
func (jr *JobRunner) ExpireBookingsJob() {
	jr.runWithRecovery("ExpireBookings", jr.ExpireBookings)
}
