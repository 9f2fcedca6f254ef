package domain

import "time"

type WindowState string

const (
	WindowStateHeld      WindowState = "HELD"
	WindowStateConfirmed WindowState = "CONFIRMED"
	WindowStateReleased  WindowState = "RELEASED"
)

// IsActive reports whether the window still blocks its date range.
func (s WindowState) IsActive() bool {
	return s == WindowStateHeld || s == WindowStateConfirmed
}

// ReservationWindow covers the half-open day range [StartDate, EndDate).
type ReservationWindow struct {
	ID         string      `json:"id"`
	VehicleID  string      `json:"vehicle_id"`
	BookingID  string      `json:"booking_id"`
	StartDate  time.Time   `json:"start_date"`
	EndDate    time.Time   `json:"end_date"`
	State      WindowState `json:"state"`
	CreatedOn  time.Time   `json:"created_on"`
	ReleasedOn *time.Time  `json:"released_on,omitempty"`
}

// Overlaps reports whether the window intersects [start, end).
func (w *ReservationWindow) Overlaps(start, end time.Time) bool {
	return w.StartDate.Before(end) && start.Before(w.EndDate)
}

type ClaimResult string

const (
	ClaimResultClaimed  ClaimResult = "CLAIMED"
	ClaimResultConflict ClaimResult = "CONFLICT"
)
