package domain

import "time"

type BookingStatus string

const (
	BookingStatusPendingProvider  BookingStatus = "PENDING_PROVIDER"
	BookingStatusProviderAccepted BookingStatus = "PROVIDER_ACCEPTED"
	BookingStatusPaymentPending   BookingStatus = "PAYMENT_PENDING"
	BookingStatusConfirmed        BookingStatus = "CONFIRMED"
	BookingStatusCancelled        BookingStatus = "CANCELLED"
)

// bookingTransitions lists the permitted target states per source state.
// PROVIDER_ACCEPTED → CONFIRMED is only taken when payment is disabled.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	BookingStatusPendingProvider:  {BookingStatusProviderAccepted, BookingStatusCancelled},
	BookingStatusProviderAccepted: {BookingStatusPaymentPending, BookingStatusConfirmed, BookingStatusCancelled},
	BookingStatusPaymentPending:   {BookingStatusConfirmed, BookingStatusCancelled},
}

// IsTerminal reports whether no further transition is possible.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingStatusConfirmed || s == BookingStatusCancelled
}

// CanTransition reports whether from → to is an edge of the booking state machine.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range bookingTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Booking struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ProviderID string    `json:"provider_id"`
	VehicleID  string    `json:"vehicle_id"`
	StartDate  time.Time `json:"start_date"`
	EndDate    time.Time `json:"end_date"` // exclusive
	// Price snapshot captured at creation; never recomputed from the live vehicle rate.
	DailyRate  int64         `json:"daily_rate"`
	Currency   string        `json:"currency"`
	TotalCost  int64         `json:"total_cost"`
	Status     BookingStatus `json:"status"`
	ContractID *string       `json:"contract_id,omitempty"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"` // deadline of the current waiting state
	Halted     bool          `json:"halted"`
	HaltReason string        `json:"halt_reason,omitempty"`
	CreatedOn  time.Time     `json:"created_on"`
	UpdatedOn  time.Time     `json:"updated_on"`
}

// Expired reports whether the booking sits in a waiting state past its deadline.
func (b *Booking) Expired(now time.Time) bool {
	if b.ExpiresAt == nil {
		return false
	}
	if b.Status != BookingStatusPendingProvider && b.Status != BookingStatusPaymentPending {
		return false
	}
	return !now.Before(*b.ExpiresAt)
}

// Transition is one audited status change, and doubles as the CAS request
// handed to the booking repository.
type Transition struct {
	ID        int64         `json:"id"`
	BookingID string        `json:"booking_id"`
	From      BookingStatus `json:"from"`
	To        BookingStatus `json:"to"`
	ActorID   string        `json:"actor_id"`
	ActorRole Role          `json:"actor_role"`
	Reason    string        `json:"reason,omitempty"`
	At        time.Time     `json:"at"`
	// Deadline replaces ExpiresAt when set; ClearDeadline drops it.
	Deadline      *time.Time `json:"-"`
	ClearDeadline bool       `json:"-"`
}
