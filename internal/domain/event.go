package domain

import "time"

type EventType string

const (
	EventBookingCreated   EventType = "BookingCreated"
	EventBookingAccepted  EventType = "BookingAccepted"
	EventBookingDeclined  EventType = "BookingDeclined"
	EventContractIssued   EventType = "ContractIssued"
	EventContractSigned   EventType = "ContractSigned"
	EventContractRejected EventType = "ContractRejected"
	EventPaymentVerified  EventType = "PaymentVerified"
	EventBookingConfirmed EventType = "BookingConfirmed"
	EventBookingCancelled EventType = "BookingCancelled"
)

// Event is an outbox row consumed by the notification, email and UI subsystems.
type Event struct {
	ID          string            `json:"id"`
	Type        EventType         `json:"type"`
	BookingID   string            `json:"booking_id"`
	PriorState  BookingStatus     `json:"prior_state"`
	NewState    BookingStatus     `json:"new_state"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
}
