package domain

import "time"

// ContractTerms is the immutable snapshot taken when the contract is issued.
type ContractTerms struct {
	VehicleID          string    `json:"vehicle_id"`
	VehicleTitle       string    `json:"vehicle_title"`
	RegistrationNumber string    `json:"registration_number"`
	ProviderID         string    `json:"provider_id"`
	CustomerID         string    `json:"customer_id"`
	StartDate          time.Time `json:"start_date"`
	EndDate            time.Time `json:"end_date"`
	Days               int64     `json:"days"`
	DailyRate          int64     `json:"daily_rate"`
	TotalCost          int64     `json:"total_cost"`
	Currency           string    `json:"currency"`
}

// Contract keeps acceptance and signature as separate fields even though
// provider acceptance sets ProviderSignedAt in the same call.
type Contract struct {
	ID               string        `json:"id"`
	BookingID        string        `json:"booking_id"`
	Terms            ContractTerms `json:"terms"`
	ProviderSignedAt *time.Time    `json:"provider_signed_at,omitempty"`
	CustomerSignedAt *time.Time    `json:"customer_signed_at,omitempty"`
	RejectedAt       *time.Time    `json:"rejected_at,omitempty"`
	RejectedBy       Role          `json:"rejected_by,omitempty"`
	CreatedOn        time.Time     `json:"created_on"`
}

// FullySigned reports whether both parties have signed; the contract is then append-only.
func (c *Contract) FullySigned() bool {
	return c.ProviderSignedAt != nil && c.CustomerSignedAt != nil
}
