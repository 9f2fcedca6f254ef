package domain

type VehicleStatus string

const (
	VehicleStatusAvailable   VehicleStatus = "AVAILABLE"
	VehicleStatusRented      VehicleStatus = "RENTED"
	VehicleStatusMaintenance VehicleStatus = "MAINTENANCE"
)

// Vehicle is the catalog view consumed at booking creation. Status is a display
// summary only; availability is answered by the reservation ledger.
type Vehicle struct {
	ID                 string        `json:"id"`
	ProviderID         string        `json:"provider_id"`
	Title              string        `json:"title"`
	RegistrationNumber string        `json:"registration_number"`
	DailyRate          int64         `json:"daily_rate"` // minor currency units
	Currency           string        `json:"currency"`
	Status             VehicleStatus `json:"status"`
}
