package domain

import "time"

type PaymentOrderStatus string

const (
	PaymentOrderStatusCreated  PaymentOrderStatus = "CREATED"
	PaymentOrderStatusVerified PaymentOrderStatus = "VERIFIED"
	PaymentOrderStatusFailed   PaymentOrderStatus = "FAILED"
)

type PaymentOrder struct {
	ID               string             `json:"id"`
	ContractID       string             `json:"contract_id"`
	BookingID        string             `json:"booking_id"`
	GatewayOrderID   string             `json:"gateway_order_id"`
	GatewayPaymentID string             `json:"gateway_payment_id,omitempty"`
	Amount           int64              `json:"amount"`
	Currency         string             `json:"currency"`
	Status           PaymentOrderStatus `json:"status"`
	FailureReason    string             `json:"failure_reason,omitempty"`
	CreatedOn        time.Time          `json:"created_on"`
	UpdatedOn        time.Time          `json:"updated_on"`
}

type VerifyOutcome string

const (
	VerifyOutcomeVerified VerifyOutcome = "VERIFIED"
	VerifyOutcomeRejected VerifyOutcome = "REJECTED"
)

// VerifyResult is returned for every gateway callback; a rejection is a value, not an error.
type VerifyResult struct {
	Outcome VerifyOutcome `json:"outcome"`
	OrderID string        `json:"order_id"`
	Reason  string        `json:"reason,omitempty"`
}

func (r VerifyResult) Verified() bool {
	return r.Outcome == VerifyOutcomeVerified
}
