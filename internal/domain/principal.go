package domain

type Role string

const (
	RoleCustomer Role = "customer"
	RoleProvider Role = "provider"
	RoleAdmin    Role = "admin"
	RoleSystem   Role = "system"
)

// Principal is the authenticated caller handed to every core operation.
type Principal struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemPrincipal is the actor recorded for sweeps and gateway-driven transitions.
var SystemPrincipal = Principal{ID: "system", Role: RoleSystem}
