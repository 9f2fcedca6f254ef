// config/security_config.go
package config

type SecurityLevel int

const (
	SecurityPublic SecurityLevel = iota // No authentication
	SecurityAccess                      // Access token required
	SecurityAdmin                       // Access token with the admin role
)

// EndpointSecurityConfig maps gRPC full methods and HTTP route names to their
// required security level.
var EndpointSecurityConfig = map[string]SecurityLevel{
	// gRPC ops surface - Public
	"/grpc.health.v1.Health/Check":                                   SecurityPublic,
	"/grpc.health.v1.Health/Watch":                                   SecurityPublic,
	"/grpc.health.v1.Health/List":                                    SecurityPublic,
	"/grpc.reflection.v1.ServerReflection/ServerReflectionInfo":      SecurityPublic,
	"/grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo": SecurityPublic,

	// HTTP - Public. The gateway authenticates with its HMAC signature.
	"payments.verify": SecurityPublic,
	"health":          SecurityPublic,

	// HTTP - Admin
	"admin.bookings.resume": SecurityAdmin,

	// HTTP - Access Protected
	"bookings.create":          SecurityAccess,
	"bookings.list":            SecurityAccess,
	"bookings.get":             SecurityAccess,
	"bookings.history":         SecurityAccess,
	"bookings.accept":          SecurityAccess,
	"bookings.decline":         SecurityAccess,
	"bookings.cancel":          SecurityAccess,
	"bookings.contract.get":    SecurityAccess,
	"bookings.contract.sign":   SecurityAccess,
	"bookings.contract.reject": SecurityAccess,
	"bookings.orders.create":   SecurityAccess,
	"bookings.orders.list":     SecurityAccess,
	"vehicles.availability":    SecurityAccess,
}

// GetSecurityLevel returns the security level for a given method
func GetSecurityLevel(method string) SecurityLevel {
	if level, exists := EndpointSecurityConfig[method]; exists {
		return level
	}
	// Default to access for unknown endpoints
	return SecurityAccess
}
