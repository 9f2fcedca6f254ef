package http

import (
	"net/http"

	"github.com/gorilla/mux"

	"wheelshare-backend/internal/security"
)

// NewRouter registers the /api/v1 routes. Route names key the security table.
func NewRouter(h *BookingHandler, tm security.TokenManager) *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet).Name("health")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(tm))

	api.HandleFunc("/bookings", h.CreateBooking).Methods(http.MethodPost).Name("bookings.create")
	api.HandleFunc("/bookings", h.ListBookings).Methods(http.MethodGet).Name("bookings.list")
	api.HandleFunc("/bookings/{id}", h.GetBooking).Methods(http.MethodGet).Name("bookings.get")
	api.HandleFunc("/bookings/{id}/history", h.History).Methods(http.MethodGet).Name("bookings.history")
	api.HandleFunc("/bookings/{id}/accept", h.Accept).Methods(http.MethodPost).Name("bookings.accept")
	api.HandleFunc("/bookings/{id}/decline", h.Decline).Methods(http.MethodPost).Name("bookings.decline")
	api.HandleFunc("/bookings/{id}/cancel", h.Cancel).Methods(http.MethodPost).Name("bookings.cancel")
	api.HandleFunc("/bookings/{id}/contract", h.GetContract).Methods(http.MethodGet).Name("bookings.contract.get")
	api.HandleFunc("/bookings/{id}/contract/sign", h.SignContract).Methods(http.MethodPost).Name("bookings.contract.sign")
	api.HandleFunc("/bookings/{id}/contract/reject", h.RejectContract).Methods(http.MethodPost).Name("bookings.contract.reject")
	api.HandleFunc("/bookings/{id}/payment-orders", h.CreatePaymentOrder).Methods(http.MethodPost).Name("bookings.orders.create")
	api.HandleFunc("/bookings/{id}/payment-orders", h.ListPaymentOrders).Methods(http.MethodGet).Name("bookings.orders.list")
	api.HandleFunc("/payments/verify", h.VerifyPayment).Methods(http.MethodPost).Name("payments.verify")
	api.HandleFunc("/vehicles/{id}/availability", h.Availability).Methods(http.MethodGet).Name("vehicles.availability")
	api.HandleFunc("/admin/bookings/{id}/resume", h.ResumeBooking).Methods(http.MethodPost).Name("admin.bookings.resume")

	return router
}
