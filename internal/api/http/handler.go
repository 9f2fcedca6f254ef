package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/security"
	"wheelshare-backend/internal/service"
	"wheelshare-backend/internal/utils"
)

const dateLayout = utils.DateLayout

// BookingHandler serves the booking, contract and payment routes.
type BookingHandler struct {
	bookings  service.BookingService
	contracts service.ContractService
	payments  service.PaymentService
	ledger    service.ReservationLedger
}

func NewBookingHandler(bookings service.BookingService, contracts service.ContractService, payments service.PaymentService, ledger service.ReservationLedger) *BookingHandler {
	return &BookingHandler{bookings: bookings, contracts: contracts, payments: payments, ledger: ledger}
}

type createBookingRequest struct {
	VehicleID string `json:"vehicle_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type verifyRequest struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"gateway_order_id"`
	GatewayPaymentID string `json:"gateway_payment_id"`
	Signature        string `json:"signature"`
}

type acceptResponse struct {
	Booking  *domain.Booking  `json:"booking"`
	Contract *domain.Contract `json:"contract"`
}

type signResponse struct {
	Booking      *domain.Booking      `json:"booking"`
	PaymentOrder *domain.PaymentOrder `json:"payment_order,omitempty"`
	Warning      string               `json:"warning,omitempty"`
}

type listResponse struct {
	Bookings []domain.Booking `json:"bookings"`
	Total    int32            `json:"total"`
	Page     int32            `json:"page"`
	PageSize int32            `json:"page_size"`
}

type availabilityResponse struct {
	VehicleID string `json:"vehicle_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Available bool   `json:"available"`
}

func principal(r *http.Request) domain.Principal {
	p, _ := security.PrincipalFromContext(r.Context())
	return p
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", domain.ErrValidation)
	}
	return nil
}

func parseDate(field, value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", domain.ErrValidation, field)
	}
	return t, nil
}

func (h *BookingHandler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		writeError(w, r, err)
		return
	}
	b, err := h.bookings.CreateBooking(r.Context(), principal(r), service.CreateBookingInput{
		VehicleID: req.VehicleID, StartDate: start, EndDate: end,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	list, total, err := h.bookings.ListBookings(r.Context(), principal(r), domain.BookingStatus(q.Get("status")), int32(page), int32(pageSize))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []domain.Booking{}
	}
	writeJSON(w, http.StatusOK, listResponse{Bookings: list, Total: total, Page: int32(page), PageSize: int32(pageSize)})
}

func (h *BookingHandler) GetBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.GetBooking(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) History(w http.ResponseWriter, r *http.Request) {
	history, err := h.bookings.History(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *BookingHandler) Accept(w http.ResponseWriter, r *http.Request) {
	b, c, err := h.bookings.AcceptBooking(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acceptResponse{Booking: b, Contract: c})
}

func (h *BookingHandler) Decline(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.bookings.DeclineBooking)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.bookings.CancelBooking)
}

func (h *BookingHandler) RejectContract(w http.ResponseWriter, r *http.Request) {
	h.withReason(w, r, h.bookings.RejectContract)
}

func (h *BookingHandler) withReason(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, p domain.Principal, id, reason string) (*domain.Booking, error)) {
	var req reasonRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	b, err := op(r.Context(), principal(r), mux.Vars(r)["id"], req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) GetContract(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.bookings.GetBooking(r.Context(), principal(r), id); err != nil {
		writeError(w, r, err)
		return
	}
	c, err := h.contracts.GetForBooking(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// SignContract answers 200 with a warning when the signature went through but
// the payment order could not be created; the client retries the order.
func (h *BookingHandler) SignContract(w http.ResponseWriter, r *http.Request) {
	b, order, err := h.bookings.SignContract(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil && b == nil {
		writeError(w, r, err)
		return
	}
	resp := signResponse{Booking: b, PaymentOrder: order}
	if err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) CreatePaymentOrder(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.GetBooking(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if b.ContractID == nil {
		writeError(w, r, domain.NewTransitionError("create payment order", b.Status))
		return
	}
	order, err := h.payments.CreateOrder(r.Context(), principal(r), *b.ContractID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *BookingHandler) ListPaymentOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.payments.ListOrders(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	if orders == nil {
		orders = []domain.PaymentOrder{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// VerifyPayment is the gateway callback. A rejection is a normal outcome and
// answers 200 with the user-facing reason.
func (h *BookingHandler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.payments.Verify(r.Context(), service.VerifyRequest{
		OrderID:          req.OrderID,
		GatewayOrderID:   req.GatewayOrderID,
		GatewayPaymentID: req.GatewayPaymentID,
		Signature:        req.Signature,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := parseDate("start", q.Get("start"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	end, err := parseDate("end", q.Get("end"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	vehicleID := mux.Vars(r)["id"]
	ok, err := h.ledger.IsAvailable(r.Context(), vehicleID, start, end)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, availabilityResponse{
		VehicleID: vehicleID, StartDate: start.Format(dateLayout), EndDate: end.Format(dateLayout), Available: ok,
	})
}

func (h *BookingHandler) ResumeBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.bookings.ResumeBooking(r.Context(), principal(r), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}
