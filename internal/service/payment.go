package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
)

const rejectedMessage = "payment could not be verified, please contact support"

type paymentOrchestrator struct {
	*lifecycle
	gateway PaymentGateway
}

func NewPaymentService(repos Repositories, ledger ReservationLedger, contracts ContractService, gateway PaymentGateway, opts ...Option) PaymentService {
	o := buildOptions(opts)
	return &paymentOrchestrator{
		lifecycle: &lifecycle{
			repos:     repos,
			ledger:    ledger,
			contracts: contracts,
			outbox:    newOutbox(repos.Outbox, o.now),
			now:       o.now,
		},
		gateway: gateway,
	}
}

func (s *paymentOrchestrator) CreateOrder(ctx context.Context, p domain.Principal, contractID string) (*domain.PaymentOrder, error) {
	c, err := s.repos.Contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	b, err := s.repos.Bookings.GetByID(ctx, c.BookingID)
	if err != nil {
		return nil, err
	}
	if p.Role != domain.RoleSystem && p.ID != b.CustomerID {
		return nil, fmt.Errorf("%w: only the booking's customer can pay", domain.ErrForbidden)
	}
	return s.createOrder(ctx, b, c)
}

// createOrder charges the booking's snapshot total. The amount is never taken
// from the caller or recomputed from the vehicle's current rate.
func (s *paymentOrchestrator) createOrder(ctx context.Context, b *domain.Booking, c *domain.Contract) (*domain.PaymentOrder, error) {
	if b.Halted {
		return nil, fmt.Errorf("create order for booking %s: %w", b.ID, domain.ErrBookingHalted)
	}
	if b.Status != domain.BookingStatusPaymentPending {
		return nil, domain.NewTransitionError("create payment order", b.Status)
	}

	logger.ExternalServiceCall("payment-gateway", "CreateOrder", "booking_id", b.ID, "amount", b.TotalCost)
	gatewayOrderID, err := s.gateway.CreateOrder(ctx, b.TotalCost, b.Currency, b.ID)
	logger.ExternalServiceResult("payment-gateway", "CreateOrder", err, "booking_id", b.ID)
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}

	now := s.now()
	order := &domain.PaymentOrder{
		ID:             uuid.NewString(),
		ContractID:     c.ID,
		BookingID:      b.ID,
		GatewayOrderID: gatewayOrderID,
		Amount:         b.TotalCost,
		Currency:       b.Currency,
		Status:         domain.PaymentOrderStatusCreated,
		CreatedOn:      now,
		UpdatedOn:      now,
	}
	if err := s.repos.Orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("store payment order: %w", err)
	}
	logger.InfoContext(ctx, "Payment order created", "order_id", order.ID, "booking_id", b.ID, "gateway_order_id", gatewayOrderID)
	return order, nil
}

// Verify handles a gateway callback. Gateway input is untrusted: every
// mismatch is reported as a Rejected result, never as an error. Errors are
// returned only for storage failures and halted bookings.
func (s *paymentOrchestrator) Verify(ctx context.Context, req VerifyRequest) (domain.VerifyResult, error) {
	reject := func(reason string) (domain.VerifyResult, error) {
		logger.WarnContext(ctx, "Payment verification rejected", "order_id", req.OrderID, "reason", reason)
		return domain.VerifyResult{Outcome: domain.VerifyOutcomeRejected, OrderID: req.OrderID, Reason: rejectedMessage}, nil
	}
	verified := domain.VerifyResult{Outcome: domain.VerifyOutcomeVerified, OrderID: req.OrderID}

	order, err := s.repos.Orders.GetByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return reject("unknown order")
		}
		return domain.VerifyResult{}, err
	}
	if !s.gateway.VerifySignature(req.GatewayOrderID, req.GatewayPaymentID, req.Signature) {
		return reject("signature mismatch")
	}
	if req.GatewayOrderID != order.GatewayOrderID {
		return reject("gateway order id does not match order")
	}

	switch order.Status {
	case domain.PaymentOrderStatusVerified:
		if order.GatewayPaymentID != req.GatewayPaymentID {
			return reject("order already verified with a different payment")
		}
		// A retried callback finishes whatever the first one left undone.
		return s.settleVerified(ctx, order, reject, verified)
	case domain.PaymentOrderStatusFailed:
		return reject("order already failed")
	}

	b, err := s.repos.Bookings.GetByID(ctx, order.BookingID)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	if b.Halted {
		return domain.VerifyResult{}, fmt.Errorf("verify order %s: %w", order.ID, domain.ErrBookingHalted)
	}
	if b.Status != domain.BookingStatusPaymentPending {
		// A duplicate callback may have confirmed the booking since the order was read.
		if s.alreadyVerified(ctx, order.ID, req.GatewayPaymentID) {
			return verified, nil
		}
		s.refundPaid(ctx, b, order.ID, fmt.Sprintf("booking %s is %s", b.ID, b.Status), domain.PaymentOrderStatusCreated)
		return reject("booking not awaiting payment")
	}

	ok, err := s.repos.Orders.MarkVerified(ctx, order.ID, req.GatewayPaymentID, s.now())
	if err != nil {
		return domain.VerifyResult{}, err
	}
	if !ok {
		if s.alreadyVerified(ctx, order.ID, req.GatewayPaymentID) {
			return verified, nil
		}
		return reject("order no longer open")
	}
	order.Status = domain.PaymentOrderStatusVerified
	order.GatewayPaymentID = req.GatewayPaymentID

	confirmed, err := s.confirmPaid(ctx, b, order)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	if !confirmed {
		return reject("booking changed during verification")
	}
	logger.InfoContext(ctx, "Payment verified", "order_id", order.ID, "booking_id", b.ID)
	return verified, nil
}

// settleVerified brings the booking of an already VERIFIED order in line with
// it: confirm if still awaiting payment, refund if it was cancelled meanwhile.
func (s *paymentOrchestrator) settleVerified(ctx context.Context, order *domain.PaymentOrder,
	reject func(string) (domain.VerifyResult, error), verified domain.VerifyResult) (domain.VerifyResult, error) {
	b, err := s.repos.Bookings.GetByID(ctx, order.BookingID)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	switch b.Status {
	case domain.BookingStatusConfirmed:
		return verified, nil
	case domain.BookingStatusPaymentPending:
		if b.Halted {
			return domain.VerifyResult{}, fmt.Errorf("verify order %s: %w", order.ID, domain.ErrBookingHalted)
		}
		logger.WarnContext(ctx, "Completing confirmation of verified order", "order_id", order.ID, "booking_id", b.ID)
		confirmed, err := s.confirmPaid(ctx, b, order)
		if err != nil {
			return domain.VerifyResult{}, err
		}
		if !confirmed {
			return reject("booking changed during verification")
		}
		return verified, nil
	}
	s.refundPaid(ctx, b, order.ID, fmt.Sprintf("booking %s is %s", b.ID, b.Status), domain.PaymentOrderStatusVerified)
	return reject("booking not awaiting payment")
}

func (s *paymentOrchestrator) ListOrders(ctx context.Context, p domain.Principal, bookingID string) ([]domain.PaymentOrder, error) {
	b, err := s.repos.Bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !canView(p, b) {
		return nil, fmt.Errorf("%w: not a party to booking %s", domain.ErrForbidden, bookingID)
	}
	return s.repos.Orders.ListByBooking(ctx, bookingID)
}

func (s *paymentOrchestrator) alreadyVerified(ctx context.Context, orderID, gatewayPaymentID string) bool {
	latest, err := s.repos.Orders.GetByID(ctx, orderID)
	if err != nil {
		logger.WarnContext(ctx, "Failed to reload payment order", "order_id", orderID, "error", err)
		return false
	}
	return latest.Status == domain.PaymentOrderStatusVerified && latest.GatewayPaymentID == gatewayPaymentID
}

func canView(p domain.Principal, b *domain.Booking) bool {
	switch p.Role {
	case domain.RoleAdmin, domain.RoleSystem:
		return true
	case domain.RoleCustomer:
		return p.ID == b.CustomerID
	case domain.RoleProvider:
		return p.ID == b.ProviderID
	}
	return false
}
