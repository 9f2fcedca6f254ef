package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/logger"
	"wheelshare-backend/internal/repository"
	"wheelshare-backend/internal/utils"
)

type contractManager struct {
	contracts repository.ContractRepository
	vehicles  repository.VehicleRepository
	bookings  repository.BookingRepository
	now       func() time.Time
}

func NewContractService(repos Repositories, opts ...Option) ContractService {
	o := buildOptions(opts)
	return &contractManager{
		contracts: repos.Contracts,
		vehicles:  repos.Vehicles,
		bookings:  repos.Bookings,
		now:       o.now,
	}
}

// Issue snapshots the rental terms and records the provider's signature.
// Issuing twice for the same booking returns the first contract with
// created=false.
func (m *contractManager) Issue(ctx context.Context, b *domain.Booking) (*domain.Contract, bool, error) {
	if existing, err := m.contracts.GetByBooking(ctx, b.ID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}

	v, err := m.vehicles.GetByID(ctx, b.VehicleID)
	if err != nil {
		return nil, false, fmt.Errorf("load vehicle for contract: %w", err)
	}
	days, err := utils.RentalDays(b.StartDate, b.EndDate)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	now := m.now()
	c := &domain.Contract{
		ID:        uuid.NewString(),
		BookingID: b.ID,
		Terms: domain.ContractTerms{
			VehicleID:          v.ID,
			VehicleTitle:       v.Title,
			RegistrationNumber: v.RegistrationNumber,
			ProviderID:         b.ProviderID,
			CustomerID:         b.CustomerID,
			StartDate:          b.StartDate,
			EndDate:            b.EndDate,
			Days:               days,
			DailyRate:          b.DailyRate,
			TotalCost:          b.TotalCost,
			Currency:           b.Currency,
		},
		ProviderSignedAt: &now,
		CreatedOn:        now,
	}
	stored, created, err := m.contracts.Create(ctx, c)
	if err != nil {
		return nil, false, fmt.Errorf("create contract: %w", err)
	}
	if err := m.bookings.SetContractID(ctx, b.ID, stored.ID); err != nil {
		return nil, false, fmt.Errorf("link contract to booking: %w", err)
	}
	if created {
		logger.InfoContext(ctx, "Contract issued", "contract_id", stored.ID, "booking_id", b.ID)
	}
	return stored, created, nil
}

func (m *contractManager) Sign(ctx context.Context, contractID string, role domain.Role) (*domain.Contract, error) {
	if role != domain.RoleCustomer {
		return nil, fmt.Errorf("%w: only the customer signs after issuance", domain.ErrForbidden)
	}
	c, err := m.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := signable(c); err != nil {
		return nil, err
	}

	ok, err := m.contracts.SignCustomer(ctx, contractID, m.now())
	if err != nil {
		return nil, fmt.Errorf("sign contract: %w", err)
	}
	if !ok {
		// Lost a race with another sign or a reject.
		latest, err := m.contracts.GetByID(ctx, contractID)
		if err != nil {
			return nil, err
		}
		if err := signable(latest); err != nil {
			return nil, err
		}
		return nil, domain.ErrStaleState
	}
	return m.contracts.GetByID(ctx, contractID)
}

// Reject is allowed to either party until the customer has signed; after that
// the booking is past the point where rejection means anything.
func (m *contractManager) Reject(ctx context.Context, contractID string, role domain.Role) (*domain.Contract, error) {
	c, err := m.contracts.GetByID(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := rejectable(c); err != nil {
		return nil, err
	}
	ok, err := m.contracts.Reject(ctx, contractID, role, m.now())
	if err != nil {
		return nil, fmt.Errorf("reject contract: %w", err)
	}
	if !ok {
		return nil, domain.ErrStaleState
	}
	return m.contracts.GetByID(ctx, contractID)
}

func (m *contractManager) GetForBooking(ctx context.Context, bookingID string) (*domain.Contract, error) {
	return m.contracts.GetByBooking(ctx, bookingID)
}

func signable(c *domain.Contract) error {
	switch {
	case c.RejectedAt != nil:
		return fmt.Errorf("%w: contract %s was rejected", domain.ErrConflict, c.ID)
	case c.CustomerSignedAt != nil:
		return domain.ErrAlreadySigned
	case c.ProviderSignedAt == nil:
		return fmt.Errorf("%w: provider has not signed contract %s", domain.ErrValidation, c.ID)
	}
	return nil
}

func rejectable(c *domain.Contract) error {
	switch {
	case c.RejectedAt != nil:
		return fmt.Errorf("%w: contract %s already rejected", domain.ErrConflict, c.ID)
	case c.CustomerSignedAt != nil:
		return domain.ErrAlreadySigned
	}
	return nil
}
