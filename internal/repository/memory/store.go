// Package memory implements the repositories in process memory. It backs the
// "memory" store type for local runs and the service tests, and keeps the same
// CAS and per-vehicle serialization semantics as the postgres store.
package memory

import (
	"sync"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

type Store struct {
	mu sync.Mutex

	vehicles    map[string]domain.Vehicle
	windows     map[string]*domain.ReservationWindow // by window id
	bookings    map[string]*domain.Booking
	transitions map[string][]domain.Transition
	contracts   map[string]*domain.Contract
	orders      map[string]*domain.PaymentOrder
	events      []*domain.Event
	nextTransID int64

	vehicleLocks sync.Map // vehicle id → *sync.Mutex

	Vehicles     repository.VehicleRepository
	Reservations repository.ReservationRepository
	Bookings     repository.BookingRepository
	Contracts    repository.ContractRepository
	Orders       repository.PaymentOrderRepository
	Outbox       repository.OutboxRepository
}

func NewStore() *Store {
	s := &Store{
		vehicles:    make(map[string]domain.Vehicle),
		windows:     make(map[string]*domain.ReservationWindow),
		bookings:    make(map[string]*domain.Booking),
		transitions: make(map[string][]domain.Transition),
		contracts:   make(map[string]*domain.Contract),
		orders:      make(map[string]*domain.PaymentOrder),
	}
	s.Vehicles = &vehicleRepository{s: s}
	s.Reservations = &reservationRepository{s: s}
	s.Bookings = &bookingRepository{s: s}
	s.Contracts = &contractRepository{s: s}
	s.Orders = &paymentOrderRepository{s: s}
	s.Outbox = &outboxRepository{s: s}
	return s
}

// PutVehicle adds or replaces a catalog entry. Catalog CRUD lives outside this
// service; this is how local runs and tests seed it.
func (s *Store) PutVehicle(v domain.Vehicle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vehicles[v.ID] = v
}

func (s *Store) vehicleLock(vehicleID string) *sync.Mutex {
	l, _ := s.vehicleLocks.LoadOrStore(vehicleID, &sync.Mutex{})
	return l.(*sync.Mutex)
}

func clonePtr[T any](v *T) *T {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
