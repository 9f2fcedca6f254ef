package postgres

import (
	"context"
	"database/sql"

	"wheelshare-backend/internal/domain"
	"wheelshare-backend/internal/repository"
)

type vehicleRepository struct {
	db *sql.DB
}

func NewVehicleRepository(db *sql.DB) repository.VehicleRepository {
	return &vehicleRepository{db: db}
}

func (r *vehicleRepository) GetByID(ctx context.Context, id string) (*domain.Vehicle, error) {
	v := &domain.Vehicle{}
	query := `SELECT id, provider_id, title, registration_number, daily_rate, currency, status FROM vehicles WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&v.ID, &v.ProviderID, &v.Title, &v.RegistrationNumber, &v.DailyRate, &v.Currency, &v.Status)
	if err != nil {
		return nil, notFound(err, "vehicle", id)
	}
	return v, nil
}
