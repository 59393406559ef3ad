package persistence

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// PostgresPromotionRepository implements domain.PromotionRepository with
// PostgreSQL.
type PostgresPromotionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPromotionRepository creates a new repository.
func NewPostgresPromotionRepository(pool *pgxpool.Pool) *PostgresPromotionRepository {
	return &PostgresPromotionRepository{pool: pool}
}

// FindByCode retrieves a promotion by code, or nil when absent.
func (r *PostgresPromotionRepository) FindByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	query := `
		SELECT id, code, discount_percentage, start_date, end_date, active, description
		FROM promotions
		WHERE code = $1`

	var promo domain.Promotion
	err := r.pool.QueryRow(ctx, query, code).Scan(
		&promo.ID, &promo.Code, &promo.DiscountPercentage,
		&promo.StartDate, &promo.EndDate, &promo.Active, &promo.Description,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &promo, nil
}
