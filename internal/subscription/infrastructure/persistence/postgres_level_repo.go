package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// PostgresLevelRepository implements domain.LevelRepository with PostgreSQL.
type PostgresLevelRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresLevelRepository creates a new repository.
func NewPostgresLevelRepository(pool *pgxpool.Pool) *PostgresLevelRepository {
	return &PostgresLevelRepository{pool: pool}
}

const levelColumns = `id, tier, price, currency, frequency, features, provider_price_id`

// FindByID retrieves a level by id, or nil when absent.
func (r *PostgresLevelRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels WHERE id = $1`
	return r.findOne(ctx, query, id)
}

// FindByTier retrieves a level by plan tier, or nil when absent.
func (r *PostgresLevelRepository) FindByTier(ctx context.Context, tier domain.Tier) (*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels WHERE tier = $1`
	return r.findOne(ctx, query, string(tier))
}

// List returns all levels ordered by price.
func (r *PostgresLevelRepository) List(ctx context.Context) ([]*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels ORDER BY price`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list levels: %w", err)
	}
	defer rows.Close()

	levels := make([]*domain.Level, 0)
	for rows.Next() {
		level, err := scanLevel(rows)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return levels, rows.Err()
}

func (r *PostgresLevelRepository) findOne(ctx context.Context, query string, arg any) (*domain.Level, error) {
	level, err := scanLevel(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return level, nil
}

func scanLevel(row rowScanner) (*domain.Level, error) {
	var level domain.Level
	var tier, frequency string
	err := row.Scan(
		&level.ID, &tier, &level.Price, &level.Currency,
		&frequency, &level.Features, &level.PriceID,
	)
	if err != nil {
		return nil, err
	}
	level.Tier = domain.Tier(tier)
	level.Frequency = domain.BillingFrequency(frequency)
	return &level, nil
}
