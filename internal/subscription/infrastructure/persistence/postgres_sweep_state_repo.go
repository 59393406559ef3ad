package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// PostgresSweepStateRepository implements domain.SweepStateRepository with
// PostgreSQL. One row per sweep name.
type PostgresSweepStateRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSweepStateRepository creates a new repository.
func NewPostgresSweepStateRepository(pool *pgxpool.Pool) *PostgresSweepStateRepository {
	return &PostgresSweepStateRepository{pool: pool}
}

// Get retrieves the last recorded run of a sweep, or nil when it never ran.
func (r *PostgresSweepStateRepository) Get(ctx context.Context, name string) (*domain.SweepState, error) {
	query := `
		SELECT name, last_run_at, processed, failed, last_error
		FROM sweep_states
		WHERE name = $1`

	var state domain.SweepState
	err := r.pool.QueryRow(ctx, query, name).Scan(
		&state.Name, &state.LastRunAt, &state.Processed, &state.Failed, &state.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

// Record upserts a sweep run record.
func (r *PostgresSweepStateRepository) Record(ctx context.Context, state *domain.SweepState) error {
	query := `
		INSERT INTO sweep_states (name, last_run_at, processed, failed, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = EXCLUDED.last_run_at,
			processed = EXCLUDED.processed,
			failed = EXCLUDED.failed,
			last_error = EXCLUDED.last_error`

	_, err := r.pool.Exec(ctx, query,
		state.Name, state.LastRunAt, state.Processed, state.Failed, state.LastError,
	)
	if err != nil {
		return fmt.Errorf("record sweep state: %w", err)
	}
	return nil
}
