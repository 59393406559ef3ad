package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// SQLiteLevelRepository implements domain.LevelRepository with SQLite for
// local mode.
type SQLiteLevelRepository struct {
	db *sql.DB
}

// NewSQLiteLevelRepository creates a new repository.
func NewSQLiteLevelRepository(db *sql.DB) *SQLiteLevelRepository {
	return &SQLiteLevelRepository{db: db}
}

func (r *SQLiteLevelRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels WHERE id = $1`
	return r.findOne(ctx, query, id.String())
}

func (r *SQLiteLevelRepository) FindByTier(ctx context.Context, tier domain.Tier) (*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels WHERE tier = $1`
	return r.findOne(ctx, query, string(tier))
}

func (r *SQLiteLevelRepository) List(ctx context.Context) ([]*domain.Level, error) {
	query := `SELECT ` + levelColumns + ` FROM subscription_levels ORDER BY price`

	rows, err := r.db.QueryContext(ctx, query)
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

func (r *SQLiteLevelRepository) findOne(ctx context.Context, query string, arg any) (*domain.Level, error) {
	level, err := scanLevel(r.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return level, nil
}

// SQLitePromotionRepository implements domain.PromotionRepository with SQLite.
type SQLitePromotionRepository struct {
	db *sql.DB
}

// NewSQLitePromotionRepository creates a new repository.
func NewSQLitePromotionRepository(db *sql.DB) *SQLitePromotionRepository {
	return &SQLitePromotionRepository{db: db}
}

func (r *SQLitePromotionRepository) FindByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	query := `
		SELECT id, code, discount_percentage, start_date, end_date, active, description
		FROM promotions
		WHERE code = $1`

	var promo domain.Promotion
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&promo.ID, &promo.Code, &promo.DiscountPercentage,
		&promo.StartDate, &promo.EndDate, &promo.Active, &promo.Description,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &promo, nil
}

// SQLitePaymentRepository implements domain.PaymentRepository with SQLite.
// Payment rows are append-only.
type SQLitePaymentRepository struct {
	db *sql.DB
}

// NewSQLitePaymentRepository creates a new repository.
func NewSQLitePaymentRepository(db *sql.DB) *SQLitePaymentRepository {
	return &SQLitePaymentRepository{db: db}
}

func (r *SQLitePaymentRepository) Append(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, subscription_id, paid_at, amount, currency,
			provider_payment_id, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID.String(), payment.SubscriptionID.String(), payment.PaidAt,
		payment.Amount, payment.Currency,
		payment.ProviderPaymentID, string(payment.Status), payment.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

func (r *SQLitePaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Payment, error) {
	query := `
		SELECT id, subscription_id, paid_at, amount, currency,
		       provider_payment_id, status, error_message
		FROM payments
		WHERE subscription_id = $1
		ORDER BY paid_at DESC`

	rows, err := r.db.QueryContext(ctx, query, subscriptionID.String())
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]*domain.Payment, 0)
	for rows.Next() {
		var p domain.Payment
		var status string
		err := rows.Scan(
			&p.ID, &p.SubscriptionID, &p.PaidAt, &p.Amount, &p.Currency,
			&p.ProviderPaymentID, &status, &p.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		p.Status = domain.PaymentStatus(status)
		payments = append(payments, &p)
	}
	return payments, rows.Err()
}

// SQLiteSweepStateRepository implements domain.SweepStateRepository with
// SQLite. One row per sweep name.
type SQLiteSweepStateRepository struct {
	db *sql.DB
}

// NewSQLiteSweepStateRepository creates a new repository.
func NewSQLiteSweepStateRepository(db *sql.DB) *SQLiteSweepStateRepository {
	return &SQLiteSweepStateRepository{db: db}
}

func (r *SQLiteSweepStateRepository) Get(ctx context.Context, name string) (*domain.SweepState, error) {
	query := `
		SELECT name, last_run_at, processed, failed, last_error
		FROM sweep_states
		WHERE name = $1`

	var state domain.SweepState
	err := r.db.QueryRowContext(ctx, query, name).Scan(
		&state.Name, &state.LastRunAt, &state.Processed, &state.Failed, &state.LastError,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &state, nil
}

func (r *SQLiteSweepStateRepository) Record(ctx context.Context, state *domain.SweepState) error {
	query := `
		INSERT INTO sweep_states (name, last_run_at, processed, failed, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			last_run_at = excluded.last_run_at,
			processed = excluded.processed,
			failed = excluded.failed,
			last_error = excluded.last_error`

	_, err := r.db.ExecContext(ctx, query,
		state.Name, state.LastRunAt, state.Processed, state.Failed, state.LastError,
	)
	if err != nil {
		return fmt.Errorf("record sweep state: %w", err)
	}
	return nil
}
