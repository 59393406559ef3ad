package persistence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// PostgresPaymentRepository implements domain.PaymentRepository with
// PostgreSQL. Payment rows are append-only.
type PostgresPaymentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPaymentRepository creates a new repository.
func NewPostgresPaymentRepository(pool *pgxpool.Pool) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{pool: pool}
}

// Append inserts a payment record.
func (r *PostgresPaymentRepository) Append(ctx context.Context, payment *domain.Payment) error {
	query := `
		INSERT INTO payments (
			id, subscription_id, paid_at, amount, currency,
			provider_payment_id, status, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.pool.Exec(ctx, query,
		payment.ID, payment.SubscriptionID, payment.PaidAt,
		payment.Amount, payment.Currency,
		payment.ProviderPaymentID, string(payment.Status), payment.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("append payment: %w", err)
	}
	return nil
}

// ListBySubscription returns a subscription's payments, newest first.
func (r *PostgresPaymentRepository) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Payment, error) {
	query := `
		SELECT id, subscription_id, paid_at, amount, currency,
		       provider_payment_id, status, error_message
		FROM payments
		WHERE subscription_id = $1
		ORDER BY paid_at DESC`

	rows, err := r.pool.Query(ctx, query, subscriptionID)
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
