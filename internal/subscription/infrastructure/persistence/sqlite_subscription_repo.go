package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// SQLiteSubscriptionRepository implements domain.Repository with SQLite for
// local single-process deployments. SQLite accepts the $N placeholders the
// shared queries use, so the read side is identical to the PostgreSQL
// repository.
type SQLiteSubscriptionRepository struct {
	db *sql.DB
}

// NewSQLiteSubscriptionRepository creates a new repository.
func NewSQLiteSubscriptionRepository(db *sql.DB) *SQLiteSubscriptionRepository {
	return &SQLiteSubscriptionRepository{db: db}
}

// Save upserts a subscription row.
func (r *SQLiteSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			id, user_id, level_id, promotion_id, status, start_date, end_date,
			trial_start_date, trial_end_date,
			next_billing_date, next_renewal_date, next_retry_date,
			auto_renew, cancelled_at, last_activity,
			customer_id, provider_subscription_id, provider_charge_id, price_id,
			last_payment_error, retry_count, refund_date, refund_amount,
			price, currency, version, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28
		)
		ON CONFLICT (id) DO UPDATE SET
			level_id = excluded.level_id,
			promotion_id = excluded.promotion_id,
			status = excluded.status,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			trial_start_date = excluded.trial_start_date,
			trial_end_date = excluded.trial_end_date,
			next_billing_date = excluded.next_billing_date,
			next_renewal_date = excluded.next_renewal_date,
			next_retry_date = excluded.next_retry_date,
			auto_renew = excluded.auto_renew,
			cancelled_at = excluded.cancelled_at,
			last_activity = excluded.last_activity,
			customer_id = excluded.customer_id,
			provider_subscription_id = excluded.provider_subscription_id,
			provider_charge_id = excluded.provider_charge_id,
			price_id = excluded.price_id,
			last_payment_error = excluded.last_payment_error,
			retry_count = excluded.retry_count,
			refund_date = excluded.refund_date,
			refund_amount = excluded.refund_amount,
			price = excluded.price,
			currency = excluded.currency,
			version = subscriptions.version + 1,
			updated_at = excluded.updated_at
	`

	var levelID, promotionID *string
	if level := sub.Level(); level != nil {
		s := level.ID.String()
		levelID = &s
	}
	if promo := sub.Promotion(); promo != nil {
		s := promo.ID.String()
		promotionID = &s
	}

	_, err := r.db.ExecContext(ctx, query,
		sub.ID().String(), sub.UserID().String(), levelID, promotionID, string(sub.Status()),
		sub.StartDate(), sub.EndDate(),
		sub.TrialStartDate(), sub.TrialEndDate(),
		sub.NextBillingDate(), sub.NextRenewalDate(), sub.NextRetryDate(),
		sub.AutoRenew(), sub.CancelledAt(), sub.LastActivity(),
		sub.CustomerID(), sub.StripeSubscriptionID(), sub.StripeChargeID(), sub.PriceID(),
		sub.LastPaymentError(), sub.RetryCount(), sub.RefundDate(), sub.RefundAmount(),
		sub.Price(), sub.Currency(), sub.Version(), sub.CreatedAt(), sub.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription row.
func (r *SQLiteSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = $1`, id.String())
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// FindByID retrieves a subscription by id, or nil when absent.
func (r *SQLiteSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + ` WHERE s.id = $1`

	sub, err := scanSubscription(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// FindByUserID retrieves all subscriptions owned by the user.
func (r *SQLiteSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC`
	return r.query(ctx, query, userID.String())
}

// FindDueForRenewal returns active auto-renewing subscriptions due for
// billing.
func (r *SQLiteSubscriptionRepository) FindDueForRenewal(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.auto_renew
		  AND s.next_billing_date IS NOT NULL
		  AND s.next_billing_date <= $1
		ORDER BY s.next_billing_date
		LIMIT $2`
	return r.query(ctx, query, due, limit)
}

// FindDueForRetry returns payment-failed subscriptions whose retry is due.
func (r *SQLiteSubscriptionRepository) FindDueForRetry(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'PAYMENT_FAILED'
		  AND s.next_retry_date IS NOT NULL
		  AND s.next_retry_date <= $1
		ORDER BY s.next_retry_date
		LIMIT $2`
	return r.query(ctx, query, due, limit)
}

// FindTrialsEnding returns trials whose window ends inside [from, to).
func (r *SQLiteSubscriptionRepository) FindTrialsEnding(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'TRIAL'
		  AND s.trial_end_date >= $1
		  AND s.trial_end_date < $2
		ORDER BY s.trial_end_date
		LIMIT $3`
	return r.query(ctx, query, from, to, limit)
}

// FindTrialsEndedBefore returns trials whose window already closed.
func (r *SQLiteSubscriptionRepository) FindTrialsEndedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'TRIAL'
		  AND s.trial_end_date < $1
		ORDER BY s.trial_end_date
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindExpiring returns active subscriptions ending inside [from, to).
func (r *SQLiteSubscriptionRepository) FindExpiring(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.end_date >= $1
		  AND s.end_date < $2
		ORDER BY s.end_date
		LIMIT $3`
	return r.query(ctx, query, from, to, limit)
}

// FindExpiredBefore returns active subscriptions whose end date passed.
func (r *SQLiteSubscriptionRepository) FindExpiredBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.end_date < $1
		ORDER BY s.end_date
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindCancelledBefore returns cancellations older than the given instant.
func (r *SQLiteSubscriptionRepository) FindCancelledBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'CANCELLED'
		  AND s.cancelled_at < $1
		ORDER BY s.cancelled_at
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindArchivedInactiveBefore returns archived subscriptions with no activity
// since the given instant.
func (r *SQLiteSubscriptionRepository) FindArchivedInactiveBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ARCHIVED'
		  AND s.last_activity < $1
		ORDER BY s.last_activity
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindActiveOverlapping returns active subscriptions overlapping [from, to].
func (r *SQLiteSubscriptionRepository) FindActiveOverlapping(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.start_date <= $2
		  AND (s.end_date IS NULL OR s.end_date >= $1)`
	return r.query(ctx, query, from, to)
}

// CountByStatus counts subscriptions in the given status.
func (r *SQLiteSubscriptionRepository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = $1`, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

// CountCreatedBetween counts subscriptions created inside [from, to).
func (r *SQLiteSubscriptionRepository) CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE created_at >= $1 AND created_at < $2`, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count created between: %w", err)
	}
	return n, nil
}

// CountByTier counts active subscriptions per plan tier.
func (r *SQLiteSubscriptionRepository) CountByTier(ctx context.Context) (map[domain.Tier]int64, error) {
	query := `
		SELECT l.tier, COUNT(*)
		FROM subscriptions s
		JOIN subscription_levels l ON l.id = s.level_id
		WHERE s.status = 'ACTIVE'
		GROUP BY l.tier`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Tier]int64)
	for rows.Next() {
		var tier string
		var n int64
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, err
		}
		out[domain.Tier(tier)] = n
	}
	return out, rows.Err()
}

// CountActiveStartedBefore counts active subscriptions started before the
// given instant.
func (r *SQLiteSubscriptionRepository) CountActiveStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = 'ACTIVE' AND created_at < $1`, before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active started before: %w", err)
	}
	return n, nil
}

func (r *SQLiteSubscriptionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query subscriptions: %w", err)
	}
	defer rows.Close()

	subs := make([]*domain.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
