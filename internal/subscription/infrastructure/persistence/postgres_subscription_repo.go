package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

const subscriptionColumns = `
	s.id, s.user_id, s.status, s.start_date, s.end_date,
	s.trial_start_date, s.trial_end_date,
	s.next_billing_date, s.next_renewal_date, s.next_retry_date,
	s.auto_renew, s.cancelled_at, s.last_activity,
	s.customer_id, s.provider_subscription_id, s.provider_charge_id, s.price_id,
	s.last_payment_error, s.retry_count, s.refund_date, s.refund_amount,
	s.price, s.currency, s.version, s.created_at, s.updated_at,
	l.id, l.tier, l.price, l.currency, l.frequency, l.features, l.provider_price_id,
	p.id, p.code, p.discount_percentage, p.start_date, p.end_date, p.active, p.description`

const subscriptionFrom = `
	FROM subscriptions s
	LEFT JOIN subscription_levels l ON l.id = s.level_id
	LEFT JOIN promotions p ON p.id = s.promotion_id`

// PostgresSubscriptionRepository implements domain.Repository with
// PostgreSQL. Every read hydrates the plan and promotion alongside the
// subscription in one query.
type PostgresSubscriptionRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresSubscriptionRepository creates a new repository.
func NewPostgresSubscriptionRepository(pool *pgxpool.Pool) *PostgresSubscriptionRepository {
	return &PostgresSubscriptionRepository{pool: pool}
}

// Save upserts a subscription row. The version column counts writes; the
// aggregate is always written whole.
func (r *PostgresSubscriptionRepository) Save(ctx context.Context, sub *domain.Subscription) error {
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
			level_id = EXCLUDED.level_id,
			promotion_id = EXCLUDED.promotion_id,
			status = EXCLUDED.status,
			start_date = EXCLUDED.start_date,
			end_date = EXCLUDED.end_date,
			trial_start_date = EXCLUDED.trial_start_date,
			trial_end_date = EXCLUDED.trial_end_date,
			next_billing_date = EXCLUDED.next_billing_date,
			next_renewal_date = EXCLUDED.next_renewal_date,
			next_retry_date = EXCLUDED.next_retry_date,
			auto_renew = EXCLUDED.auto_renew,
			cancelled_at = EXCLUDED.cancelled_at,
			last_activity = EXCLUDED.last_activity,
			customer_id = EXCLUDED.customer_id,
			provider_subscription_id = EXCLUDED.provider_subscription_id,
			provider_charge_id = EXCLUDED.provider_charge_id,
			price_id = EXCLUDED.price_id,
			last_payment_error = EXCLUDED.last_payment_error,
			retry_count = EXCLUDED.retry_count,
			refund_date = EXCLUDED.refund_date,
			refund_amount = EXCLUDED.refund_amount,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			version = subscriptions.version + 1,
			updated_at = NOW()
	`

	var levelID, promotionID *uuid.UUID
	if level := sub.Level(); level != nil {
		levelID = &level.ID
	}
	if promo := sub.Promotion(); promo != nil {
		promotionID = &promo.ID
	}

	_, err := r.pool.Exec(ctx, query,
		sub.ID(), sub.UserID(), levelID, promotionID, string(sub.Status()),
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
func (r *PostgresSubscriptionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// FindByID retrieves a subscription by id, or nil when absent.
func (r *PostgresSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + ` WHERE s.id = $1`

	sub, err := scanSubscription(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sub, nil
}

// FindByUserID retrieves all subscriptions owned by the user.
func (r *PostgresSubscriptionRepository) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.user_id = $1
		ORDER BY s.created_at DESC`
	return r.query(ctx, query, userID)
}

// FindDueForRenewal returns active auto-renewing subscriptions due for
// billing.
func (r *PostgresSubscriptionRepository) FindDueForRenewal(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
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
func (r *PostgresSubscriptionRepository) FindDueForRetry(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'PAYMENT_FAILED'
		  AND s.next_retry_date IS NOT NULL
		  AND s.next_retry_date <= $1
		ORDER BY s.next_retry_date
		LIMIT $2`
	return r.query(ctx, query, due, limit)
}

// FindTrialsEnding returns trials whose window ends inside [from, to).
func (r *PostgresSubscriptionRepository) FindTrialsEnding(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'TRIAL'
		  AND s.trial_end_date >= $1
		  AND s.trial_end_date < $2
		ORDER BY s.trial_end_date
		LIMIT $3`
	return r.query(ctx, query, from, to, limit)
}

// FindTrialsEndedBefore returns trials whose window already closed.
func (r *PostgresSubscriptionRepository) FindTrialsEndedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'TRIAL'
		  AND s.trial_end_date < $1
		ORDER BY s.trial_end_date
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindExpiring returns active subscriptions ending inside [from, to).
func (r *PostgresSubscriptionRepository) FindExpiring(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.end_date >= $1
		  AND s.end_date < $2
		ORDER BY s.end_date
		LIMIT $3`
	return r.query(ctx, query, from, to, limit)
}

// FindExpiredBefore returns active subscriptions whose end date passed.
func (r *PostgresSubscriptionRepository) FindExpiredBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.end_date < $1
		ORDER BY s.end_date
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindCancelledBefore returns cancellations older than the given instant.
func (r *PostgresSubscriptionRepository) FindCancelledBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'CANCELLED'
		  AND s.cancelled_at < $1
		ORDER BY s.cancelled_at
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindArchivedInactiveBefore returns archived subscriptions with no activity
// since the given instant.
func (r *PostgresSubscriptionRepository) FindArchivedInactiveBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ARCHIVED'
		  AND s.last_activity < $1
		ORDER BY s.last_activity
		LIMIT $2`
	return r.query(ctx, query, before, limit)
}

// FindActiveOverlapping returns active subscriptions overlapping [from, to].
func (r *PostgresSubscriptionRepository) FindActiveOverlapping(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	query := `SELECT` + subscriptionColumns + subscriptionFrom + `
		WHERE s.status = 'ACTIVE'
		  AND s.start_date <= $2
		  AND (s.end_date IS NULL OR s.end_date >= $1)`
	return r.query(ctx, query, from, to)
}

// CountByStatus counts subscriptions in the given status.
func (r *PostgresSubscriptionRepository) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = $1`, string(status),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count by status: %w", err)
	}
	return n, nil
}

// CountCreatedBetween counts subscriptions created inside [from, to).
func (r *PostgresSubscriptionRepository) CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE created_at >= $1 AND created_at < $2`, from, to,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count created between: %w", err)
	}
	return n, nil
}

// CountByTier counts active subscriptions per plan tier.
func (r *PostgresSubscriptionRepository) CountByTier(ctx context.Context) (map[domain.Tier]int64, error) {
	query := `
		SELECT l.tier, COUNT(*)
		FROM subscriptions s
		JOIN subscription_levels l ON l.id = s.level_id
		WHERE s.status = 'ACTIVE'
		GROUP BY l.tier`

	rows, err := r.pool.Query(ctx, query)
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
func (r *PostgresSubscriptionRepository) CountActiveStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM subscriptions WHERE status = 'ACTIVE' AND created_at < $1`, before,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active started before: %w", err)
	}
	return n, nil
}

func (r *PostgresSubscriptionRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Subscription, error) {
	rows, err := r.pool.Query(ctx, query, args...)
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*domain.Subscription, error) {
	var p domain.RehydrateParams
	var status string

	var levelID *uuid.UUID
	var levelTier, levelCurrency, levelFrequency, levelFeatures, levelPriceID *string
	var levelPrice *float64

	var promoID *uuid.UUID
	var promoCode, promoDescription *string
	var promoDiscount *int
	var promoStart, promoEnd *time.Time
	var promoActive *bool

	err := row.Scan(
		&p.ID, &p.UserID, &status, &p.StartDate, &p.EndDate,
		&p.TrialStartDate, &p.TrialEndDate,
		&p.NextBillingDate, &p.NextRenewalDate, &p.NextRetryDate,
		&p.AutoRenew, &p.CancelledAt, &p.LastActivity,
		&p.CustomerID, &p.StripeSubscriptionID, &p.StripeChargeID, &p.PriceID,
		&p.LastPaymentError, &p.RetryCount, &p.RefundDate, &p.RefundAmount,
		&p.Price, &p.Currency, &p.Version, &p.CreatedAt, &p.UpdatedAt,
		&levelID, &levelTier, &levelPrice, &levelCurrency, &levelFrequency, &levelFeatures, &levelPriceID,
		&promoID, &promoCode, &promoDiscount, &promoStart, &promoEnd, &promoActive, &promoDescription,
	)
	if err != nil {
		return nil, err
	}

	p.Status = domain.Status(status)

	if levelID != nil {
		p.Level = &domain.Level{
			ID:        *levelID,
			Tier:      domain.Tier(deref(levelTier)),
			Price:     derefFloat(levelPrice),
			Currency:  deref(levelCurrency),
			Frequency: domain.BillingFrequency(deref(levelFrequency)),
			Features:  deref(levelFeatures),
			PriceID:   deref(levelPriceID),
		}
	}

	if promoID != nil {
		p.Promotion = &domain.Promotion{
			ID:                 *promoID,
			Code:               deref(promoCode),
			DiscountPercentage: derefInt(promoDiscount),
			Active:             promoActive != nil && *promoActive,
			Description:        deref(promoDescription),
		}
		if promoStart != nil {
			p.Promotion.StartDate = *promoStart
		}
		if promoEnd != nil {
			p.Promotion.EndDate = *promoEnd
		}
	}

	return domain.Rehydrate(p), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
