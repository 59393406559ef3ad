package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository defines access for subscription persistence. Find methods
// return (nil, nil) when nothing matches a single-row lookup. The date-range
// finders back the lifecycle sweeps; the counts back the stats aggregator.
type Repository interface {
	Save(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id uuid.UUID) error

	FindByID(ctx context.Context, id uuid.UUID) (*Subscription, error)
	FindByUserID(ctx context.Context, userID uuid.UUID) ([]*Subscription, error)

	// FindDueForRenewal returns active auto-renewing subscriptions whose
	// next billing date is on or before the given instant.
	FindDueForRenewal(ctx context.Context, due time.Time, limit int) ([]*Subscription, error)

	// FindDueForRetry returns payment-failed subscriptions whose retry date
	// is on or before the given instant.
	FindDueForRetry(ctx context.Context, due time.Time, limit int) ([]*Subscription, error)

	// FindTrialsEnding returns trial subscriptions whose trial window ends
	// inside [from, to).
	FindTrialsEnding(ctx context.Context, from, to time.Time, limit int) ([]*Subscription, error)

	// FindTrialsEndedBefore returns subscriptions still in TRIAL whose trial
	// window ended before the given instant.
	FindTrialsEndedBefore(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)

	// FindExpiring returns active subscriptions whose end date falls inside
	// [from, to), used for expiring-soon notifications.
	FindExpiring(ctx context.Context, from, to time.Time, limit int) ([]*Subscription, error)

	// FindExpiredBefore returns active subscriptions whose end date passed.
	FindExpiredBefore(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)

	// FindCancelledBefore returns cancelled subscriptions whose cancellation
	// time precedes the given instant, eligible for archival.
	FindCancelledBefore(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)

	// FindArchivedInactiveBefore returns archived subscriptions with no
	// activity since the given instant, eligible for hard deletion.
	FindArchivedInactiveBefore(ctx context.Context, before time.Time, limit int) ([]*Subscription, error)

	// FindActiveOverlapping returns active subscriptions whose lifetime
	// overlaps [from, to], used for the revenue estimate.
	FindActiveOverlapping(ctx context.Context, from, to time.Time) ([]*Subscription, error)

	CountByStatus(ctx context.Context, status Status) (int64, error)
	CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error)
	CountByTier(ctx context.Context) (map[Tier]int64, error)
	CountActiveStartedBefore(ctx context.Context, before time.Time) (int64, error)
}

// LevelRepository defines read access to the plan catalog.
type LevelRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Level, error)
	FindByTier(ctx context.Context, tier Tier) (*Level, error)
	List(ctx context.Context) ([]*Level, error)
}

// PromotionRepository defines read access to promotions.
type PromotionRepository interface {
	FindByCode(ctx context.Context, code string) (*Promotion, error)
}

// PaymentRepository records billing attempts. Payments are append-only.
type PaymentRepository interface {
	Append(ctx context.Context, payment *Payment) error
	ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*Payment, error)
}
