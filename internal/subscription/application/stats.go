package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// Stats is an aggregated snapshot of the subscription base.
type Stats struct {
	TakenAt time.Time
	Window  time.Duration

	ActiveCount        int64
	TrialCount         int64
	PaymentFailedCount int64
	CancelledCount     int64

	// NewInWindow is how many subscriptions were created inside the window.
	NewInWindow int64

	ByTier map[domain.Tier]int64

	// EstimatedMonthlyRevenue sums the monthly-normalized price of every
	// active subscription, promotions applied.
	EstimatedMonthlyRevenue float64

	// RetentionRate is the share of subscriptions created before the window
	// that are still active, in [0, 1]. Zero when nothing predates the
	// window.
	RetentionRate float64
}

// StatsService aggregates reporting figures over the subscription base. It
// only reads; the counts come straight from the repository and the revenue
// estimate walks the currently active subscriptions.
type StatsService struct {
	subs   domain.Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewStatsService creates a stats service.
func NewStatsService(subs domain.Repository, logger *slog.Logger) *StatsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatsService{subs: subs, logger: logger, now: time.Now}
}

// Snapshot computes the current statistics over the given lookback window.
func (s *StatsService) Snapshot(ctx context.Context, window time.Duration) (*Stats, error) {
	now := s.now().UTC()
	windowStart := now.Add(-window)

	stats := &Stats{TakenAt: now, Window: window}

	var err error
	if stats.ActiveCount, err = s.subs.CountByStatus(ctx, domain.StatusActive); err != nil {
		return nil, fmt.Errorf("count active: %w", err)
	}
	if stats.TrialCount, err = s.subs.CountByStatus(ctx, domain.StatusTrial); err != nil {
		return nil, fmt.Errorf("count trials: %w", err)
	}
	if stats.PaymentFailedCount, err = s.subs.CountByStatus(ctx, domain.StatusPaymentFailed); err != nil {
		return nil, fmt.Errorf("count payment failures: %w", err)
	}
	if stats.CancelledCount, err = s.subs.CountByStatus(ctx, domain.StatusCancelled); err != nil {
		return nil, fmt.Errorf("count cancelled: %w", err)
	}
	if stats.NewInWindow, err = s.subs.CountCreatedBetween(ctx, windowStart, now); err != nil {
		return nil, fmt.Errorf("count created in window: %w", err)
	}
	if stats.ByTier, err = s.subs.CountByTier(ctx); err != nil {
		return nil, fmt.Errorf("count by tier: %w", err)
	}

	if stats.EstimatedMonthlyRevenue, err = s.estimateMonthlyRevenue(ctx, now); err != nil {
		return nil, err
	}

	if stats.RetentionRate, err = s.retentionRate(ctx, windowStart, now); err != nil {
		return nil, err
	}

	return stats, nil
}

func (s *StatsService) estimateMonthlyRevenue(ctx context.Context, now time.Time) (float64, error) {
	active, err := s.subs.FindActiveOverlapping(ctx, now, now)
	if err != nil {
		return 0, fmt.Errorf("find active subscriptions: %w", err)
	}

	var total float64
	for _, sub := range active {
		total += monthlyPrice(sub)
	}
	return total, nil
}

// monthlyPrice normalizes a subscription's price to one month and applies the
// attached promotion, if any. Subscriptions whose plan has no usable
// frequency contribute nothing.
func monthlyPrice(sub *domain.Subscription) float64 {
	level := sub.Level()
	if level == nil {
		return 0
	}
	months, ok := level.Frequency.Months()
	if !ok || months == 0 {
		return 0
	}

	price := level.EffectivePrice() / float64(months)
	if promo := sub.Promotion(); promo != nil {
		price *= 1 - float64(promo.DiscountPercentage)/100
	}
	return price
}

func (s *StatsService) retentionRate(ctx context.Context, windowStart, now time.Time) (float64, error) {
	created, err := s.subs.CountCreatedBetween(ctx, time.Time{}, windowStart)
	if err != nil {
		return 0, fmt.Errorf("count created before window: %w", err)
	}
	if created == 0 {
		return 0, nil
	}

	retained, err := s.subs.CountActiveStartedBefore(ctx, windowStart)
	if err != nil {
		return 0, fmt.Errorf("count retained: %w", err)
	}

	return float64(retained) / float64(created), nil
}
