package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrLevelNotFound        = errors.New("subscription level not found")
	ErrPromotionNotFound    = errors.New("promotion not found")
)

// EventSink receives the domain events recorded by an aggregate after its
// state change is persisted. Implementations are best effort and never fail
// the caller.
type EventSink interface {
	PublishAll(ctx context.Context, events []sharedDomain.DomainEvent)
}

// Config holds the billing policies the service applies.
type Config struct {
	// MaxPaymentRetries is how many failed attempts are tolerated before a
	// subscription expires.
	MaxPaymentRetries int

	// RetryInterval is the delay between failed billing attempts.
	RetryInterval time.Duration

	// RefundWindow is how long after the subscription start a cancellation
	// still triggers a refund of the last charge.
	RefundWindow time.Duration

	// TrialPeriod is the length of a new trial.
	TrialPeriod time.Duration
}

// DefaultConfig returns the standard billing policies.
func DefaultConfig() Config {
	return Config{
		MaxPaymentRetries: 3,
		RetryInterval:     72 * time.Hour,
		RefundWindow:      7 * 24 * time.Hour,
		TrialPeriod:       14 * 24 * time.Hour,
	}
}

// Service orchestrates the subscription lifecycle: it loads aggregates,
// drives their transitions, talks to the payment provider, persists the
// result and hands the recorded events to the sink. Persistence failures
// propagate to the caller; event delivery never does.
type Service struct {
	subs     domain.Repository
	levels   domain.LevelRepository
	promos   domain.PromotionRepository
	payments domain.PaymentRepository
	provider domain.PaymentProvider
	events   EventSink
	calc     *domain.Calculator
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a subscription service.
func NewService(
	subs domain.Repository,
	levels domain.LevelRepository,
	promos domain.PromotionRepository,
	payments domain.PaymentRepository,
	provider domain.PaymentProvider,
	events EventSink,
	config Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		subs:     subs,
		levels:   levels,
		promos:   promos,
		payments: payments,
		provider: provider,
		events:   events,
		calc:     domain.NewCalculator(),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// CreateSubscriptionCommand contains the data needed to start a subscription.
type CreateSubscriptionCommand struct {
	UserID     uuid.UUID
	Tier       domain.Tier
	CustomerID string
}

// CreateSubscription creates a subscription and attempts its first billing.
// The subscription is persisted in every outcome: ACTIVE on a successful
// charge, PAYMENT_FAILED with a scheduled retry otherwise.
func (s *Service) CreateSubscription(ctx context.Context, cmd CreateSubscriptionCommand) (*domain.Subscription, error) {
	level, err := s.resolveLevel(ctx, cmd.Tier)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub, err := domain.NewSubscription(cmd.UserID, level, cmd.CustomerID, now)
	if err != nil {
		return nil, err
	}

	providerSub, err := s.provider.CreateSubscription(ctx, cmd.UserID, level)
	if err != nil {
		return nil, fmt.Errorf("register subscription with payment provider: %w", err)
	}

	if err := s.charge(ctx, sub, providerSub.SubscriptionID, now); err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription created",
		"subscription_id", sub.ID(),
		"user_id", cmd.UserID,
		"tier", level.Tier,
		"status", sub.Status(),
	)
	return sub, nil
}

// StartTrialCommand contains the data needed to start a trial.
type StartTrialCommand struct {
	UserID     uuid.UUID
	Tier       domain.Tier
	CustomerID string
}

// StartTrial creates a trial subscription. No charge is attempted until the
// trial window closes.
func (s *Service) StartTrial(ctx context.Context, cmd StartTrialCommand) (*domain.Subscription, error) {
	level, err := s.resolveLevel(ctx, cmd.Tier)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub, err := domain.NewTrialSubscription(cmd.UserID, level, cmd.CustomerID, now, now.Add(s.config.TrialPeriod))
	if err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("trial started",
		"subscription_id", sub.ID(),
		"user_id", cmd.UserID,
		"tier", level.Tier,
		"trial_end", sub.TrialEndDate(),
	)
	return sub, nil
}

// GetSubscription loads a subscription by id.
func (s *Service) GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	return s.load(ctx, id)
}

// ListByUser returns all subscriptions owned by the user.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Subscription, error) {
	return s.subs.FindByUserID(ctx, userID)
}

// CancelSubscription cancels a subscription. A cancellation inside the refund
// window additionally refunds the last charge; a refund failure is logged and
// does not block the cancellation.
func (s *Service) CancelSubscription(ctx context.Context, id uuid.UUID, reason string) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := sub.Cancel(reason, now); err != nil {
		return nil, err
	}

	s.maybeRefund(ctx, sub, now)

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancelled",
		"subscription_id", sub.ID(),
		"reason", reason,
		"refunded", sub.RefundDate() != nil,
	)
	return sub, nil
}

// ChangeLevel switches a subscription to a different tier.
func (s *Service) ChangeLevel(ctx context.Context, id uuid.UUID, tier domain.Tier) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	level, err := s.resolveLevel(ctx, tier)
	if err != nil {
		return nil, err
	}

	if err := sub.ChangeLevel(level, s.now().UTC()); err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription level changed", "subscription_id", sub.ID(), "tier", tier)
	return sub, nil
}

// ReactivateSubscription brings a cancelled subscription back to ACTIVE.
func (s *Service) ReactivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := sub.Reactivate(s.calc, s.now().UTC()); err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription reactivated",
		"subscription_id", sub.ID(),
		"next_billing_date", sub.NextBillingDate(),
	)
	return sub, nil
}

// ApplyPromotion attaches a promotion code to a subscription.
func (s *Service) ApplyPromotion(ctx context.Context, id uuid.UUID, code string) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	promo, err := s.promos.FindByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("find promotion: %w", err)
	}
	if promo == nil {
		return nil, ErrPromotionNotFound
	}

	if err := sub.ApplyPromotion(promo, s.now().UTC()); err != nil {
		return nil, err
	}

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("promotion applied", "subscription_id", sub.ID(), "code", code)
	return sub, nil
}

// UpdatePaymentMethod records new provider identifiers for the subscription.
func (s *Service) UpdatePaymentMethod(ctx context.Context, id uuid.UUID, customerID, priceID string) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	sub.UpdatePaymentMethod(customerID, priceID, s.now().UTC())

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SetAutoRenew toggles automatic renewal for a subscription.
func (s *Service) SetAutoRenew(ctx context.Context, id uuid.UUID, enabled bool) (*domain.Subscription, error) {
	sub, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	sub.SetAutoRenew(enabled)

	if err := s.saveAndPublish(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// ProcessRenewal charges a due subscription and advances its billing date.
// A subscription that owes no charge at call time is left untouched, so the
// same sweep entry can be handed in twice without a second charge. On a
// failed charge the subscription moves to PAYMENT_FAILED with a scheduled
// retry, or to EXPIRED once retries are exhausted. The outcome is always
// persisted.
func (s *Service) ProcessRenewal(ctx context.Context, sub *domain.Subscription) error {
	now := s.now().UTC()

	if !sub.ChargeDue(now) {
		s.logger.Debug("no charge due, skipping renewal",
			"subscription_id", sub.ID(),
			"status", sub.Status(),
			"next_billing_date", sub.NextBillingDate(),
		)
		return nil
	}

	result, err := s.provider.Charge(ctx, sub)
	if err != nil {
		return s.recordChargeFailure(ctx, sub, fmt.Sprintf("charge request failed: %v", err), now)
	}
	if !result.Succeeded {
		return s.recordChargeFailure(ctx, sub, result.FailureReason, now)
	}

	if sub.Status() == domain.StatusPaymentFailed || sub.Status() == domain.StatusTrialEnded {
		// Retry or first post-trial charge succeeded: (re)activate.
		if err := sub.Activate(s.calc, sub.StripeSubscriptionID(), result.PaymentID, now); err != nil {
			return err
		}
	} else {
		if err := sub.Renew(s.calc, now); err != nil {
			return err
		}
	}

	s.recordPayment(ctx, domain.NewSuccessfulPayment(sub.ID(), sub.Price(), sub.Currency(), result.PaymentID, now))

	return s.saveAndPublish(ctx, sub)
}

func (s *Service) recordChargeFailure(ctx context.Context, sub *domain.Subscription, reason string, now time.Time) error {
	s.recordPayment(ctx, domain.NewFailedPayment(sub.ID(), sub.Price(), sub.Currency(), reason, now))

	if sub.RetryCount()+1 >= s.config.MaxPaymentRetries {
		if err := sub.MarkPaymentFailed(reason, nil, now); err != nil {
			return err
		}
		if err := sub.Expire(now); err != nil {
			return err
		}
		s.logger.Warn("payment retries exhausted, subscription expired",
			"subscription_id", sub.ID(),
			"retry_count", sub.RetryCount(),
		)
		return s.saveAndPublish(ctx, sub)
	}

	retry := now.Add(s.config.RetryInterval)
	if err := sub.MarkPaymentFailed(reason, &retry, now); err != nil {
		return err
	}

	s.logger.Warn("payment failed, retry scheduled",
		"subscription_id", sub.ID(),
		"reason", reason,
		"retry_at", retry,
		"retry_count", sub.RetryCount(),
	)
	return s.saveAndPublish(ctx, sub)
}

func (s *Service) maybeRefund(ctx context.Context, sub *domain.Subscription, now time.Time) {
	if sub.StripeChargeID() == "" {
		return
	}
	if now.Sub(sub.StartDate()) > s.config.RefundWindow {
		return
	}

	result, err := s.provider.Refund(ctx, sub.StripeChargeID(), sub.Price(), sub.Currency())
	if err != nil {
		s.logger.Error("refund failed",
			"subscription_id", sub.ID(),
			"charge_id", sub.StripeChargeID(),
			"error", err,
		)
		return
	}

	sub.RecordRefund(result.Amount, now)
	s.logger.Info("refund issued",
		"subscription_id", sub.ID(),
		"refund_id", result.RefundID,
		"amount", result.Amount,
	)
}

func (s *Service) charge(ctx context.Context, sub *domain.Subscription, providerSubID string, now time.Time) error {
	result, err := s.provider.Charge(ctx, sub)
	if err != nil {
		return s.markFirstChargeFailed(ctx, sub, fmt.Sprintf("charge request failed: %v", err), now)
	}
	if !result.Succeeded {
		return s.markFirstChargeFailed(ctx, sub, result.FailureReason, now)
	}

	if err := sub.Activate(s.calc, providerSubID, result.PaymentID, now); err != nil {
		return err
	}
	s.recordPayment(ctx, domain.NewSuccessfulPayment(sub.ID(), sub.Price(), sub.Currency(), result.PaymentID, now))
	return nil
}

func (s *Service) markFirstChargeFailed(ctx context.Context, sub *domain.Subscription, reason string, now time.Time) error {
	s.recordPayment(ctx, domain.NewFailedPayment(sub.ID(), sub.Price(), sub.Currency(), reason, now))

	retry := now.Add(s.config.RetryInterval)
	return sub.MarkPaymentFailed(reason, &retry, now)
}

func (s *Service) recordPayment(ctx context.Context, payment *domain.Payment) {
	if err := s.payments.Append(ctx, payment); err != nil {
		s.logger.Error("failed to record payment",
			"subscription_id", payment.SubscriptionID,
			"status", payment.Status,
			"error", err,
		)
	}
}

func (s *Service) resolveLevel(ctx context.Context, tier domain.Tier) (*domain.Level, error) {
	level, err := s.levels.FindByTier(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("find level: %w", err)
	}
	if level == nil {
		return nil, ErrLevelNotFound
	}
	return level, nil
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	sub, err := s.subs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("find subscription: %w", err)
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) saveAndPublish(ctx context.Context, sub *domain.Subscription) error {
	if err := s.subs.Save(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	s.events.PublishAll(ctx, sub.DomainEvents())
	sub.ClearDomainEvents()
	return nil
}
