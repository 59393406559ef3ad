// Package notification holds notifier implementations for lifecycle notices.
package notification

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// SlogNotifier logs lifecycle notices instead of delivering them. It stands
// in for a mail or push gateway in deployments that handle user-facing
// messaging elsewhere.
type SlogNotifier struct {
	logger *slog.Logger
}

// NewSlogNotifier creates a logging notifier.
func NewSlogNotifier(logger *slog.Logger) *SlogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogNotifier{logger: logger}
}

func (n *SlogNotifier) TrialEndingSoon(ctx context.Context, sub *domain.Subscription) error {
	n.notice("trial ending soon", sub)
	return nil
}

func (n *SlogNotifier) TrialEnded(ctx context.Context, sub *domain.Subscription) error {
	n.notice("trial ended", sub)
	return nil
}

func (n *SlogNotifier) SubscriptionExpiringSoon(ctx context.Context, sub *domain.Subscription) error {
	n.notice("subscription expiring soon", sub)
	return nil
}

func (n *SlogNotifier) SubscriptionExpired(ctx context.Context, sub *domain.Subscription) error {
	n.notice("subscription expired", sub)
	return nil
}

func (n *SlogNotifier) PaymentFailed(ctx context.Context, sub *domain.Subscription) error {
	n.logger.Info("notify: payment failed",
		"subscription_id", sub.ID(),
		"user_id", sub.UserID(),
		"status", sub.Status(),
		"failure_reason", sub.LastPaymentError(),
	)
	return nil
}

func (n *SlogNotifier) notice(kind string, sub *domain.Subscription) {
	n.logger.Info("notify: "+kind,
		"subscription_id", sub.ID(),
		"user_id", sub.UserID(),
		"status", sub.Status(),
	)
}

var _ domain.Notifier = (*SlogNotifier)(nil)
