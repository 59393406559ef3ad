package domain

import "context"

// Notifier delivers user-facing lifecycle notices. Delivery is best effort;
// callers log failures and continue.
type Notifier interface {
	TrialEndingSoon(ctx context.Context, sub *Subscription) error
	TrialEnded(ctx context.Context, sub *Subscription) error
	SubscriptionExpiringSoon(ctx context.Context, sub *Subscription) error
	SubscriptionExpired(ctx context.Context, sub *Subscription) error
	PaymentFailed(ctx context.Context, sub *Subscription) error
}
