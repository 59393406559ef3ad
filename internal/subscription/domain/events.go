package domain

import (
	"time"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
)

// Exchanges and routing keys. Every event kind is published to one fixed
// (exchange, routing key) pair; consumers bind queues against these names.
const (
	ExchangeSubscription  = "subscription.events"
	ExchangeBilling       = "billing.events"
	ExchangeUser          = "user.events"
	ExchangeAccessControl = "access.control.events"

	RoutingKeyCreated              = "subscription.created"
	RoutingKeyLevelChanged         = "subscription.level.changed"
	RoutingKeyCancelled            = "subscription.cancelled"
	RoutingKeyRenewed              = "subscription.renewed"
	RoutingKeyReactivated          = "subscription.reactivated"
	RoutingKeyPaymentFailed        = "billing.payment.failed"
	RoutingKeyPaymentMethodUpdated = "user.payment.method.updated"
)

// lifecycleEvent is the single event shape shared by every kind: a base
// event addressed to its exchange/routing-key pair plus the flat payload
// built at transition time. Per-kind payload contracts live in the
// constructors below.
type lifecycleEvent struct {
	sharedDomain.BaseEvent
	payload map[string]any
}

func (e lifecycleEvent) Payload() map[string]any { return e.payload }

func newLifecycleEvent(sub *Subscription, exchange, routingKey string, fields map[string]any) lifecycleEvent {
	base := sharedDomain.NewBaseEvent(sub.ID(), exchange, routingKey)

	payload := map[string]any{
		"subscriptionId": sub.ID().String(),
		"userId":         sub.UserID().String(),
	}
	for k, v := range fields {
		payload[k] = v
	}

	return lifecycleEvent{BaseEvent: base, payload: payload}
}

// NewSubscriptionCreated is emitted when a subscription is first created,
// whether pending its first billing or starting a trial.
func NewSubscriptionCreated(sub *Subscription) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeSubscription, RoutingKeyCreated, map[string]any{
		"subscriptionLevelId":   levelID(sub.Level()),
		"subscriptionLevelName": levelName(sub.Level()),
		"startDate":             sub.StartDate().Format(time.RFC3339),
		"trialEndDate":          timeOrNil(sub.TrialEndDate()),
		"createdAt":             time.Now().UTC().Format(time.RFC3339),
	})
}

// NewSubscriptionLevelChanged is emitted when the plan tier changes.
func NewSubscriptionLevelChanged(sub *Subscription, oldLevel *Level, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeSubscription, RoutingKeyLevelChanged, map[string]any{
		"newLevelId":      levelID(sub.Level()),
		"newLevelName":    levelName(sub.Level()),
		"oldLevel":        levelName(oldLevel),
		"changeTimestamp": at.UTC().Format(time.RFC3339),
	})
}

// NewSubscriptionCancelled is emitted on cancellation.
func NewSubscriptionCancelled(sub *Subscription, reason string, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeSubscription, RoutingKeyCancelled, map[string]any{
		"cancellationDate":      at.UTC().Format(time.RFC3339),
		"cancellationReason":    reason,
		"subscriptionLevelId":   levelID(sub.Level()),
		"subscriptionLevelName": levelName(sub.Level()),
	})
}

// NewSubscriptionRenewed is emitted after a successful scheduled renewal.
func NewSubscriptionRenewed(sub *Subscription, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeSubscription, RoutingKeyRenewed, map[string]any{
		"renewalDate":           at.UTC().Format(time.RFC3339),
		"nextBillingDate":       timeOrNil(sub.NextBillingDate()),
		"subscriptionLevelId":   levelID(sub.Level()),
		"subscriptionLevelName": levelName(sub.Level()),
	})
}

// NewSubscriptionReactivated is emitted when a cancelled subscription comes
// back to life.
func NewSubscriptionReactivated(sub *Subscription, nextBilling time.Time, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeSubscription, RoutingKeyReactivated, map[string]any{
		"reactivationDate":      at.UTC().Format(time.RFC3339),
		"nextBillingDate":       nextBilling.Format(time.RFC3339),
		"subscriptionLevelId":   levelID(sub.Level()),
		"subscriptionLevelName": levelName(sub.Level()),
	})
}

// NewPaymentFailed is emitted when the payment provider reports a failed
// billing attempt.
func NewPaymentFailed(sub *Subscription, reason string, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeBilling, RoutingKeyPaymentFailed, map[string]any{
		"failureTimestamp": at.UTC().Format(time.RFC3339),
		"failureReason":    reason,
		"nextRetryDate":    timeOrNil(sub.NextRetryDate()),
		"amountDue":        sub.Price(),
		"currency":         sub.Currency(),
	})
}

// NewPaymentMethodUpdated is emitted when the owner's payment identifiers
// change.
func NewPaymentMethodUpdated(sub *Subscription, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeUser, RoutingKeyPaymentMethodUpdated, map[string]any{
		"updateTimestamp": at.UTC().Format(time.RFC3339),
	})
}

// NewAccessCancelled notifies the access-control service that the owner lost
// their entitlement.
func NewAccessCancelled(sub *Subscription, reason string, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeAccessControl, RoutingKeyCancelled, map[string]any{
		"subscriptionLevel": levelName(sub.Level()),
		"cancelledAt":       at.UTC().Format(time.RFC3339),
		"reason":            reason,
	})
}

// NewAccessReactivated notifies the access-control service that the owner's
// entitlement is back.
func NewAccessReactivated(sub *Subscription, at time.Time) sharedDomain.DomainEvent {
	return newLifecycleEvent(sub, ExchangeAccessControl, RoutingKeyReactivated, map[string]any{
		"subscriptionLevel": levelName(sub.Level()),
		"reactivatedAt":     at.UTC().Format(time.RFC3339),
	})
}

func levelID(l *Level) any {
	if l == nil {
		return nil
	}
	return l.ID.String()
}

func levelName(l *Level) any {
	if l == nil {
		return nil
	}
	return string(l.Tier)
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
