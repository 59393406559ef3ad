package domain

import (
	"context"

	"github.com/google/uuid"
)

// ProviderSubscription is the provider-side handle returned when a
// subscription is registered with the payment provider.
type ProviderSubscription struct {
	SubscriptionID string
	CustomerID     string
}

// ChargeResult reports the outcome of a single billing attempt.
type ChargeResult struct {
	Succeeded     bool
	PaymentID     string
	FailureReason string
}

// RefundResult reports the outcome of a refund request.
type RefundResult struct {
	RefundID string
	Amount   float64
}

// PaymentProvider abstracts the external billing gateway.
type PaymentProvider interface {
	CreateSubscription(ctx context.Context, userID uuid.UUID, level *Level) (*ProviderSubscription, error)
	Charge(ctx context.Context, sub *Subscription) (*ChargeResult, error)
	Refund(ctx context.Context, providerPaymentID string, amount float64, currency string) (*RefundResult, error)
}
