package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the outcome of one billing attempt.
type PaymentStatus string

const (
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
	PaymentPending PaymentStatus = "PENDING"
)

// Payment is an append-only record of one billing attempt. A subscription
// owns many payments; they are never mutated after creation.
type Payment struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	PaidAt         time.Time
	Amount         float64
	Currency       string

	// ProviderPaymentID is nil on failed attempts.
	ProviderPaymentID *string
	Status            PaymentStatus
	ErrorMessage      string
}

// NewSuccessfulPayment records a successful billing attempt.
func NewSuccessfulPayment(subscriptionID uuid.UUID, amount float64, currency, providerPaymentID string, at time.Time) *Payment {
	return &Payment{
		ID:                uuid.New(),
		SubscriptionID:    subscriptionID,
		PaidAt:            at,
		Amount:            amount,
		Currency:          currency,
		ProviderPaymentID: &providerPaymentID,
		Status:            PaymentSuccess,
	}
}

// NewFailedPayment records a failed billing attempt.
func NewFailedPayment(subscriptionID uuid.UUID, amount float64, currency, errorMessage string, at time.Time) *Payment {
	return &Payment{
		ID:             uuid.New(),
		SubscriptionID: subscriptionID,
		PaidAt:         at,
		Amount:         amount,
		Currency:       currency,
		Status:         PaymentFailed,
		ErrorMessage:   errorMessage,
	}
}
