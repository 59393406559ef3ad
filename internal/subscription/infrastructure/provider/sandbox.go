package provider

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
	"github.com/google/uuid"
)

// SandboxProvider simulates a payment gateway for local development and
// testing. Charges succeed unless the subscription's customer id carries
// the suffix "_declined", which simulates a declined card.
type SandboxProvider struct {
	logger  *slog.Logger
	charges atomic.Int64
}

// NewSandboxProvider creates a simulated payment provider.
func NewSandboxProvider(logger *slog.Logger) *SandboxProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &SandboxProvider{logger: logger}
}

func (p *SandboxProvider) CreateSubscription(ctx context.Context, userID uuid.UUID, level *domain.Level) (*domain.ProviderSubscription, error) {
	sub := &domain.ProviderSubscription{
		SubscriptionID: "sandbox_sub_" + uuid.NewString(),
		CustomerID:     "sandbox_cus_" + strings.ReplaceAll(userID.String(), "-", ""),
	}
	p.logger.Debug("sandbox subscription created",
		"user_id", userID,
		"tier", level.Tier,
		"provider_subscription_id", sub.SubscriptionID,
	)
	return sub, nil
}

func (p *SandboxProvider) Charge(ctx context.Context, sub *domain.Subscription) (*domain.ChargeResult, error) {
	p.charges.Add(1)

	if strings.HasSuffix(sub.CustomerID(), "_declined") {
		return &domain.ChargeResult{
			Succeeded:     false,
			FailureReason: "card_declined",
		}, nil
	}

	return &domain.ChargeResult{
		Succeeded: true,
		PaymentID: "sandbox_pay_" + uuid.NewString(),
	}, nil
}

func (p *SandboxProvider) Refund(ctx context.Context, providerPaymentID string, amount float64, currency string) (*domain.RefundResult, error) {
	p.logger.Debug("sandbox refund issued",
		"provider_payment_id", providerPaymentID,
		"amount", amount,
		"currency", currency,
	)
	return &domain.RefundResult{
		RefundID: "sandbox_re_" + uuid.NewString(),
		Amount:   amount,
	}, nil
}

// ChargeCount returns the number of charge attempts made.
func (p *SandboxProvider) ChargeCount() int64 {
	return p.charges.Load()
}

var _ domain.PaymentProvider = (*SandboxProvider)(nil)
