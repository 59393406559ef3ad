package provider

import (
	"context"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the circuit breaker around the payment provider.
type BreakerConfig struct {
	// MaxRequests is the maximum number of requests allowed in half-open state.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state.
	Interval time.Duration

	// Timeout is the period of the open state.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive failures that trips
	// the breaker.
	FailureThreshold uint32

	// CallTimeout bounds each provider call.
	CallTimeout time.Duration
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      3,
		Interval:         10 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		CallTimeout:      10 * time.Second,
	}
}

// BreakerProvider wraps a payment provider with a circuit breaker so a
// failing gateway sheds load instead of stalling every sweep.
type BreakerProvider struct {
	inner   domain.PaymentProvider
	breaker *gobreaker.CircuitBreaker[any]
	config  BreakerConfig
}

// NewBreakerProvider wraps the given provider.
func NewBreakerProvider(inner domain.PaymentProvider, config BreakerConfig, logger *slog.Logger) *BreakerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	}

	return &BreakerProvider{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		config:  config,
	}
}

func (p *BreakerProvider) CreateSubscription(ctx context.Context, userID uuid.UUID, level *domain.Level) (*domain.ProviderSubscription, error) {
	result, err := p.execute(ctx, func(ctx context.Context) (any, error) {
		return p.inner.CreateSubscription(ctx, userID, level)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ProviderSubscription), nil
}

func (p *BreakerProvider) Charge(ctx context.Context, sub *domain.Subscription) (*domain.ChargeResult, error) {
	result, err := p.execute(ctx, func(ctx context.Context) (any, error) {
		return p.inner.Charge(ctx, sub)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.ChargeResult), nil
}

func (p *BreakerProvider) Refund(ctx context.Context, providerPaymentID string, amount float64, currency string) (*domain.RefundResult, error) {
	result, err := p.execute(ctx, func(ctx context.Context) (any, error) {
		return p.inner.Refund(ctx, providerPaymentID, amount, currency)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.RefundResult), nil
}

func (p *BreakerProvider) execute(ctx context.Context, op func(context.Context) (any, error)) (any, error) {
	timeout := p.config.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return p.breaker.Execute(func() (any, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return op(callCtx)
	})
}

var _ domain.PaymentProvider = (*BreakerProvider)(nil)
