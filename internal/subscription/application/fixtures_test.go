package application

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// fakeRepo is an in-memory subscription store.
type fakeRepo struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*domain.Subscription
	saves   int
	saveErr error

	countsByStatus map[domain.Status]int64
	createdBetween map[time.Time]int64
	byTier         map[domain.Tier]int64
	activeBefore   int64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *fakeRepo) Save(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saves++
	r.subs[sub.ID()] = sub
	return nil
}

func (r *fakeRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *fakeRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id], nil
}

func (r *fakeRepo) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Subscription
	for _, sub := range r.subs {
		if sub.UserID() == userID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) all() []*domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func (r *fakeRepo) FindDueForRenewal(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		next := sub.NextBillingDate()
		if sub.Status() == domain.StatusActive && sub.AutoRenew() && next != nil && !next.After(due) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindDueForRetry(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		retry := sub.NextRetryDate()
		if sub.Status() == domain.StatusPaymentFailed && retry != nil && !retry.After(due) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindTrialsEnding(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.TrialEndDate()
		if sub.Status() == domain.StatusTrial && end != nil && !end.Before(from) && end.Before(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindTrialsEndedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.TrialEndDate()
		if sub.Status() == domain.StatusTrial && end != nil && end.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindExpiring(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.EndDate()
		if sub.Status() == domain.StatusActive && end != nil && !end.Before(from) && end.Before(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindExpiredBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.EndDate()
		if sub.Status() == domain.StatusActive && end != nil && end.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindCancelledBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		at := sub.CancelledAt()
		if sub.Status() == domain.StatusCancelled && at != nil && at.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindArchivedInactiveBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		if sub.Status() == domain.StatusArchived && sub.LastActivity().Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) FindActiveOverlapping(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		if sub.Status() == domain.StatusActive {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *fakeRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	if r.countsByStatus != nil {
		return r.countsByStatus[status], nil
	}
	var n int64
	for _, sub := range r.all() {
		if sub.Status() == status {
			n++
		}
	}
	return n, nil
}

func (r *fakeRepo) CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	if r.createdBetween != nil {
		return r.createdBetween[to], nil
	}
	return int64(len(r.all())), nil
}

func (r *fakeRepo) CountByTier(ctx context.Context) (map[domain.Tier]int64, error) {
	if r.byTier != nil {
		return r.byTier, nil
	}
	out := make(map[domain.Tier]int64)
	for _, sub := range r.all() {
		if level := sub.Level(); level != nil {
			out[level.Tier]++
		}
	}
	return out, nil
}

func (r *fakeRepo) CountActiveStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	return r.activeBefore, nil
}

// fakeLevelRepo serves levels by tier.
type fakeLevelRepo struct {
	levels map[domain.Tier]*domain.Level
}

func (r fakeLevelRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Level, error) {
	for _, l := range r.levels {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, nil
}

func (r fakeLevelRepo) FindByTier(ctx context.Context, tier domain.Tier) (*domain.Level, error) {
	return r.levels[tier], nil
}

func (r fakeLevelRepo) List(ctx context.Context) ([]*domain.Level, error) {
	out := make([]*domain.Level, 0, len(r.levels))
	for _, l := range r.levels {
		out = append(out, l)
	}
	return out, nil
}

// fakePromoRepo serves promotions by code.
type fakePromoRepo struct {
	promos map[string]*domain.Promotion
}

func (r fakePromoRepo) FindByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	return r.promos[code], nil
}

// fakePaymentRepo records appended payments.
type fakePaymentRepo struct {
	mu       sync.Mutex
	payments []*domain.Payment
}

func (r *fakePaymentRepo) Append(ctx context.Context, payment *domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments = append(r.payments, payment)
	return nil
}

func (r *fakePaymentRepo) ListBySubscription(ctx context.Context, subscriptionID uuid.UUID) ([]*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Payment
	for _, p := range r.payments {
		if p.SubscriptionID == subscriptionID {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeProvider returns scripted provider responses.
type fakeProvider struct {
	createErr    error
	chargeResult *domain.ChargeResult
	chargeErr    error
	refundResult *domain.RefundResult
	refundErr    error
	charges      int
	refunds      int
}

func (p *fakeProvider) CreateSubscription(ctx context.Context, userID uuid.UUID, level *domain.Level) (*domain.ProviderSubscription, error) {
	if p.createErr != nil {
		return nil, p.createErr
	}
	return &domain.ProviderSubscription{SubscriptionID: "sub_provider", CustomerID: "cus_provider"}, nil
}

func (p *fakeProvider) Charge(ctx context.Context, sub *domain.Subscription) (*domain.ChargeResult, error) {
	p.charges++
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	if p.chargeResult != nil {
		return p.chargeResult, nil
	}
	return &domain.ChargeResult{Succeeded: true, PaymentID: "pi_1"}, nil
}

func (p *fakeProvider) Refund(ctx context.Context, providerPaymentID string, amount float64, currency string) (*domain.RefundResult, error) {
	p.refunds++
	if p.refundErr != nil {
		return nil, p.refundErr
	}
	if p.refundResult != nil {
		return p.refundResult, nil
	}
	return &domain.RefundResult{RefundID: "re_1", Amount: amount}, nil
}

// recordingSink captures published events.
type recordingSink struct {
	mu     sync.Mutex
	events []sharedDomain.DomainEvent
}

func (s *recordingSink) PublishAll(ctx context.Context, events []sharedDomain.DomainEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
}

func (s *recordingSink) routingKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.events))
	for _, e := range s.events {
		keys = append(keys, e.RoutingKey())
	}
	return keys
}

func testLevels() map[domain.Tier]*domain.Level {
	return map[domain.Tier]*domain.Level{
		domain.TierBasic: {
			ID: uuid.New(), Tier: domain.TierBasic, Price: 4.99,
			Currency: "EUR", Frequency: domain.FrequencyMonthly, PriceID: "price_basic",
		},
		domain.TierPremium: {
			ID: uuid.New(), Tier: domain.TierPremium, Price: 9.99,
			Currency: "EUR", Frequency: domain.FrequencyMonthly, PriceID: "price_premium",
		},
		domain.TierUltra: {
			ID: uuid.New(), Tier: domain.TierUltra, Price: 19.99,
			Currency: "EUR", Frequency: domain.FrequencyYearly, PriceID: "price_ultra",
		},
	}
}
