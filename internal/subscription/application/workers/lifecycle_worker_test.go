package workers

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
	"github.com/felixgeelhaar/subflow/internal/subscription/application"
	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

type memRepo struct {
	mu      sync.Mutex
	subs    map[uuid.UUID]*domain.Subscription
	deleted []uuid.UUID
}

func newMemRepo() *memRepo {
	return &memRepo{subs: make(map[uuid.UUID]*domain.Subscription)}
}

func (r *memRepo) Save(ctx context.Context, sub *domain.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.ID()] = sub
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	r.deleted = append(r.deleted, id)
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id], nil
}

func (r *memRepo) FindByUserID(ctx context.Context, userID uuid.UUID) ([]*domain.Subscription, error) {
	return nil, nil
}

func (r *memRepo) all() []*domain.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, sub)
	}
	return out
}

func (r *memRepo) FindDueForRenewal(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		next := sub.NextBillingDate()
		if sub.Status() == domain.StatusActive && sub.AutoRenew() && next != nil && !next.After(due) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindDueForRetry(ctx context.Context, due time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		retry := sub.NextRetryDate()
		if sub.Status() == domain.StatusPaymentFailed && retry != nil && !retry.After(due) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindTrialsEnding(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.TrialEndDate()
		if sub.Status() == domain.StatusTrial && end != nil && !end.Before(from) && end.Before(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindTrialsEndedBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.TrialEndDate()
		if sub.Status() == domain.StatusTrial && end != nil && end.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindExpiring(ctx context.Context, from, to time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.EndDate()
		if sub.Status() == domain.StatusActive && end != nil && !end.Before(from) && end.Before(to) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindExpiredBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		end := sub.EndDate()
		if sub.Status() == domain.StatusActive && end != nil && end.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindCancelledBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		at := sub.CancelledAt()
		if sub.Status() == domain.StatusCancelled && at != nil && at.Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindArchivedInactiveBefore(ctx context.Context, before time.Time, limit int) ([]*domain.Subscription, error) {
	var out []*domain.Subscription
	for _, sub := range r.all() {
		if sub.Status() == domain.StatusArchived && sub.LastActivity().Before(before) {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (r *memRepo) FindActiveOverlapping(ctx context.Context, from, to time.Time) ([]*domain.Subscription, error) {
	return nil, nil
}

func (r *memRepo) CountByStatus(ctx context.Context, status domain.Status) (int64, error) {
	return 0, nil
}

func (r *memRepo) CountCreatedBetween(ctx context.Context, from, to time.Time) (int64, error) {
	return 0, nil
}

func (r *memRepo) CountByTier(ctx context.Context) (map[domain.Tier]int64, error) {
	return nil, nil
}

func (r *memRepo) CountActiveStartedBefore(ctx context.Context, before time.Time) (int64, error) {
	return 0, nil
}

type memLevelRepo struct{ level *domain.Level }

func (r memLevelRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.Level, error) {
	return r.level, nil
}

func (r memLevelRepo) FindByTier(ctx context.Context, tier domain.Tier) (*domain.Level, error) {
	return r.level, nil
}

func (r memLevelRepo) List(ctx context.Context) ([]*domain.Level, error) {
	return []*domain.Level{r.level}, nil
}

type memPromoRepo struct{}

func (memPromoRepo) FindByCode(ctx context.Context, code string) (*domain.Promotion, error) {
	return nil, nil
}

type memPaymentRepo struct{}

func (memPaymentRepo) Append(ctx context.Context, payment *domain.Payment) error { return nil }
func (memPaymentRepo) ListBySubscription(ctx context.Context, id uuid.UUID) ([]*domain.Payment, error) {
	return nil, nil
}

type scriptedProvider struct {
	mu      sync.Mutex
	fail    bool
	charges int
}

func (p *scriptedProvider) CreateSubscription(ctx context.Context, userID uuid.UUID, level *domain.Level) (*domain.ProviderSubscription, error) {
	return &domain.ProviderSubscription{SubscriptionID: "sub_p"}, nil
}

func (p *scriptedProvider) Charge(ctx context.Context, sub *domain.Subscription) (*domain.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.charges++
	if p.fail {
		return &domain.ChargeResult{Succeeded: false, FailureReason: "declined"}, nil
	}
	return &domain.ChargeResult{Succeeded: true, PaymentID: "pi_1"}, nil
}

func (p *scriptedProvider) Refund(ctx context.Context, id string, amount float64, currency string) (*domain.RefundResult, error) {
	return &domain.RefundResult{RefundID: "re_1", Amount: amount}, nil
}

type nullSink struct{}

func (nullSink) PublishAll(ctx context.Context, events []sharedDomain.DomainEvent) {}

type recordingNotifier struct {
	mu    sync.Mutex
	kinds []string
}

func (n *recordingNotifier) record(kind string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.kinds = append(n.kinds, kind)
	return nil
}

func (n *recordingNotifier) TrialEndingSoon(ctx context.Context, sub *domain.Subscription) error {
	return n.record("trial_ending")
}

func (n *recordingNotifier) TrialEnded(ctx context.Context, sub *domain.Subscription) error {
	return n.record("trial_ended")
}

func (n *recordingNotifier) SubscriptionExpiringSoon(ctx context.Context, sub *domain.Subscription) error {
	return n.record("expiring_soon")
}

func (n *recordingNotifier) SubscriptionExpired(ctx context.Context, sub *domain.Subscription) error {
	return n.record("expired")
}

func (n *recordingNotifier) PaymentFailed(ctx context.Context, sub *domain.Subscription) error {
	return n.record("payment_failed")
}

type memStateRepo struct {
	mu     sync.Mutex
	states map[string]*domain.SweepState
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{states: make(map[string]*domain.SweepState)}
}

func (r *memStateRepo) Get(ctx context.Context, name string) (*domain.SweepState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[name], nil
}

func (r *memStateRepo) Record(ctx context.Context, state *domain.SweepState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.Name] = state
	return nil
}

type stubLocker struct {
	held    bool
	locks   int
	unlocks int
}

func (l *stubLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.locks++
	return !l.held, nil
}

func (l *stubLocker) Unlock(ctx context.Context, key string) error {
	l.unlocks++
	return nil
}

type workerFixture struct {
	repo     *memRepo
	provider *scriptedProvider
	notifier *recordingNotifier
	states   *memStateRepo
	locker   *stubLocker
	worker   *LifecycleWorker
	level    *domain.Level
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()

	f := &workerFixture{
		repo:     newMemRepo(),
		provider: &scriptedProvider{},
		notifier: &recordingNotifier{},
		states:   newMemStateRepo(),
		locker:   &stubLocker{},
		level: &domain.Level{
			ID: uuid.New(), Tier: domain.TierPremium, Price: 9.99,
			Currency: "EUR", Frequency: domain.FrequencyMonthly, PriceID: "price_p",
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := application.NewService(
		f.repo,
		memLevelRepo{level: f.level},
		memPromoRepo{},
		memPaymentRepo{},
		f.provider,
		nullSink{},
		application.DefaultConfig(),
		logger,
	)

	f.worker = NewLifecycleWorker(f.repo, svc, f.notifier, f.states, f.locker, DefaultLifecycleWorkerConfig(), logger)
	return f
}

func (f *workerFixture) seedActive(t *testing.T, start time.Time) *domain.Subscription {
	t.Helper()

	sub, err := domain.NewSubscription(uuid.New(), f.level, "cus_1", start)
	require.NoError(t, err)
	require.NoError(t, sub.Activate(domain.NewCalculator(), "sub_p", "ch_1", start))
	sub.ClearDomainEvents()
	require.NoError(t, f.repo.Save(context.Background(), sub))
	return sub
}

func TestRunCycle_RenewsDueSubscriptions(t *testing.T) {
	f := newWorkerFixture(t)
	// Started two months ago: the first billing date is one month overdue.
	sub := f.seedActive(t, time.Now().UTC().AddDate(0, -2, 0))

	f.worker.RunCycle(context.Background())

	require.NotNil(t, sub.NextBillingDate())
	assert.True(t, sub.NextBillingDate().After(time.Now().UTC().AddDate(0, -1, -1)))
	assert.Equal(t, 1, f.provider.charges)

	state, err := f.states.Get(context.Background(), "renewals")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Processed)
	assert.Zero(t, state.Failed)
}

func TestRunCycle_SkipsWhenLockHeld(t *testing.T) {
	f := newWorkerFixture(t)
	f.locker.held = true
	f.seedActive(t, time.Now().UTC().AddDate(0, -2, 0))

	f.worker.RunCycle(context.Background())

	assert.Zero(t, f.provider.charges)
	state, _ := f.states.Get(context.Background(), "renewals")
	assert.Nil(t, state)
}

func TestRunCycle_RetriesFailedPayments(t *testing.T) {
	f := newWorkerFixture(t)
	sub := f.seedActive(t, time.Now().UTC().AddDate(0, -1, 0))

	retry := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, sub.MarkPaymentFailed("declined", &retry, time.Now().UTC()))
	sub.ClearDomainEvents()

	f.worker.RunCycle(context.Background())

	assert.Equal(t, domain.StatusActive, sub.Status())
	assert.Zero(t, sub.RetryCount())
}

func TestRunCycle_ClosesElapsedTrialsAndBills(t *testing.T) {
	f := newWorkerFixture(t)
	start := time.Now().UTC().AddDate(0, 0, -20)
	sub, err := domain.NewTrialSubscription(uuid.New(), f.level, "cus_1", start, start.AddDate(0, 0, 14))
	require.NoError(t, err)
	sub.ClearDomainEvents()
	require.NoError(t, f.repo.Save(context.Background(), sub))

	f.worker.RunCycle(context.Background())

	assert.Equal(t, domain.StatusActive, sub.Status())
	assert.Contains(t, f.notifier.kinds, "trial_ended")
	assert.Equal(t, 1, f.provider.charges)
}

func TestRunCycle_NotifiesEndingTrials(t *testing.T) {
	f := newWorkerFixture(t)
	start := time.Now().UTC().AddDate(0, 0, -13)
	sub, err := domain.NewTrialSubscription(uuid.New(), f.level, "cus_1", start, start.AddDate(0, 0, 14))
	require.NoError(t, err)
	sub.ClearDomainEvents()
	require.NoError(t, f.repo.Save(context.Background(), sub))

	f.worker.RunCycle(context.Background())

	assert.Equal(t, domain.StatusTrial, sub.Status())
	assert.Contains(t, f.notifier.kinds, "trial_ending")
	assert.Zero(t, f.provider.charges)
}

func TestRunCycle_ExpiresEndedSubscriptions(t *testing.T) {
	f := newWorkerFixture(t)
	sub := f.seedActive(t, time.Now().UTC().AddDate(0, 0, -30))
	sub.SetAutoRenew(false)
	require.NoError(t, sub.SetEndDate(time.Now().UTC().AddDate(0, 0, -1)))

	f.worker.RunCycle(context.Background())

	assert.Equal(t, domain.StatusExpired, sub.Status())
	assert.Contains(t, f.notifier.kinds, "expired")
}

func TestRunCycle_ArchivesStaleCancellations(t *testing.T) {
	f := newWorkerFixture(t)
	sub := f.seedActive(t, time.Now().UTC().AddDate(0, -4, 0))
	require.NoError(t, sub.Cancel("user request", time.Now().UTC().AddDate(0, 0, -100)))
	sub.ClearDomainEvents()

	f.worker.RunCycle(context.Background())

	assert.Equal(t, domain.StatusArchived, sub.Status())
}

func TestRunCycle_DeletesExpiredRetention(t *testing.T) {
	f := newWorkerFixture(t)
	sub := f.seedActive(t, time.Now().UTC().AddDate(-2, 0, 0))
	require.NoError(t, sub.Cancel("user request", time.Now().UTC().AddDate(-2, 1, 0)))
	require.NoError(t, sub.Archive(time.Now().UTC().AddDate(-1, -1, 0)))
	sub.ClearDomainEvents()

	f.worker.RunCycle(context.Background())

	assert.Contains(t, f.repo.deleted, sub.ID())
}

func TestRunCycle_IsolatesPerSubscriptionFailures(t *testing.T) {
	f := newWorkerFixture(t)
	f.provider.fail = true
	f.seedActive(t, time.Now().UTC().AddDate(0, -2, 0))
	f.seedActive(t, time.Now().UTC().AddDate(0, -2, 0))

	f.worker.RunCycle(context.Background())

	// A declined charge is a processed renewal outcome, not a sweep failure:
	// both subscriptions end up in PAYMENT_FAILED with retries scheduled.
	state, err := f.states.Get(context.Background(), "renewals")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.Processed)

	for _, sub := range f.repo.all() {
		assert.Equal(t, domain.StatusPaymentFailed, sub.Status())
		require.NotNil(t, sub.NextRetryDate())
	}
}

func TestWorker_StopEndsRun(t *testing.T) {
	f := newWorkerFixture(t)
	cfg := DefaultLifecycleWorkerConfig()
	cfg.Interval = 10 * time.Millisecond
	f.worker.config = cfg

	done := make(chan error, 1)
	go func() { done <- f.worker.Run(context.Background()) }()

	time.Sleep(30 * time.Millisecond)
	f.worker.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, f.worker.IsRunning())
}