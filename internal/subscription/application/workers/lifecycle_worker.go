package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/felixgeelhaar/subflow/internal/subscription/application"
	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
)

// DefaultSweepInterval is the default interval between lifecycle sweeps.
const DefaultSweepInterval = 1 * time.Hour

// DefaultBatchSize bounds how many subscriptions one sweep processes.
const DefaultBatchSize = 100

const sweepLockKey = "subflow:lifecycle-sweep"

// Locker is an advisory lock keeping concurrent worker replicas from running
// the same sweep cycle twice.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// LifecycleWorkerConfig configures the lifecycle worker.
type LifecycleWorkerConfig struct {
	Interval  time.Duration
	BatchSize int

	// TrialNoticeWindow is how far ahead of a trial's end the owner is
	// notified.
	TrialNoticeWindow time.Duration

	// ExpiryNoticeWindow is how far ahead of a subscription's end date the
	// owner is notified.
	ExpiryNoticeWindow time.Duration

	// CancelledRetention is how long a cancelled subscription is kept before
	// archival.
	CancelledRetention time.Duration

	// InactiveDeletion is how long an archived subscription is kept before
	// hard deletion.
	InactiveDeletion time.Duration
}

// DefaultLifecycleWorkerConfig returns the default configuration.
func DefaultLifecycleWorkerConfig() LifecycleWorkerConfig {
	return LifecycleWorkerConfig{
		Interval:           DefaultSweepInterval,
		BatchSize:          DefaultBatchSize,
		TrialNoticeWindow:  3 * 24 * time.Hour,
		ExpiryNoticeWindow: 7 * 24 * time.Hour,
		CancelledRetention: 90 * 24 * time.Hour,
		InactiveDeletion:   365 * 24 * time.Hour,
	}
}

// LifecycleWorker periodically sweeps the subscription base: it renews due
// subscriptions, retries failed payments, closes elapsed trials, expires
// ended subscriptions and enforces retention. One failing subscription never
// aborts its sweep; errors are logged and the sweep moves on.
type LifecycleWorker struct {
	subs     domain.Repository
	service  *application.Service
	notifier domain.Notifier
	states   domain.SweepStateRepository
	locker   Locker
	config   LifecycleWorkerConfig
	logger   *slog.Logger
	running  atomic.Bool
	stopCh   chan struct{}
	now      func() time.Time
}

// NewLifecycleWorker creates a lifecycle worker.
func NewLifecycleWorker(
	subs domain.Repository,
	service *application.Service,
	notifier domain.Notifier,
	states domain.SweepStateRepository,
	locker Locker,
	config LifecycleWorkerConfig,
	logger *slog.Logger,
) *LifecycleWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = noopNotifier{}
	}
	return &LifecycleWorker{
		subs:     subs,
		service:  service,
		notifier: notifier,
		states:   states,
		locker:   locker,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// Run starts the worker and blocks until the context is cancelled or Stop is
// called.
func (w *LifecycleWorker) Run(ctx context.Context) error {
	w.running.Store(true)
	w.logger.Info("lifecycle worker started",
		"interval", w.config.Interval,
		"batch_size", w.config.BatchSize,
	)

	// Run immediately on start
	w.RunCycle(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.running.Store(false)
			w.logger.Info("lifecycle worker stopped (context cancelled)")
			return ctx.Err()
		case <-w.stopCh:
			w.running.Store(false)
			w.logger.Info("lifecycle worker stopped (stop signal)")
			return nil
		case <-ticker.C:
			w.RunCycle(ctx)
		}
	}
}

// Stop signals the worker to stop gracefully.
func (w *LifecycleWorker) Stop() {
	if w.running.Load() {
		close(w.stopCh)
	}
}

// IsRunning returns true if the worker is currently running.
func (w *LifecycleWorker) IsRunning() bool {
	return w.running.Load()
}

// RunCycle executes one full sweep cycle under the advisory lock. Another
// replica holding the lock makes this cycle a no-op.
func (w *LifecycleWorker) RunCycle(ctx context.Context) {
	if w.locker != nil {
		acquired, err := w.locker.TryLock(ctx, sweepLockKey, w.config.Interval)
		if err != nil {
			w.logger.Error("failed to acquire sweep lock", "error", err)
			return
		}
		if !acquired {
			w.logger.Debug("sweep lock held elsewhere, skipping cycle")
			return
		}
		defer func() {
			if err := w.locker.Unlock(ctx, sweepLockKey); err != nil {
				w.logger.Error("failed to release sweep lock", "error", err)
			}
		}()
	}

	w.logger.Debug("starting lifecycle sweep cycle")

	w.runSweep(ctx, "renewals", w.sweepRenewals)
	w.runSweep(ctx, "payment_retries", w.sweepRetries)
	w.runSweep(ctx, "trial_notices", w.sweepTrialNotices)
	w.runSweep(ctx, "trial_endings", w.sweepTrialEndings)
	w.runSweep(ctx, "expiry_notices", w.sweepExpiryNotices)
	w.runSweep(ctx, "expirations", w.sweepExpirations)
	w.runSweep(ctx, "archival", w.sweepArchival)
	w.runSweep(ctx, "retention", w.sweepRetention)

	w.logger.Debug("lifecycle sweep cycle completed")
}

type sweepFunc func(ctx context.Context) (processed, failed int, err error)

func (w *LifecycleWorker) runSweep(ctx context.Context, name string, sweep sweepFunc) {
	if ctx.Err() != nil {
		return
	}

	processed, failed, err := sweep(ctx)

	state := &domain.SweepState{
		Name:      name,
		LastRunAt: w.now().UTC(),
		Processed: processed,
		Failed:    failed,
	}
	if err != nil {
		state.LastError = err.Error()
		w.logger.Error("sweep failed", "sweep", name, "error", err)
	} else if processed > 0 || failed > 0 {
		w.logger.Info("sweep completed", "sweep", name, "processed", processed, "failed", failed)
	}

	if w.states != nil {
		if recordErr := w.states.Record(ctx, state); recordErr != nil {
			w.logger.Error("failed to record sweep state", "sweep", name, "error", recordErr)
		}
	}
}

func (w *LifecycleWorker) sweepRenewals(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	due, err := w.subs.FindDueForRenewal(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}
		if err := w.service.ProcessRenewal(ctx, sub); err != nil {
			failed++
			w.logger.Error("renewal failed", "subscription_id", sub.ID(), "error", err)
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) sweepRetries(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	due, err := w.subs.FindDueForRetry(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range due {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}
		if err := w.service.ProcessRenewal(ctx, sub); err != nil {
			failed++
			w.logger.Error("payment retry failed", "subscription_id", sub.ID(), "error", err)
			continue
		}
		processed++
		if sub.Status() == domain.StatusPaymentFailed || sub.Status() == domain.StatusExpired {
			w.notify(ctx, "payment_failed", sub, w.notifier.PaymentFailed)
		}
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) sweepTrialNotices(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	ending, err := w.subs.FindTrialsEnding(ctx, now, now.Add(w.config.TrialNoticeWindow), w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, sub := range ending {
		w.notify(ctx, "trial_ending", sub, w.notifier.TrialEndingSoon)
	}
	return len(ending), 0, nil
}

func (w *LifecycleWorker) sweepTrialEndings(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	ended, err := w.subs.FindTrialsEndedBefore(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range ended {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}

		if err := sub.EndTrial(now); err != nil {
			failed++
			w.logger.Error("failed to end trial", "subscription_id", sub.ID(), "error", err)
			continue
		}
		if err := w.subs.Save(ctx, sub); err != nil {
			failed++
			w.logger.Error("failed to save ended trial", "subscription_id", sub.ID(), "error", err)
			continue
		}

		w.notify(ctx, "trial_ended", sub, w.notifier.TrialEnded)

		// First post-trial charge.
		if err := w.service.ProcessRenewal(ctx, sub); err != nil {
			failed++
			w.logger.Error("post-trial billing failed", "subscription_id", sub.ID(), "error", err)
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) sweepExpiryNotices(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	expiring, err := w.subs.FindExpiring(ctx, now, now.Add(w.config.ExpiryNoticeWindow), w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	for _, sub := range expiring {
		w.notify(ctx, "expiring_soon", sub, w.notifier.SubscriptionExpiringSoon)
	}
	return len(expiring), 0, nil
}

func (w *LifecycleWorker) sweepExpirations(ctx context.Context) (int, int, error) {
	now := w.now().UTC()
	expired, err := w.subs.FindExpiredBefore(ctx, now, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range expired {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}

		if err := sub.Expire(now); err != nil {
			failed++
			w.logger.Error("failed to expire subscription", "subscription_id", sub.ID(), "error", err)
			continue
		}
		if err := w.subs.Save(ctx, sub); err != nil {
			failed++
			w.logger.Error("failed to save expired subscription", "subscription_id", sub.ID(), "error", err)
			continue
		}

		w.notify(ctx, "expired", sub, w.notifier.SubscriptionExpired)
		processed++
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) sweepArchival(ctx context.Context) (int, int, error) {
	cutoff := w.now().UTC().Add(-w.config.CancelledRetention)
	stale, err := w.subs.FindCancelledBefore(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range stale {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}

		if err := sub.Archive(w.now().UTC()); err != nil {
			failed++
			w.logger.Error("failed to archive subscription", "subscription_id", sub.ID(), "error", err)
			continue
		}
		if err := w.subs.Save(ctx, sub); err != nil {
			failed++
			w.logger.Error("failed to save archived subscription", "subscription_id", sub.ID(), "error", err)
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) sweepRetention(ctx context.Context) (int, int, error) {
	cutoff := w.now().UTC().Add(-w.config.InactiveDeletion)
	stale, err := w.subs.FindArchivedInactiveBefore(ctx, cutoff, w.config.BatchSize)
	if err != nil {
		return 0, 0, err
	}

	processed, failed := 0, 0
	for _, sub := range stale {
		if ctx.Err() != nil {
			return processed, failed, ctx.Err()
		}

		if err := w.subs.Delete(ctx, sub.ID()); err != nil {
			failed++
			w.logger.Error("failed to delete archived subscription", "subscription_id", sub.ID(), "error", err)
			continue
		}
		processed++
	}
	return processed, failed, nil
}

func (w *LifecycleWorker) notify(ctx context.Context, kind string, sub *domain.Subscription, fn func(context.Context, *domain.Subscription) error) {
	if err := fn(ctx, sub); err != nil {
		w.logger.Warn("notification failed",
			"kind", kind,
			"subscription_id", sub.ID(),
			"error", err,
		)
	}
}

// noopNotifier drops every notice.
type noopNotifier struct{}

func (noopNotifier) TrialEndingSoon(context.Context, *domain.Subscription) error          { return nil }
func (noopNotifier) TrialEnded(context.Context, *domain.Subscription) error               { return nil }
func (noopNotifier) SubscriptionExpiringSoon(context.Context, *domain.Subscription) error { return nil }
func (noopNotifier) SubscriptionExpired(context.Context, *domain.Subscription) error      { return nil }
func (noopNotifier) PaymentFailed(context.Context, *domain.Subscription) error            { return nil }
