package domain

import (
	"errors"
	"time"

	sharedDomain "github.com/felixgeelhaar/subflow/internal/shared/domain"
	"github.com/google/uuid"
)

var (
	ErrLevelRequired      = errors.New("subscription level is required")
	ErrEndBeforeStart     = errors.New("end date cannot be before start date")
	ErrTrialWindowInvalid = errors.New("trial end must be after trial start")
	ErrNotActive          = errors.New("subscription is not active")
	ErrNotCancellable     = errors.New("subscription cannot be cancelled in its current state")
	ErrAlreadyCancelled   = errors.New("subscription is already cancelled")
	ErrNotCancelled       = errors.New("subscription is not cancelled")
	ErrNotInTrial         = errors.New("subscription is not in a trial period")
	ErrNotExpirable       = errors.New("subscription cannot expire in its current state")
	ErrNotArchivable      = errors.New("subscription cannot be archived in its current state")
	ErrAutoRenewDisabled  = errors.New("auto-renew is disabled")
	ErrPromotionInvalid   = errors.New("promotion is inactive or outside its validity window")
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusTrial         Status = "TRIAL"
	StatusTrialEnded    Status = "TRIAL_ENDED"
	StatusActive        Status = "ACTIVE"
	StatusPaymentFailed Status = "PAYMENT_FAILED"
	StatusCancelled     Status = "CANCELLED"
	StatusExpired       Status = "EXPIRED"
	StatusInactive      Status = "INACTIVE"
	StatusArchived      Status = "ARCHIVED"
)

// IsValid checks if the status is one of the known lifecycle states.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusTrial, StatusTrialEnded, StatusActive,
		StatusPaymentFailed, StatusCancelled, StatusExpired,
		StatusInactive, StatusArchived:
		return true
	default:
		return false
	}
}

// Subscription is the aggregate root of the billing lifecycle. It is mutated
// exclusively through its transition methods; each transition validates the
// current state, stamps the relevant dates, and records the domain events the
// rest of the system must hear about.
type Subscription struct {
	sharedDomain.BaseAggregateRoot

	userID    uuid.UUID
	level     *Level
	promotion *Promotion
	status    Status

	startDate      time.Time
	endDate        *time.Time
	trialStartDate *time.Time
	trialEndDate   *time.Time

	nextBillingDate *time.Time
	nextRenewalDate *time.Time
	nextRetryDate   *time.Time

	autoRenew    bool
	cancelledAt  *time.Time
	lastActivity time.Time

	customerID           string
	stripeSubscriptionID string
	stripeChargeID       string
	priceID              string

	lastPaymentError string
	retryCount       int

	refundDate   *time.Time
	refundAmount float64

	price    float64
	currency string
}

// NewSubscription creates a subscription in PENDING, awaiting its first
// successful billing.
func NewSubscription(userID uuid.UUID, level *Level, customerID string, start time.Time) (*Subscription, error) {
	if level == nil {
		return nil, ErrLevelRequired
	}

	sub := &Subscription{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		userID:            userID,
		level:             level,
		status:            StatusPending,
		startDate:         start,
		autoRenew:         true,
		customerID:        customerID,
		priceID:           level.PriceID,
		price:             level.Price,
		currency:          level.Currency,
		lastActivity:      start,
	}

	sub.AddDomainEvent(NewSubscriptionCreated(sub))

	return sub, nil
}

// NewTrialSubscription creates a subscription in TRIAL with the given trial
// window.
func NewTrialSubscription(userID uuid.UUID, level *Level, customerID string, trialStart, trialEnd time.Time) (*Subscription, error) {
	if !trialEnd.After(trialStart) {
		return nil, ErrTrialWindowInvalid
	}

	sub, err := NewSubscription(userID, level, customerID, trialStart)
	if err != nil {
		return nil, err
	}

	sub.status = StatusTrial
	sub.trialStartDate = &trialStart
	sub.trialEndDate = &trialEnd
	return sub, nil
}

// Getters
func (s *Subscription) UserID() uuid.UUID             { return s.userID }
func (s *Subscription) Level() *Level                 { return s.level }
func (s *Subscription) Promotion() *Promotion         { return s.promotion }
func (s *Subscription) Status() Status                { return s.status }
func (s *Subscription) StartDate() time.Time          { return s.startDate }
func (s *Subscription) EndDate() *time.Time           { return s.endDate }
func (s *Subscription) TrialStartDate() *time.Time    { return s.trialStartDate }
func (s *Subscription) TrialEndDate() *time.Time      { return s.trialEndDate }
func (s *Subscription) NextBillingDate() *time.Time   { return s.nextBillingDate }
func (s *Subscription) NextRenewalDate() *time.Time   { return s.nextRenewalDate }
func (s *Subscription) NextRetryDate() *time.Time     { return s.nextRetryDate }
func (s *Subscription) AutoRenew() bool               { return s.autoRenew }
func (s *Subscription) CancelledAt() *time.Time       { return s.cancelledAt }
func (s *Subscription) LastActivity() time.Time       { return s.lastActivity }
func (s *Subscription) CustomerID() string            { return s.customerID }
func (s *Subscription) StripeSubscriptionID() string  { return s.stripeSubscriptionID }
func (s *Subscription) StripeChargeID() string        { return s.stripeChargeID }
func (s *Subscription) PriceID() string               { return s.priceID }
func (s *Subscription) LastPaymentError() string      { return s.lastPaymentError }
func (s *Subscription) RetryCount() int               { return s.retryCount }
func (s *Subscription) RefundDate() *time.Time        { return s.refundDate }
func (s *Subscription) RefundAmount() float64         { return s.refundAmount }
func (s *Subscription) Price() float64                { return s.price }
func (s *Subscription) Currency() string              { return s.currency }

// SetEndDate sets the subscription end date, preserving the ordering
// invariant against the start date.
func (s *Subscription) SetEndDate(end time.Time) error {
	if end.Before(s.startDate) {
		return ErrEndBeforeStart
	}
	s.endDate = &end
	s.Touch()
	return nil
}

// EffectiveNextBillingDate returns the date of the next charge per the
// current status: the renewal date while active with auto-renew, the trial
// end while in trial, nil in every state that cannot renew.
func (s *Subscription) EffectiveNextBillingDate() *time.Time {
	if (s.status != StatusActive && s.status != StatusTrial) || !s.autoRenew {
		return nil
	}
	if s.nextRenewalDate != nil {
		return s.nextRenewalDate
	}
	if s.status == StatusTrial && s.trialEndDate != nil {
		return s.trialEndDate
	}
	return nil
}

// Activate moves the subscription to ACTIVE after a successful billing,
// recording provider identifiers and scheduling the next billing date. It is
// valid from PENDING, TRIAL, TRIAL_ENDED and PAYMENT_FAILED (retry success).
func (s *Subscription) Activate(calc *Calculator, providerSubID, chargeID string, now time.Time) error {
	switch s.status {
	case StatusPending, StatusTrial, StatusTrialEnded, StatusPaymentFailed:
	default:
		return ErrNotActive
	}

	s.status = StatusActive
	s.stripeSubscriptionID = providerSubID
	s.stripeChargeID = chargeID
	s.lastPaymentError = ""
	s.nextRetryDate = nil
	s.retryCount = 0
	s.lastActivity = now

	if next, ok := calc.NextBillingDate(s); ok {
		s.nextBillingDate = &next
		s.nextRenewalDate = &next
	} else {
		s.nextBillingDate = nil
		s.nextRenewalDate = nil
	}

	s.Touch()
	return nil
}

// ChargeDue reports whether a scheduled charge is owed at now. A retry or a
// first post-trial charge is always owed; an active subscription owes one
// only when auto-renew is on and the stored next billing date has been
// reached. Callers consult this before touching the payment provider so a
// sweep entry processed twice cannot charge twice.
func (s *Subscription) ChargeDue(now time.Time) bool {
	switch s.status {
	case StatusPaymentFailed, StatusTrialEnded:
		return true
	case StatusActive:
		if !s.autoRenew {
			return false
		}
		return s.nextBillingDate != nil && !s.nextBillingDate.After(now)
	default:
		return false
	}
}

// Renew advances the billing date by one plan period after a successful
// scheduled charge. Re-invoking it for a due date that has already been
// renewed is a no-op, so a sweep entry processed twice cannot double-charge.
func (s *Subscription) Renew(calc *Calculator, now time.Time) error {
	if s.status != StatusActive {
		return ErrNotActive
	}
	if !s.autoRenew {
		return ErrAutoRenewDisabled
	}

	// Already advanced past now: this due date was renewed by an earlier call.
	if s.nextBillingDate != nil && s.nextBillingDate.After(now) {
		return nil
	}

	if next, ok := calc.NextBillingDate(s); ok {
		s.nextBillingDate = &next
		s.nextRenewalDate = &next
	} else {
		s.nextBillingDate = nil
		s.nextRenewalDate = nil
	}

	s.lastActivity = now
	s.Touch()
	s.AddDomainEvent(NewSubscriptionRenewed(s, now))
	return nil
}

// MarkPaymentFailed records a failed billing attempt reported by the payment
// provider and schedules the next retry, if any.
func (s *Subscription) MarkPaymentFailed(reason string, nextRetry *time.Time, now time.Time) error {
	switch s.status {
	case StatusActive, StatusPending, StatusTrialEnded, StatusPaymentFailed:
	default:
		return ErrNotActive
	}

	s.status = StatusPaymentFailed
	s.lastPaymentError = reason
	s.nextRetryDate = nextRetry
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.retryCount++
	s.lastActivity = now

	s.Touch()
	s.AddDomainEvent(NewPaymentFailed(s, reason, now))
	return nil
}

// Cancel moves the subscription to CANCELLED, stamping the cancellation time
// and clearing every scheduled billing date.
func (s *Subscription) Cancel(reason string, now time.Time) error {
	switch s.status {
	case StatusCancelled:
		return ErrAlreadyCancelled
	case StatusActive, StatusTrial, StatusPending, StatusPaymentFailed:
	default:
		return ErrNotCancellable
	}

	s.status = StatusCancelled
	s.cancelledAt = &now
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.nextRetryDate = nil
	s.lastActivity = now

	s.Touch()
	s.AddDomainEvent(NewSubscriptionCancelled(s, reason, now))
	s.AddDomainEvent(NewAccessCancelled(s, reason, now))
	return nil
}

// ChangeLevel switches the subscription to a new plan. Changing to the
// current tier is a no-op. The next billing date is recomputed from the new
// plan's frequency, anchored on the time of the change.
func (s *Subscription) ChangeLevel(newLevel *Level, now time.Time) error {
	if newLevel == nil {
		return ErrLevelRequired
	}
	if s.status != StatusActive {
		return ErrNotActive
	}

	oldLevel := s.level
	if oldLevel != nil && oldLevel.Tier == newLevel.Tier {
		return nil
	}

	s.level = newLevel
	s.priceID = newLevel.PriceID
	s.price = newLevel.Price
	s.currency = newLevel.Currency
	s.lastActivity = now

	if months, ok := newLevel.Frequency.Months(); ok {
		next := now.AddDate(0, months, 0)
		s.nextBillingDate = &next
		s.nextRenewalDate = &next
	} else {
		s.nextBillingDate = nil
		s.nextRenewalDate = nil
	}

	s.Touch()
	s.AddDomainEvent(NewSubscriptionLevelChanged(s, oldLevel, now))
	return nil
}

// Reactivate brings a cancelled subscription back to ACTIVE. The billing date
// is anchored on the cancellation time, falling back to the calculator's
// one-month policy default when that anchor or the plan frequency is missing.
func (s *Subscription) Reactivate(calc *Calculator, now time.Time) error {
	if s.status != StatusCancelled {
		return ErrNotCancelled
	}

	next := calc.NextBillingDateAfterReactivation(s)

	s.status = StatusActive
	s.nextBillingDate = &next
	s.nextRenewalDate = &next
	s.cancelledAt = nil
	s.lastActivity = now

	s.Touch()
	s.AddDomainEvent(NewSubscriptionReactivated(s, next, now))
	s.AddDomainEvent(NewAccessReactivated(s, now))
	return nil
}

// EndTrial moves a trial subscription whose window has elapsed to
// TRIAL_ENDED.
func (s *Subscription) EndTrial(now time.Time) error {
	if s.status != StatusTrial {
		return ErrNotInTrial
	}

	s.status = StatusTrialEnded
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.lastActivity = now
	s.Touch()
	return nil
}

// Expire marks the subscription EXPIRED, either because its end date passed
// or because payment retries are exhausted.
func (s *Subscription) Expire(now time.Time) error {
	switch s.status {
	case StatusActive, StatusPaymentFailed, StatusTrialEnded:
	default:
		return ErrNotExpirable
	}

	s.status = StatusExpired
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.nextRetryDate = nil
	s.lastActivity = now
	s.Touch()
	return nil
}

// Deactivate marks the subscription INACTIVE; it will never be billed until
// explicitly reconfigured.
func (s *Subscription) Deactivate(now time.Time) error {
	switch s.status {
	case StatusArchived:
		return ErrNotArchivable
	default:
	}

	s.status = StatusInactive
	s.autoRenew = false
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.nextRetryDate = nil
	s.lastActivity = now
	s.Touch()
	return nil
}

// Archive soft-deletes the subscription after its retention period. Hard
// deletion is the retention sweep's business, past this state.
func (s *Subscription) Archive(now time.Time) error {
	switch s.status {
	case StatusCancelled, StatusExpired, StatusInactive:
	default:
		return ErrNotArchivable
	}

	s.status = StatusArchived
	s.nextBillingDate = nil
	s.nextRenewalDate = nil
	s.nextRetryDate = nil
	s.lastActivity = now
	s.Touch()
	return nil
}

// ApplyPromotion attaches a promotion after re-checking its validity against
// the given time.
func (s *Subscription) ApplyPromotion(promo *Promotion, now time.Time) error {
	if !promo.ValidAt(now) {
		return ErrPromotionInvalid
	}

	s.promotion = promo
	s.Touch()
	return nil
}

// UpdatePaymentMethod records new payment-provider identifiers for the
// subscription's owner.
func (s *Subscription) UpdatePaymentMethod(customerID, priceID string, now time.Time) {
	if customerID != "" {
		s.customerID = customerID
	}
	if priceID != "" {
		s.priceID = priceID
	}
	s.lastActivity = now
	s.Touch()
	s.AddDomainEvent(NewPaymentMethodUpdated(s, now))
}

// RecordRefund stores the outcome of a provider refund.
func (s *Subscription) RecordRefund(amount float64, at time.Time) {
	s.refundDate = &at
	s.refundAmount = amount
	s.Touch()
}

// SetAutoRenew toggles automatic renewal.
func (s *Subscription) SetAutoRenew(enabled bool) {
	s.autoRenew = enabled
	s.Touch()
}

// RehydrateParams carries persisted state back into a Subscription.
type RehydrateParams struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int

	UserID    uuid.UUID
	Level     *Level
	Promotion *Promotion
	Status    Status

	StartDate      time.Time
	EndDate        *time.Time
	TrialStartDate *time.Time
	TrialEndDate   *time.Time

	NextBillingDate *time.Time
	NextRenewalDate *time.Time
	NextRetryDate   *time.Time

	AutoRenew    bool
	CancelledAt  *time.Time
	LastActivity time.Time

	CustomerID           string
	StripeSubscriptionID string
	StripeChargeID       string
	PriceID              string

	LastPaymentError string
	RetryCount       int

	RefundDate   *time.Time
	RefundAmount float64

	Price    float64
	Currency string
}

// Rehydrate recreates a subscription from persisted state without emitting
// events.
func Rehydrate(p RehydrateParams) *Subscription {
	return &Subscription{
		BaseAggregateRoot:    sharedDomain.RehydrateBaseAggregateRoot(p.ID, p.CreatedAt, p.UpdatedAt, p.Version),
		userID:               p.UserID,
		level:                p.Level,
		promotion:            p.Promotion,
		status:               p.Status,
		startDate:            p.StartDate,
		endDate:              p.EndDate,
		trialStartDate:       p.TrialStartDate,
		trialEndDate:         p.TrialEndDate,
		nextBillingDate:      p.NextBillingDate,
		nextRenewalDate:      p.NextRenewalDate,
		nextRetryDate:        p.NextRetryDate,
		autoRenew:            p.AutoRenew,
		cancelledAt:          p.CancelledAt,
		lastActivity:         p.LastActivity,
		customerID:           p.CustomerID,
		stripeSubscriptionID: p.StripeSubscriptionID,
		stripeChargeID:       p.StripeChargeID,
		priceID:              p.PriceID,
		lastPaymentError:     p.LastPaymentError,
		retryCount:           p.RetryCount,
		refundDate:           p.RefundDate,
		refundAmount:         p.RefundAmount,
		price:                p.Price,
		currency:             p.Currency,
	}
}
