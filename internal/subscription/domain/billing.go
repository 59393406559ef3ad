package domain

import "time"

// ReactivationFallbackMonths is the policy default applied when a
// reactivation cannot derive a billing date from the cancellation time and
// plan frequency: bill one month from now. See
// NextBillingDateAfterReactivation.
const ReactivationFallbackMonths = 1

// Calculator computes billing dates from a subscription's current state and
// its plan's billing frequency. It is pure: the only clock dependency is the
// injectable now func, used exclusively by the reactivation fallback.
type Calculator struct {
	now func() time.Time
}

// NewCalculator creates a calculator using the real clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// NewCalculatorAt creates a calculator with an injected clock.
func NewCalculatorAt(now func() time.Time) *Calculator {
	if now == nil {
		now = time.Now
	}
	return &Calculator{now: now}
}

// NextBillingDate returns the next billing date for the subscription, or
// ok=false when no billing can be scheduled because the plan or its frequency
// is missing or unknown. The anchor is the existing next billing date, or the
// start date when none is set yet.
func (c *Calculator) NextBillingDate(sub *Subscription) (time.Time, bool) {
	level := sub.Level()
	if level == nil {
		return time.Time{}, false
	}
	months, ok := level.Frequency.Months()
	if !ok {
		return time.Time{}, false
	}

	anchor := sub.StartDate()
	if next := sub.NextBillingDate(); next != nil {
		anchor = *next
	}

	return anchor.AddDate(0, months, 0), true
}

// NextBillingDateAfterReactivation returns the billing date for a
// subscription coming back from cancellation, anchored on the cancellation
// time. When the cancellation time or the plan frequency is missing, it falls
// back to now plus ReactivationFallbackMonths.
func (c *Calculator) NextBillingDateAfterReactivation(sub *Subscription) time.Time {
	cancelledAt := sub.CancelledAt()
	level := sub.Level()

	if cancelledAt != nil && level != nil {
		if months, ok := level.Frequency.Months(); ok {
			return cancelledAt.AddDate(0, months, 0)
		}
	}

	return c.now().AddDate(0, ReactivationFallbackMonths, 0)
}
