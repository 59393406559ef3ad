package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

var ErrUnknownTier = errors.New("unknown subscription tier")

// Tier identifies a plan tier.
type Tier string

const (
	TierBasic   Tier = "BASIC"
	TierPremium Tier = "PREMIUM"
	TierUltra   Tier = "ULTRA"
)

// TierFromString parses a tier name case-insensitively.
func TierFromString(s string) (Tier, error) {
	switch Tier(strings.ToUpper(strings.TrimSpace(s))) {
	case TierBasic:
		return TierBasic, nil
	case TierPremium:
		return TierPremium, nil
	case TierUltra:
		return TierUltra, nil
	default:
		return "", ErrUnknownTier
	}
}

// IsValid checks if the tier is valid.
func (t Tier) IsValid() bool {
	switch t {
	case TierBasic, TierPremium, TierUltra:
		return true
	default:
		return false
	}
}

// BillingFrequency is the cadence at which a plan charges.
type BillingFrequency string

const (
	FrequencyMonthly   BillingFrequency = "MONTHLY"
	FrequencyQuarterly BillingFrequency = "QUARTERLY"
	FrequencyYearly    BillingFrequency = "YEARLY"
)

// frequencyMonths maps each known frequency to the number of months one
// billing period spans. An absent key means the frequency is unknown and no
// billing can be scheduled.
var frequencyMonths = map[BillingFrequency]int{
	FrequencyMonthly:   1,
	FrequencyQuarterly: 3,
	FrequencyYearly:    12,
}

// Months returns the billing period length in months. ok is false for an
// unknown or empty frequency.
func (f BillingFrequency) Months() (int, bool) {
	m, ok := frequencyMonths[f]
	return m, ok
}

// IsValid checks if the frequency is one of the known cadences.
func (f BillingFrequency) IsValid() bool {
	_, ok := frequencyMonths[f]
	return ok
}

// Level is an immutable plan definition. Levels are reference data owned by
// catalog administration and are only read by the lifecycle core.
type Level struct {
	ID        uuid.UUID
	Tier      Tier
	Price     float64
	Currency  string
	Frequency BillingFrequency
	Features  string

	// PriceID is the external payment-provider price identifier.
	PriceID string
}

// defaultTierPrices is the fallback pricing used by the stats aggregator when
// a level row carries no price.
var defaultTierPrices = map[Tier]float64{
	TierBasic:   4.99,
	TierPremium: 9.99,
	TierUltra:   19.99,
}

// EffectivePrice returns the level price, falling back to the tier default
// when the level carries no price. A nil level prices as BASIC.
func (l *Level) EffectivePrice() float64 {
	if l == nil {
		return defaultTierPrices[TierBasic]
	}
	if l.Price != 0 {
		return l.Price
	}
	if p, ok := defaultTierPrices[l.Tier]; ok {
		return p
	}
	return defaultTierPrices[TierBasic]
}
