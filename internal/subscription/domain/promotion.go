package domain

import (
	"time"

	"github.com/google/uuid"
)

// Promotion is an optional discount applied to a subscription. Validity is
// re-checked against the current time whenever it is applied, never cached.
type Promotion struct {
	ID                 uuid.UUID
	Code               string
	DiscountPercentage int
	StartDate          time.Time
	EndDate            time.Time
	Active             bool
	Description        string
}

// ValidAt reports whether the promotion may be applied at the given time.
func (p *Promotion) ValidAt(now time.Time) bool {
	if p == nil || !p.Active {
		return false
	}
	return p.StartDate.Before(now) && p.EndDate.After(now)
}
