package domain

import (
	"context"
	"time"
)

// SweepState is the persisted record of a lifecycle sweep run. One row per
// sweep name, upserted after every run so operators can see when a sweep
// last ran and how it fared.
type SweepState struct {
	Name      string
	LastRunAt time.Time
	Processed int
	Failed    int
	LastError string
}

// SweepStateRepository stores sweep run records.
type SweepStateRepository interface {
	Get(ctx context.Context, name string) (*SweepState, error)
	Record(ctx context.Context, state *SweepState) error
}
