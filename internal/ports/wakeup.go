package ports

import (
	"context"
	"time"
)

type FireFunc func(ctx context.Context, id string)

// Wakeups is a timer facility asking the scheduler to re-check an action.
// It is advisory: triggers may be lost, late or duplicated.
type Wakeups interface {
	Arm(ctx context.Context, id string, at time.Time) error
	// Disarm is a no-op for unknown or already fired ids.
	Disarm(ctx context.Context, id string) error
	// Run delivers fired ids to fire until ctx is done.
	Run(ctx context.Context, fire FireFunc) error
}
