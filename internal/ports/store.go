package ports

import (
	"context"
	"graceq/internal/domain"
	"time"
)

// Store is the durable record of actions and the single source of truth.
// Transition methods return true only on a genuine pending -> terminal
// transition; absent or already terminal ids yield false and no error.
type Store interface {
	Put(ctx context.Context, a domain.Action) error
	Get(ctx context.Context, id string) (domain.Action, error)
	// Claim marks a pending, unclaimed action as taken for dispatch.
	Claim(ctx context.Context, id string, now time.Time) (domain.Action, bool, error)
	// Release drops the claim on a pending action that was never executed.
	Release(ctx context.Context, id string) (bool, error)
	// MarkCancelled only succeeds on a pending, unclaimed action.
	MarkCancelled(ctx context.Context, id string, now time.Time) (bool, error)
	MarkFired(ctx context.Context, id string, now time.Time) (bool, error)
	// MarkExpired only succeeds on a pending, unclaimed action.
	MarkExpired(ctx context.Context, id string, now time.Time) (bool, error)
	// ExpireStale expires a pending action whose claim is older than claimedBefore.
	ExpireStale(ctx context.Context, id string, claimedBefore, now time.Time) (bool, error)
	Remove(ctx context.Context, id string) error
	ListPending(ctx context.Context) ([]domain.Action, error)
	ListTerminalBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

type CounterStore interface {
	Add(ctx context.Context, delta domain.Counters) error
	Snapshot(ctx context.Context) (domain.Counters, error)
}

type SettingsStore interface {
	Load(ctx context.Context) (domain.Settings, error)
	Save(ctx context.Context, s domain.Settings) error
}
