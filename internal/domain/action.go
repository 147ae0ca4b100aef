package domain

import "time"

type ActionState string

const (
	StatePending   ActionState = "pending"
	StateCancelled ActionState = "cancelled"
	StateFired     ActionState = "fired"
	StateExpired   ActionState = "expired"
)

// Terminal reports whether no further transitions are possible from s.
func (s ActionState) Terminal() bool {
	return s == StateCancelled || s == StateFired || s == StateExpired
}

// Payload locates the execution target at fire time. It carries references
// only, never the content of the deferred operation.
type Payload struct {
	SessionID   string            `json:"session_id,omitempty"`
	Scope       string            `json:"scope,omitempty"`
	DocumentRef string            `json:"document_ref,omitempty"`
	Mode        TargetMode        `json:"mode,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

// TargetMode selects how live targets are located for a payload.
type TargetMode string

const (
	// ModeOrigin targets the originating session, falling back to the
	// sessions matching Scope when it is gone.
	ModeOrigin TargetMode = "origin"
	// ModeBroadcast targets every live session matching Scope.
	ModeBroadcast TargetMode = "broadcast"
)

type Action struct {
	ID            string        `json:"id"`
	State         ActionState   `json:"state"`
	CreatedAt     time.Time     `json:"created_at"`
	FireAt        time.Time     `json:"fire_at"`
	Delay         time.Duration `json:"delay"`
	Payload       Payload       `json:"payload"`
	SourceEnabled bool          `json:"source_enabled"`
	// ClaimedAt is set once a dispatcher has taken the action for execution.
	ClaimedAt time.Time `json:"claimed_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a Action) Claimed() bool { return !a.ClaimedAt.IsZero() }

// Remaining is the authoritative time left before the action is due.
func (a Action) Remaining(now time.Time) time.Duration {
	if d := a.FireAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Due reports whether the action's fire time has been reached.
func (a Action) Due(now time.Time) bool {
	return !now.Before(a.FireAt)
}
