package ports

import (
	"context"
	"graceq/internal/domain"
)

// Target is a live endpoint where a deferred effect is invoked.
type Target interface {
	ID() string
	Execute(ctx context.Context, a domain.Action) error
}

// Sessions is the registry of live targets.
type Sessions interface {
	Session(id string) (Target, bool)
	Match(scope string) []Target
}

type Locator interface {
	Locate(ctx context.Context, p domain.Payload) ([]Target, error)
}
