package usecase

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/ports"
)

var (
	_ ports.Locator = OriginLocator{}
	_ ports.Locator = BroadcastLocator{}
	_ ports.Locator = ModeLocator{}
)

// OriginLocator targets the session that submitted the action. When that
// session is gone it falls back to the live sessions matching the scope.
type OriginLocator struct {
	Sessions ports.Sessions
}

func (l OriginLocator) Locate(_ context.Context, p domain.Payload) ([]ports.Target, error) {
	if p.SessionID != "" {
		if t, ok := l.Sessions.Session(p.SessionID); ok {
			return []ports.Target{t}, nil
		}
	}
	if p.Scope == "" {
		return nil, nil
	}
	return l.Sessions.Match(p.Scope), nil
}

// BroadcastLocator targets every live session matching the scope.
type BroadcastLocator struct {
	Sessions ports.Sessions
}

func (l BroadcastLocator) Locate(_ context.Context, p domain.Payload) ([]ports.Target, error) {
	if p.Scope == "" {
		return nil, nil
	}
	return l.Sessions.Match(p.Scope), nil
}

// ModeLocator picks a locator by the payload's target mode.
type ModeLocator struct {
	Origin    ports.Locator
	Broadcast ports.Locator
}

func NewLocator(sessions ports.Sessions) ModeLocator {
	return ModeLocator{
		Origin:    OriginLocator{Sessions: sessions},
		Broadcast: BroadcastLocator{Sessions: sessions},
	}
}

func (l ModeLocator) Locate(ctx context.Context, p domain.Payload) ([]ports.Target, error) {
	if p.Mode == domain.ModeBroadcast {
		return l.Broadcast.Locate(ctx, p)
	}
	return l.Origin.Locate(ctx, p)
}
