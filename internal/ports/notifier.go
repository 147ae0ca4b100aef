package ports

import (
	"context"
	"graceq/internal/domain"
	"time"
)

// Notifier is the client-visible countdown. It is advisory only.
type Notifier interface {
	Show(ctx context.Context, a domain.Action, remaining time.Duration)
	Dismiss(ctx context.Context, a domain.Action)
	CancelRequests() <-chan string
}

// Reporter receives the one-shot outcome of every action that reached fire time.
type Reporter interface {
	Executed(ctx context.Context, a domain.Action)
	Expired(ctx context.Context, a domain.Action)
}
