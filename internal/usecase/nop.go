package usecase

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"time"
)

var (
	_ ports.Notifier = Nop{}
	_ ports.Reporter = Nop{}
)

// Nop swallows notifications and outcome reports.
type Nop struct{}

func (Nop) Show(context.Context, domain.Action, time.Duration) {}
func (Nop) Dismiss(context.Context, domain.Action)             {}
func (Nop) CancelRequests() <-chan string                      { return nil }
func (Nop) Executed(context.Context, domain.Action)            {}
func (Nop) Expired(context.Context, domain.Action)             {}
