package usecase

import (
	"context"
	"errors"
	"fmt"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"graceq/pkg/backoff"
	"time"

	"github.com/rs/zerolog/log"
)

// Outcome lists the targets an execution reached and the ones it skipped.
type Outcome struct {
	Delivered []string
	Failed    []string
}

// Dispatcher invokes a claimed action's effect on its live targets.
type Dispatcher struct {
	Store         ports.Store
	Counters      ports.CounterStore
	Locator       ports.Locator
	Notifier      ports.Notifier
	Reporter      ports.Reporter
	TargetTimeout time.Duration
	// Retention keeps fired actions around for late cancels; zero removes them at once.
	Retention time.Duration
	Now       func() time.Time
}

var (
	// ErrNoTargets means no live target was located and nothing ran.
	ErrNoTargets = errors.New("no live target")
	// ErrFireUnrecorded means the targets ran but the fired state was not stored.
	ErrFireUnrecorded = errors.New("fired state not recorded")
)

// Execute runs a once per claimed action. A target that fails is logged and
// skipped. With no target located at all the action is left pending and
// claimed and ErrNoTargets is returned. Otherwise the action is marked fired
// whatever the targets did; the error is ErrTargetUnreachable when no target
// was reached and ErrFireUnrecorded when the store could not record it.
func (d *Dispatcher) Execute(ctx context.Context, a domain.Action) (Outcome, error) {
	logger := log.Ctx(ctx).With().Str("action_id", a.ID).Logger()

	var out Outcome
	targets, err := d.Locator.Locate(ctx, a.Payload)
	if err != nil {
		logger.Warn().Err(err).Msg("locating targets failed")
	}
	if len(targets) == 0 {
		return out, fmt.Errorf("%w: %s", ErrNoTargets, a.ID)
	}

	for _, t := range targets {
		tctx, cancel := context.WithTimeout(ctx, d.targetTimeout())
		err := t.Execute(tctx, a)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Str("target", t.ID()).Msg("target unreachable, skipping")
			out.Failed = append(out.Failed, t.ID())
			continue
		}
		out.Delivered = append(out.Delivered, t.ID())
	}

	logger.Info().
		Strs("delivered", out.Delivered).
		Strs("failed", out.Failed).
		Msg("action dispatched")

	if err := d.Complete(ctx, a); err != nil {
		return out, err
	}
	if len(out.Delivered) == 0 {
		return out, fmt.Errorf("%w: %s", domain.ErrTargetUnreachable, a.ID)
	}
	return out, nil
}

// Complete records a dispatched action as fired. It may be called again
// after ErrFireUnrecorded; counters and reports follow the real transition
// only.
func (d *Dispatcher) Complete(ctx context.Context, a domain.Action) error {
	logger := log.Ctx(ctx).With().Str("action_id", a.ID).Logger()

	now := d.now()
	var fired bool
	err := backoff.Retry(ctx, 3, 100*time.Millisecond, 2*time.Second, func() error {
		var err error
		fired, err = d.Store.MarkFired(ctx, a.ID, now)
		return err
	})
	if err != nil {
		logger.Error().Err(err).Msg("marking action fired failed")
		return fmt.Errorf("%w: %w", ErrFireUnrecorded, err)
	}
	if !fired {
		return nil
	}

	if err := d.Counters.Add(ctx, domain.Counters{Fired: 1, TimeSaved: a.Delay}); err != nil {
		logger.Error().Err(err).Msg("updating counters failed")
	}
	d.reporter().Executed(ctx, a)
	d.notifier().Dismiss(ctx, a)
	if d.Retention == 0 {
		if err := d.Store.Remove(ctx, a.ID); err != nil {
			logger.Warn().Err(err).Msg("removing fired action failed, sweep will retry")
		}
	}
	logger.Info().Msg("action fired")
	return nil
}

func (d *Dispatcher) targetTimeout() time.Duration {
	if d.TargetTimeout <= 0 {
		return 5 * time.Second
	}
	return d.TargetTimeout
}

func (d *Dispatcher) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

func (d *Dispatcher) notifier() ports.Notifier {
	if d.Notifier == nil {
		return Nop{}
	}
	return d.Notifier
}

func (d *Dispatcher) reporter() ports.Reporter {
	if d.Reporter == nil {
		return Nop{}
	}
	return d.Reporter
}
