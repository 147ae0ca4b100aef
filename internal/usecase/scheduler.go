package usecase

import (
	"context"
	"errors"
	"fmt"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"graceq/pkg/backoff"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

type CancelOutcome string

const (
	Cancelled        CancelOutcome = "cancelled"
	AlreadyCancelled CancelOutcome = "already_cancelled"
	AlreadyFired     CancelOutcome = "already_fired"
	AlreadyExpired   CancelOutcome = "expired"
	Unknown          CancelOutcome = "unknown"
)

// Scheduler owns the action lifecycle. The store is the source of truth;
// wakeups only ask for a re-check and every decision re-reads the store.
type Scheduler struct {
	Store      ports.Store
	Counters   ports.CounterStore
	Settings   ports.SettingsStore
	Wakeups    ports.Wakeups
	Dispatcher *Dispatcher
	Notifier   ports.Notifier
	Reporter   ports.Reporter

	// Location is where after-hours and weekends are evaluated.
	Location      *time.Location
	SweepInterval time.Duration
	Retention     time.Duration
	ClaimTTL      time.Duration
	RetryDelay    time.Duration
	// TargetGrace is how long a due action waits for a live target, counted
	// from its fire time or the last recovery, whichever is later.
	TargetGrace time.Duration
	Now         func() time.Time

	inflight sync.WaitGroup

	mu          sync.Mutex
	recoveredAt time.Time
	// unrecorded holds actions whose targets ran but whose fired state
	// could not be stored yet.
	unrecorded map[string]struct{}
}

// Submit records a new pending action and arms its wakeup. settings is the
// snapshot taken at submission; later changes only matter through the
// global enable flag re-read at fire time.
func (s *Scheduler) Submit(ctx context.Context, p domain.Payload, settings domain.Settings) (domain.Action, error) {
	if !settings.Enabled {
		return domain.Action{}, domain.ErrDisabled
	}
	if err := settings.Validate(); err != nil {
		return domain.Action{}, err
	}
	if p.Mode == "" {
		p.Mode = domain.ModeOrigin
	}

	now := s.now()
	delay := domain.EffectiveDelay(settings.BaseDelay(), now.In(s.location()), settings.SmartDelay)
	a := domain.Action{
		ID:            uuid.NewString(),
		State:         domain.StatePending,
		CreatedAt:     now,
		FireAt:        now.Add(delay),
		Delay:         delay,
		Payload:       p,
		SourceEnabled: settings.Enabled,
		UpdatedAt:     now,
	}
	logger := log.Ctx(ctx).With().Str("action_id", a.ID).Logger()

	if err := s.Store.Put(ctx, a); err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
		}
		return domain.Action{}, err
	}
	if err := s.Counters.Add(ctx, domain.Counters{Submitted: 1}); err != nil {
		logger.Error().Err(err).Msg("updating counters failed")
	}
	if err := s.Wakeups.Arm(ctx, a.ID, a.FireAt); err != nil {
		logger.Warn().Err(err).Msg("arming wakeup failed, sweep will pick it up")
	}
	if settings.Notifications.Desktop {
		s.notifier().Show(ctx, a, delay)
	}

	logger.Info().Dur("delay", delay).Time("fire_at", a.FireAt).Msg("action submitted")
	return a, nil
}

// Cancel stops a pending action. It never fails for unknown or terminal
// ids; the outcome tells the caller what state the action is in.
func (s *Scheduler) Cancel(ctx context.Context, id string) (CancelOutcome, error) {
	logger := log.Ctx(ctx).With().Str("action_id", id).Logger()

	ok, err := s.Store.MarkCancelled(ctx, id, s.now())
	if err != nil {
		return "", err
	}
	if !ok {
		return s.outcomeOf(ctx, id)
	}

	if err := s.Counters.Add(ctx, domain.Counters{Cancelled: 1}); err != nil {
		logger.Error().Err(err).Msg("updating counters failed")
	}
	if err := s.Wakeups.Disarm(ctx, id); err != nil {
		logger.Debug().Err(err).Msg("disarming wakeup failed, it will no-op")
	}
	if a, err := s.Store.Get(ctx, id); err == nil {
		s.notifier().Dismiss(ctx, a)
	}

	logger.Info().Msg("action cancelled")
	return Cancelled, nil
}

func (s *Scheduler) outcomeOf(ctx context.Context, id string) (CancelOutcome, error) {
	a, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return Unknown, nil
	}
	if err != nil {
		return "", err
	}
	switch {
	case a.State == domain.StateCancelled:
		return AlreadyCancelled, nil
	case a.State == domain.StateExpired:
		return AlreadyExpired, nil
	case a.State == domain.StateFired, a.Claimed():
		return AlreadyFired, nil
	}
	return Unknown, nil
}

// HandleWakeup re-checks an action against the store and fires it when it
// is still pending and due. It reports whether targets were invoked. Errors
// are logged, never returned.
func (s *Scheduler) HandleWakeup(ctx context.Context, id string) bool {
	logger := log.Ctx(ctx).With().Str("action_id", id).Logger()
	now := s.now()

	a, err := s.Store.Get(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Debug().Msg("wakeup for unknown action")
		return false
	}
	if err != nil {
		logger.Warn().Err(err).Msg("loading action failed, retrying later")
		s.rearm(ctx, id, now.Add(s.retryDelay()))
		return false
	}
	if a.State != domain.StatePending {
		logger.Debug().Str("state", string(a.State)).Msg("wakeup no-op")
		return false
	}
	if a.Claimed() {
		if s.isUnrecorded(id) {
			s.recordFired(ctx, a)
		}
		return false
	}
	if !a.Due(now) {
		s.rearm(ctx, id, a.FireAt)
		return false
	}

	enabled := a.SourceEnabled
	if enabled {
		settings, err := s.Settings.Load(ctx)
		if err != nil {
			logger.Warn().Err(err).Msg("loading settings failed, retrying later")
			s.rearm(ctx, id, now.Add(s.retryDelay()))
			return false
		}
		enabled = settings.Enabled
	}
	if !enabled {
		s.expire(ctx, a, now, "scheduling disabled")
		return false
	}

	claimed, ok, err := s.Store.Claim(ctx, id, now)
	if err != nil {
		logger.Warn().Err(err).Msg("claiming action failed, retrying later")
		s.rearm(ctx, id, now.Add(s.retryDelay()))
		return false
	}
	if !ok {
		logger.Debug().Msg("action taken by a cancel or another wakeup")
		return false
	}

	_, err = s.Dispatcher.Execute(ctx, claimed)
	switch {
	case errors.Is(err, ErrNoTargets):
		s.awaitTargets(ctx, claimed, now)
		return false
	case errors.Is(err, ErrFireUnrecorded):
		logger.Warn().Err(err).Msg("fired state not stored, retrying later")
		s.setUnrecorded(id, true)
		s.rearm(ctx, id, now.Add(s.retryDelay()))
	case err != nil:
		logger.Warn().Err(err).Msg("dispatch incomplete")
	}
	return true
}

// awaitTargets hands the claim back and re-checks later while a session may
// still connect; past the grace deadline the action expires.
func (s *Scheduler) awaitTargets(ctx context.Context, a domain.Action, now time.Time) {
	logger := log.Ctx(ctx).With().Str("action_id", a.ID).Logger()

	released, err := s.Store.Release(ctx, a.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("releasing claim failed, sweep will expire it")
		return
	}
	if !released {
		return
	}
	if now.Before(s.targetDeadline(a)) {
		logger.Info().Msg("no live target, waiting for a session")
		s.rearm(ctx, a.ID, now.Add(s.retryDelay()))
		return
	}
	s.expire(ctx, a, now, "no live target")
}

func (s *Scheduler) targetDeadline(a domain.Action) time.Time {
	from := a.FireAt
	s.mu.Lock()
	if s.recoveredAt.After(from) {
		from = s.recoveredAt
	}
	s.mu.Unlock()
	return from.Add(s.targetGrace())
}

// recordFired retries storing the fired state of an action whose targets
// already ran.
func (s *Scheduler) recordFired(ctx context.Context, a domain.Action) {
	if err := s.Dispatcher.Complete(ctx, a); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action_id", a.ID).Msg("fired state still not stored")
		s.rearm(ctx, a.ID, s.now().Add(s.retryDelay()))
		return
	}
	s.setUnrecorded(a.ID, false)
}

func (s *Scheduler) setUnrecorded(id string, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !on {
		delete(s.unrecorded, id)
		return
	}
	if s.unrecorded == nil {
		s.unrecorded = make(map[string]struct{})
	}
	s.unrecorded[id] = struct{}{}
}

func (s *Scheduler) isUnrecorded(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.unrecorded[id]
	return ok
}

func (s *Scheduler) expire(ctx context.Context, a domain.Action, now time.Time, reason string) {
	logger := log.Ctx(ctx).With().Str("action_id", a.ID).Logger()

	ok, err := s.Store.MarkExpired(ctx, a.ID, now)
	if err != nil {
		logger.Warn().Err(err).Msg("expiring action failed, retrying later")
		s.rearm(ctx, a.ID, now.Add(s.retryDelay()))
		return
	}
	if !ok {
		return
	}
	s.expired(ctx, a)
	logger.Info().Str("reason", reason).Msg("action expired")
}

func (s *Scheduler) expired(ctx context.Context, a domain.Action) {
	if err := s.Counters.Add(ctx, domain.Counters{Expired: 1}); err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action_id", a.ID).Msg("updating counters failed")
	}
	s.reporter().Expired(ctx, a)
	s.notifier().Dismiss(ctx, a)
}

func (s *Scheduler) rearm(ctx context.Context, id string, at time.Time) {
	if err := s.Wakeups.Arm(ctx, id, at); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("action_id", id).Msg("re-arming wakeup failed, sweep will pick it up")
	}
}

type RecoveryReport struct {
	Fired   int
	Rearmed int
}

// Recover re-arms every pending action from the store and fires the ones
// whose time passed while no process was watching.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	var r RecoveryReport
	pending, err := s.Store.ListPending(ctx)
	if err != nil {
		return r, err
	}

	now := s.now()
	s.mu.Lock()
	s.recoveredAt = now
	s.mu.Unlock()

	for _, a := range pending {
		if a.Claimed() {
			continue // resolved by the sweep once the claim goes stale
		}
		if a.Due(now) {
			if s.HandleWakeup(ctx, a.ID) {
				r.Fired++
			}
			continue
		}
		s.rearm(ctx, a.ID, a.FireAt)
		r.Rearmed++
	}

	log.Ctx(ctx).Info().Int("fired", r.Fired).Int("rearmed", r.Rearmed).Msg("recovery done")
	return r, nil
}

type SweepReport struct {
	Removed int
	Healed  int
	Stale   int
}

// Rearm arms a wakeup for every unclaimed pending action without running
// any of them. Overdue actions are armed at their fire time and go to
// whichever process serves wakeups.
func (s *Scheduler) Rearm(ctx context.Context) (int, error) {
	pending, err := s.Store.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range pending {
		if a.Claimed() {
			continue
		}
		if err := s.Wakeups.Arm(ctx, a.ID, a.FireAt); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Purge removes terminal actions older than the retention window.
func (s *Scheduler) Purge(ctx context.Context) (int, error) {
	ids, err := s.Store.ListTerminalBefore(ctx, s.now().Add(-s.Retention))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		if err := s.Store.Remove(ctx, id); err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("action_id", id).Msg("removing action failed")
			continue
		}
		n++
	}
	return n, nil
}

// Sweep purges terminal actions past retention, fires pending actions whose
// wakeup was lost and expires claims whose dispatcher died.
func (s *Scheduler) Sweep(ctx context.Context) (SweepReport, error) {
	var r SweepReport
	now := s.now()

	removed, err := s.Purge(ctx)
	r.Removed = removed
	if err != nil {
		return r, err
	}

	pending, err := s.Store.ListPending(ctx)
	if err != nil {
		return r, err
	}
	staleBefore := now.Add(-s.claimTTL())
	for _, a := range pending {
		switch {
		case a.Claimed() && s.isUnrecorded(a.ID):
			s.recordFired(ctx, a)
		case a.Claimed():
			if a.ClaimedAt.After(staleBefore) {
				continue
			}
			ok, err := s.Store.ExpireStale(ctx, a.ID, staleBefore, now)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("action_id", a.ID).Msg("expiring stale claim failed")
				continue
			}
			if ok {
				log.Ctx(ctx).Error().Str("action_id", a.ID).Time("claimed_at", a.ClaimedAt).
					Msg("dispatch never completed, action expired without re-execution")
				s.expired(ctx, a)
				r.Stale++
			}
		case a.Due(now):
			if s.HandleWakeup(ctx, a.ID) {
				r.Healed++
			}
		}
	}

	log.Ctx(ctx).Info().Int("removed", r.Removed).Int("healed", r.Healed).Int("stale", r.Stale).Msg("sweep done")
	return r, nil
}

// Run recovers outstanding actions, then serves wakeups, periodic sweeps
// and cancel requests until ctx is done. In-flight dispatches are allowed
// to finish before Run returns.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.recoverWithRetry(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.Wakeups.Run(gctx, s.fireAsync)
	})
	g.Go(func() error {
		return s.sweepLoop(gctx)
	})
	g.Go(func() error {
		return s.cancelLoop(gctx)
	})

	err := g.Wait()
	s.inflight.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) recoverWithRetry(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		_, err := s.Recover(ctx)
		if err == nil {
			return nil
		}
		wait := backoff.ExponentialJitter(time.Second, time.Minute, attempt)
		log.Ctx(ctx).Warn().Err(err).Dur("retry_in", wait).Msg("recovery failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) fireAsync(ctx context.Context, id string) {
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.HandleWakeup(context.WithoutCancel(ctx), id)
	}()
}

func (s *Scheduler) sweepLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.sweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				log.Ctx(ctx).Warn().Err(err).Msg("sweep failed")
			}
		}
	}
}

func (s *Scheduler) cancelLoop(ctx context.Context) error {
	requests := s.notifier().CancelRequests()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-requests:
			outcome, err := s.Cancel(ctx, id)
			if err != nil {
				log.Ctx(ctx).Warn().Err(err).Str("action_id", id).Msg("cancel request failed")
				continue
			}
			log.Ctx(ctx).Debug().Str("action_id", id).Str("outcome", string(outcome)).Msg("cancel request handled")
		}
	}
}

// Snapshot returns a read-only snapshot of the aggregates.
func (s *Scheduler) Snapshot(ctx context.Context) (domain.Counters, error) {
	return s.Counters.Snapshot(ctx)
}

func (s *Scheduler) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s *Scheduler) location() *time.Location {
	if s.Location == nil {
		return time.Local
	}
	return s.Location
}

func (s *Scheduler) retryDelay() time.Duration {
	if s.RetryDelay <= 0 {
		return 5 * time.Second
	}
	return s.RetryDelay
}

func (s *Scheduler) claimTTL() time.Duration {
	if s.ClaimTTL <= 0 {
		return 2 * time.Minute
	}
	return s.ClaimTTL
}

func (s *Scheduler) targetGrace() time.Duration {
	if s.TargetGrace <= 0 {
		return 2 * time.Minute
	}
	return s.TargetGrace
}

func (s *Scheduler) sweepInterval() time.Duration {
	if s.SweepInterval <= 0 {
		return time.Hour
	}
	return s.SweepInterval
}

func (s *Scheduler) notifier() ports.Notifier {
	if s.Notifier == nil {
		return Nop{}
	}
	return s.Notifier
}

func (s *Scheduler) reporter() ports.Reporter {
	if s.Reporter == nil {
		return Nop{}
	}
	return s.Reporter
}
