package usecase

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/infra/memory"
	"graceq/internal/ports"
	"fmt"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Monday.
var t0 = time.Date(2026, time.October, 19, 10, 0, 0, 0, time.UTC)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeWakeups struct {
	mu       sync.Mutex
	armed    map[string]time.Time
	disarmed []string
}

func newFakeWakeups() *fakeWakeups {
	return &fakeWakeups{armed: make(map[string]time.Time)}
}

func (w *fakeWakeups) Arm(_ context.Context, id string, at time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.armed[id] = at
	return nil
}

func (w *fakeWakeups) Disarm(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.armed, id)
	w.disarmed = append(w.disarmed, id)
	return nil
}

func (w *fakeWakeups) Run(ctx context.Context, _ ports.FireFunc) error {
	<-ctx.Done()
	return ctx.Err()
}

func (w *fakeWakeups) armedAt(id string) (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.armed[id]
	return at, ok
}

type fakeTarget struct {
	id    string
	scope string
	err   error

	mu  sync.Mutex
	got []string
}

func (t *fakeTarget) ID() string { return t.id }

func (t *fakeTarget) Execute(_ context.Context, a domain.Action) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.got = append(t.got, a.ID)
	return t.err
}

func (t *fakeTarget) calls() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.got...)
}

type fakeSessions struct {
	targets []*fakeTarget
}

func (s *fakeSessions) Session(id string) (ports.Target, bool) {
	for _, t := range s.targets {
		if t.id == id {
			return t, true
		}
	}
	return nil, false
}

func (s *fakeSessions) Match(scope string) []ports.Target {
	var out []ports.Target
	for _, t := range s.targets {
		if ok, _ := path.Match(scope, t.scope); ok {
			out = append(out, t)
		}
	}
	return out
}

type recorder struct {
	mu        sync.Mutex
	executed  []string
	expired   []string
	shown     []string
	dismissed []string
	cancels   chan string
}

func (r *recorder) Executed(_ context.Context, a domain.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executed = append(r.executed, a.ID)
}

func (r *recorder) Expired(_ context.Context, a domain.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, a.ID)
}

func (r *recorder) Show(_ context.Context, a domain.Action, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shown = append(r.shown, a.ID)
}

func (r *recorder) Dismiss(_ context.Context, a domain.Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dismissed = append(r.dismissed, a.ID)
}

func (r *recorder) CancelRequests() <-chan string { return r.cancels }

func (r *recorder) snapshot() (executed, expired []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.executed...), append([]string(nil), r.expired...)
}

type harness struct {
	sched    *Scheduler
	store    *memory.Store
	wakeups  *fakeWakeups
	clock    *clock
	origin   *fakeTarget
	sessions *fakeSessions
	rec      *recorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   memory.New(domain.DefaultSettings()),
		wakeups: newFakeWakeups(),
		clock:   &clock{t: t0},
		origin:  &fakeTarget{id: "s-1", scope: "mail/inbox"},
		rec:     &recorder{cancels: make(chan string)},
	}
	h.sessions = &fakeSessions{targets: []*fakeTarget{h.origin}}
	h.sched = &Scheduler{
		Store:    h.store,
		Counters: h.store,
		Settings: h.store,
		Wakeups:  h.wakeups,
		Dispatcher: &Dispatcher{
			Store:     h.store,
			Counters:  h.store,
			Locator:   NewLocator(h.sessions),
			Notifier:  h.rec,
			Reporter:  h.rec,
			Retention: 15 * time.Minute,
			Now:       h.clock.Now,
		},
		Notifier:  h.rec,
		Reporter:  h.rec,
		Location:  time.UTC,
		Retention: 15 * time.Minute,
		ClaimTTL:  2 * time.Minute,
		Now:       h.clock.Now,
	}
	return h
}

func baseSettings(delay int) domain.Settings {
	s := domain.DefaultSettings()
	s.DelaySeconds = delay
	s.SmartDelay.Enabled = false
	return s
}

func originPayload() domain.Payload {
	return domain.Payload{SessionID: "s-1", Scope: "mail/*", DocumentRef: "draft-1"}
}

// flakyFiredStore fails MarkFired while fail is set.
type flakyFiredStore struct {
	*memory.Store
	fail atomic.Bool
}

func (s *flakyFiredStore) MarkFired(ctx context.Context, id string, now time.Time) (bool, error) {
	if s.fail.Load() {
		return false, fmt.Errorf("%w: connection reset", domain.ErrStoreUnavailable)
	}
	return s.Store.MarkFired(ctx, id, now)
}
