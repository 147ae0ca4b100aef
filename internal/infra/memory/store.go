// Package memory keeps actions, counters and settings in process memory.
// It backs development runs and tests; nothing survives a restart.
package memory

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"sort"
	"sync"
	"time"
)

var (
	_ ports.Store         = (*Store)(nil)
	_ ports.CounterStore  = (*Store)(nil)
	_ ports.SettingsStore = (*Store)(nil)
)

type Store struct {
	mu       sync.Mutex
	actions  map[string]domain.Action
	counters domain.Counters
	settings *domain.Settings
	defaults domain.Settings
}

func New(defaults domain.Settings) *Store {
	return &Store{
		actions:  make(map[string]domain.Action),
		defaults: defaults,
	}
}

func (s *Store) Put(_ context.Context, a domain.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[a.ID] = clone(a)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok {
		return domain.Action{}, domain.ErrNotFound
	}
	return clone(a), nil
}

func (s *Store) Claim(_ context.Context, id string, now time.Time) (domain.Action, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.State != domain.StatePending || a.Claimed() {
		return domain.Action{}, false, nil
	}
	a.ClaimedAt = now
	a.UpdatedAt = now
	s.actions[id] = a
	return clone(a), true, nil
}

func (s *Store) Release(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.State != domain.StatePending || !a.Claimed() {
		return false, nil
	}
	a.ClaimedAt = time.Time{}
	s.actions[id] = a
	return true, nil
}

func (s *Store) MarkCancelled(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, domain.StateCancelled, now, func(a domain.Action) bool { return !a.Claimed() }), nil
}

func (s *Store) MarkFired(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, domain.StateFired, now, func(domain.Action) bool { return true }), nil
}

func (s *Store) MarkExpired(_ context.Context, id string, now time.Time) (bool, error) {
	return s.transition(id, domain.StateExpired, now, func(a domain.Action) bool { return !a.Claimed() }), nil
}

func (s *Store) ExpireStale(_ context.Context, id string, claimedBefore, now time.Time) (bool, error) {
	return s.transition(id, domain.StateExpired, now, func(a domain.Action) bool {
		return a.Claimed() && !a.ClaimedAt.After(claimedBefore)
	}), nil
}

func (s *Store) transition(id string, to domain.ActionState, now time.Time, guard func(domain.Action) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.State != domain.StatePending || !guard(a) {
		return false
	}
	a.State = to
	a.UpdatedAt = now
	s.actions[id] = a
	return true
}

func (s *Store) Remove(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

func (s *Store) ListPending(_ context.Context) ([]domain.Action, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Action
	for _, a := range s.actions {
		if a.State == domain.StatePending {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	return out, nil
}

func (s *Store) ListTerminalBefore(_ context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, a := range s.actions {
		if a.State.Terminal() && !a.UpdatedAt.After(cutoff) {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Add(_ context.Context, d domain.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = s.counters.Add(d)
	return nil
}

func (s *Store) Snapshot(_ context.Context) (domain.Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters, nil
}

func (s *Store) Load(_ context.Context) (domain.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settings == nil {
		return s.defaults, nil
	}
	return *s.settings, nil
}

func (s *Store) Save(_ context.Context, v domain.Settings) error {
	if err := v.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = &v
	return nil
}

func clone(a domain.Action) domain.Action {
	if a.Payload.Meta != nil {
		m := make(map[string]string, len(a.Payload.Meta))
		for k, v := range a.Payload.Meta {
			m[k] = v
		}
		a.Payload.Meta = m
	}
	return a
}
