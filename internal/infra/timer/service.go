package timer

import (
	"context"
	"graceq/internal/ports"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var _ ports.Wakeups = (*Service)(nil)

// Service arms in-process one-shot timers keyed by action id.
// Triggers do not survive a restart; recovery re-arms them from the store.
type Service struct {
	events chan string
	timers map[string]*entry
	mu     sync.Mutex
}

type entry struct {
	timer *time.Timer
}

func NewService(buffer int) *Service {
	return &Service{
		events: make(chan string, buffer),
		timers: make(map[string]*entry),
	}
}

// Arm schedules a trigger for id, replacing any previous one.
func (s *Service) Arm(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
	}

	e := &entry{}
	e.timer = time.AfterFunc(time.Until(at), func() {
		s.fire(id, e)
	})
	s.timers[id] = e
	return nil
}

func (s *Service) fire(id string, e *entry) {
	s.mu.Lock()
	cur, ok := s.timers[id]
	if !ok || cur != e {
		s.mu.Unlock()
		return // disarmed or re-armed before firing
	}
	delete(s.timers, id)
	s.mu.Unlock()

	select {
	case s.events <- id:
	default:
		// buffer full; the sweep picks up overdue actions
		log.Warn().Str("action_id", id).Msg("wakeup dropped")
	}
}

func (s *Service) Disarm(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
		delete(s.timers, id)
	}
	return nil
}

// Armed returns the number of outstanding triggers.
func (s *Service) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Run delivers fired ids until ctx is done, then stops all timers.
func (s *Service) Run(ctx context.Context, fire ports.FireFunc) error {
	defer s.stopAll()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case id := <-s.events:
			fire(ctx, id)
		}
	}
}

func (s *Service) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.timers {
		e.timer.Stop()
	}
	s.timers = make(map[string]*entry)
}
