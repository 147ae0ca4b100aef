// Package session tracks live client sessions connected over websocket.
// A session is an execution target for actions and receives countdown,
// dismiss and outcome messages; it can also request cancellation.
package session

import (
	"context"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	_ ports.Sessions = (*Hub)(nil)
	_ ports.Notifier = (*Hub)(nil)
	_ ports.Reporter = (*Hub)(nil)
)

const (
	TypeHello     = "hello"
	TypeExecute   = "execute"
	TypeCountdown = "countdown"
	TypeDismiss   = "dismiss"
	TypeExecuted  = "executed"
	TypeExpired   = "expired"
	TypeCancel    = "cancel"
)

// Message is the JSON frame exchanged with sessions.
type Message struct {
	Type             string          `json:"type"`
	ID               string          `json:"id,omitempty"`
	SessionID        string          `json:"session_id,omitempty"`
	SecondsRemaining int64           `json:"seconds_remaining,omitempty"`
	Payload          *domain.Payload `json:"payload,omitempty"`
}

type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cancels  chan string

	OriginPatterns []string
	WriteTimeout   time.Duration
}

func NewHub(originPatterns []string) *Hub {
	return &Hub{
		sessions:       make(map[string]*Session),
		cancels:        make(chan string, 64),
		OriginPatterns: originPatterns,
		WriteTimeout:   5 * time.Second,
	}
}

// ServeHTTP upgrades the request and serves the session until it closes.
// Query parameters: session (id, generated when empty) and scope.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// sessions outlive the server's per-request deadlines
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.OriginPatterns,
	})
	if err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msg("websocket accept failed")
		return
	}

	id := r.URL.Query().Get("session")
	if id == "" {
		id = uuid.NewString()
	}
	s := &Session{id: id, scope: r.URL.Query().Get("scope"), conn: conn}

	h.register(s)
	defer h.unregister(s)

	ctx := r.Context()
	logger := log.Ctx(ctx).With().Str("session", s.id).Str("scope", s.scope).Logger()
	logger.Info().Msg("session connected")

	if err := h.send(ctx, s, Message{Type: TypeHello, SessionID: s.id}); err != nil {
		logger.Warn().Err(err).Msg("hello failed")
		return
	}

	for {
		var m Message
		if err := wsjson.Read(ctx, conn, &m); err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure && status != websocket.StatusGoingAway {
				logger.Debug().Err(err).Msg("session read ended")
			}
			break
		}
		if m.Type == TypeCancel && m.ID != "" {
			select {
			case h.cancels <- m.ID:
			case <-ctx.Done():
			}
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	logger.Info().Msg("session disconnected")
}

// register replaces any live session with the same id.
func (h *Hub) register(s *Session) {
	h.mu.Lock()
	old, ok := h.sessions[s.id]
	h.sessions[s.id] = s
	h.mu.Unlock()
	if ok {
		_ = old.conn.CloseNow()
	}
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.sessions[s.id]; ok && cur == s {
		delete(h.sessions, s.id)
	}
}

// Count returns the number of live sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

func (h *Hub) Session(id string) (ports.Target, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	if !ok {
		return nil, false
	}
	return &target{hub: h, s: s}, true
}

// Match returns the sessions whose scope matches the path.Match pattern.
func (h *Hub) Match(scope string) []ports.Target {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var matched []*Session
	for _, s := range h.sessions {
		if ok, _ := path.Match(scope, s.scope); ok {
			matched = append(matched, s)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].id < matched[j].id })

	out := make([]ports.Target, 0, len(matched))
	for _, s := range matched {
		out = append(out, &target{hub: h, s: s})
	}
	return out
}

func (h *Hub) Show(ctx context.Context, a domain.Action, remaining time.Duration) {
	h.notify(ctx, a, Message{Type: TypeCountdown, ID: a.ID, SecondsRemaining: int64(remaining.Round(time.Second) / time.Second)})
}

func (h *Hub) Dismiss(ctx context.Context, a domain.Action) {
	h.notify(ctx, a, Message{Type: TypeDismiss, ID: a.ID})
}

func (h *Hub) CancelRequests() <-chan string {
	return h.cancels
}

func (h *Hub) Executed(ctx context.Context, a domain.Action) {
	h.notify(ctx, a, Message{Type: TypeExecuted, ID: a.ID})
}

func (h *Hub) Expired(ctx context.Context, a domain.Action) {
	h.notify(ctx, a, Message{Type: TypeExpired, ID: a.ID})
}

// notify reaches the originating session if it is still connected.
func (h *Hub) notify(ctx context.Context, a domain.Action, m Message) {
	h.mu.RLock()
	s, ok := h.sessions[a.Payload.SessionID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	if err := h.send(ctx, s, m); err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("session", s.id).Str("type", m.Type).Msg("notification not delivered")
	}
}

func (h *Hub) send(ctx context.Context, s *Session, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, h.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, m)
}

type Session struct {
	id    string
	scope string
	conn  *websocket.Conn
}

type target struct {
	hub *Hub
	s   *Session
}

func (t *target) ID() string { return t.s.id }

func (t *target) Execute(ctx context.Context, a domain.Action) error {
	p := a.Payload
	return t.hub.send(ctx, t.s, Message{Type: TypeExecute, ID: a.ID, Payload: &p})
}
