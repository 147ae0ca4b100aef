package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"graceq/internal/domain"
	"graceq/internal/ports"
	"graceq/internal/usecase"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type submitReq struct {
	SessionID   string            `json:"session_id"`
	Scope       string            `json:"scope"`
	DocumentRef string            `json:"document_ref"`
	Mode        domain.TargetMode `json:"mode"`
	Meta        map[string]string `json:"meta"`
}

type actionView struct {
	ID               string         `json:"id"`
	State            string         `json:"state"`
	CreatedAt        time.Time      `json:"created_at"`
	FireAt           time.Time      `json:"fire_at"`
	DelaySeconds     int64          `json:"delay_seconds"`
	SecondsRemaining int64          `json:"seconds_remaining"`
	Payload          domain.Payload `json:"payload"`
}

type statsView struct {
	Submitted         int64 `json:"submitted"`
	Cancelled         int64 `json:"cancelled"`
	Fired             int64 `json:"fired"`
	Expired           int64 `json:"expired"`
	MistakesPrevented int64 `json:"mistakes_prevented"`
	TimeSavedSeconds  int64 `json:"time_saved_seconds"`
	Pending           int   `json:"pending"`
	Sessions          int   `json:"sessions"`
}

// SessionHub is the websocket endpoint for live sessions.
type SessionHub interface {
	http.Handler
	Count() int
}

type Server struct {
	router    *chi.Mux
	scheduler *usecase.Scheduler
	store     ports.Store
	settings  ports.SettingsStore
	hub       SessionHub
	origins   []string
	now       func() time.Time
}

func NewServer(sched *usecase.Scheduler, settings ports.SettingsStore, hub SessionHub, origins []string) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		scheduler: sched,
		store:     sched.Store,
		settings:  settings,
		hub:       hub,
		origins:   origins,
		now:       time.Now,
	}
	if sched.Now != nil {
		s.now = sched.Now
	}

	r := s.router
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Post("/actions", s.submit)
	r.Get("/actions/{id}", s.getAction)
	r.Delete("/actions/{id}", s.cancel)
	r.Get("/settings", s.getSettings)
	r.Put("/settings", s.putSettings)
	r.Get("/stats", s.stats)
	r.Get("/export", s.export)
	r.Handle("/ws", hub)

	return s
}

// Handler returns the router wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return chainMiddleware(
		s.router,
		recoverHandler,
		requestIDHandler,
		realIPHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/healthz" }),
		corsHandler(s.origins),
	)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch req.Mode {
	case "", domain.ModeOrigin, domain.ModeBroadcast:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	settings, err := s.settings.Load(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}

	a, err := s.scheduler.Submit(r.Context(), domain.Payload{
		SessionID:   req.SessionID,
		Scope:       req.Scope,
		DocumentRef: req.DocumentRef,
		Mode:        req.Mode,
		Meta:        req.Meta,
	}, settings)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.view(a))
}

func (s *Server) getAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.view(a))
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	outcome, err := s.scheduler.Cancel(r.Context(), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "outcome": string(outcome)})
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Load(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// putSettings merges the body over the current settings.
func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.settings.Load(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.settings.Save(r.Context(), settings); err != nil {
		writeErr(w, err)
		return
	}
	log.Ctx(r.Context()).Info().Bool("enabled", settings.Enabled).Int("delay", settings.DelaySeconds).Msg("settings updated")
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	v, err := s.statsView(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	v, err := s.statsView(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	settings, err := s.settings.Load(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"settings":    settings,
		"stats":       v,
		"export_date": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) statsView(ctx context.Context) (statsView, error) {
	c, err := s.scheduler.Snapshot(ctx)
	if err != nil {
		return statsView{}, err
	}
	pending, err := s.store.ListPending(ctx)
	if err != nil {
		return statsView{}, err
	}
	return statsView{
		Submitted:         c.Submitted,
		Cancelled:         c.Cancelled,
		Fired:             c.Fired,
		Expired:           c.Expired,
		MistakesPrevented: c.Cancelled,
		TimeSavedSeconds:  int64(c.TimeSaved / time.Second),
		Pending:           len(pending),
		Sessions:          s.hub.Count(),
	}, nil
}

func (s *Server) view(a domain.Action) actionView {
	return actionView{
		ID:               a.ID,
		State:            string(a.State),
		CreatedAt:        a.CreatedAt,
		FireAt:           a.FireAt,
		DelaySeconds:     int64(a.Delay / time.Second),
		SecondsRemaining: int64(a.Remaining(s.now()).Round(time.Second) / time.Second),
		Payload:          a.Payload,
	}
}

// Run serves on port until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	httpServer := http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		log.Info().Msg("Server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	<-done
	log.Info().Msg("Server stopped")
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrDisabled):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidSettings):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
