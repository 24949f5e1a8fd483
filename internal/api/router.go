// Package api serves the admin HTTP surface: frame registry inspection,
// marker creation and synthetic feedback injection.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/OCAP2/teachingmarkers/internal/orchestrator"
	"github.com/OCAP2/teachingmarkers/internal/relay"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// Frames is the registry view the API reads and writes.
type Frames interface {
	List() []core.FrameEntry
	Insert(entry core.FrameEntry)
}

// Markers creates markers and reports their routes.
type Markers interface {
	Insert(ctx context.Context, spec core.MarkerSpec) error
	Markers() []orchestrator.MarkerInfo
}

// FeedbackDispatcher injects client feedback into the event stream.
type FeedbackDispatcher interface {
	Dispatch(ctx context.Context, ev core.FeedbackEvent) error
}

// Dependencies holds what the handlers operate on. Feedback and RelayStats
// may be nil; their routes then answer 503.
type Dependencies struct {
	Frames     Frames
	Markers    Markers
	Feedback   FeedbackDispatcher
	RelayStats func() relay.Stats
	Timeout    time.Duration
}

// NewRouter builds the admin routes.
func NewRouter(deps Dependencies) http.Handler {
	if deps.Timeout <= 0 {
		deps.Timeout = 5 * time.Second
	}
	h := &handler{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(deps.Timeout))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, http.StatusOK, statusResponse{Status: "ok"}) })
	r.Get("/frames", h.listFrames)
	r.Put("/frames/{child}", h.putFrame)
	r.Get("/markers", h.listMarkers)
	r.Post("/markers", h.createMarker)
	r.Post("/markers/{name}/feedback", h.postFeedback)
	r.Get("/relay/stats", h.relayStats)
	return r
}

// Server runs the admin router on a listen address.
type Server struct {
	srv *http.Server
}

// NewServer creates a server for handler on addr.
func NewServer(addr string, handler http.Handler) *Server {
	return &Server{srv: &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}}
}

// ListenAndServe blocks until Shutdown. A clean shutdown returns nil.
func (s *Server) ListenAndServe() error {
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
