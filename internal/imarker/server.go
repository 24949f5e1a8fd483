// Package imarker is an in-process interactive marker server. It keeps the
// published marker set and produces the feedback event stream consumed by
// the orchestrator.
package imarker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

var (
	// ErrDuplicate is returned by Insert when duplicates are rejected.
	ErrDuplicate = errors.New("marker already exists")
	// ErrUnknownMarker is returned when feedback names a marker that was never applied.
	ErrUnknownMarker = errors.New("unknown marker")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("marker server closed")
)

// Option configures a Server.
type Option func(*config)

type config struct {
	bufferSize       int
	rejectDuplicates bool
	dropWhenFull     bool
}

// Buffered sets the size of the feedback event buffer.
func Buffered(size int) Option {
	return func(c *config) {
		c.bufferSize = size
	}
}

// RejectDuplicates makes Insert fail for names that are already present.
func RejectDuplicates() Option {
	return func(c *config) {
		c.rejectDuplicates = true
	}
}

// NonBlocking makes Dispatch drop events instead of waiting when the buffer is full.
func NonBlocking() Option {
	return func(c *config) {
		c.dropWhenFull = true
	}
}

// Server holds interactive markers and their visuals. Inserts are staged
// until ApplyChanges, matching how a marker server publishes updates in batches.
type Server struct {
	cfg config

	mu      sync.RWMutex
	pending map[string]core.InteractiveMarker
	markers map[string]core.InteractiveMarker
	visuals map[string]core.Visual
	applied uint64
	closed  bool

	events chan core.FeedbackEvent
}

// New creates a server. The default event buffer holds 256 events.
func New(opts ...Option) *Server {
	cfg := config{bufferSize: 256}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Server{
		cfg:     cfg,
		pending: make(map[string]core.InteractiveMarker),
		markers: make(map[string]core.InteractiveMarker),
		visuals: make(map[string]core.Visual),
		events:  make(chan core.FeedbackEvent, cfg.bufferSize),
	}
}

// Insert stages a marker. An existing marker with the same name is replaced
// unless RejectDuplicates was set.
func (s *Server) Insert(_ context.Context, m core.InteractiveMarker) error {
	if m.Name == "" {
		return errors.New("marker name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cfg.rejectDuplicates {
		_, staged := s.pending[m.Name]
		_, live := s.markers[m.Name]
		if staged || live {
			return fmt.Errorf("%w: %s", ErrDuplicate, m.Name)
		}
	}
	s.pending[m.Name] = m
	return nil
}

// SetVisual attaches a visual to a marker.
func (s *Server) SetVisual(_ context.Context, name string, v core.Visual) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.visuals[name] = v
	return nil
}

// ApplyChanges publishes every staged marker.
func (s *Server) ApplyChanges(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for name, m := range s.pending {
		s.markers[name] = m
		delete(s.pending, name)
	}
	s.applied++
	return nil
}

// Events returns the inbound feedback stream. It is closed by Close.
func (s *Server) Events() <-chan core.FeedbackEvent {
	return s.events
}

// Dispatch injects client feedback for a published marker.
func (s *Server) Dispatch(ctx context.Context, ev core.FeedbackEvent) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.markers[ev.MarkerName]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMarker, ev.MarkerName)
	}

	if s.cfg.dropWhenFull {
		select {
		case s.events <- ev:
			return nil
		default:
			return fmt.Errorf("feedback buffer full, dropped event for %s", ev.MarkerName)
		}
	}

	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get returns a published marker.
func (s *Server) Get(name string) (core.InteractiveMarker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markers[name]
	return m, ok
}

// Visual returns the visual attached to a marker.
func (s *Server) Visual(name string) (core.Visual, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.visuals[name]
	return v, ok
}

// Names lists published markers in name order.
func (s *Server) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.markers))
	for name := range s.markers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Applied returns how many times ApplyChanges has run.
func (s *Server) Applied() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}

// Close stops the server and closes the event stream.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}
