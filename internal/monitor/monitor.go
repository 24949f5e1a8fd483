// Package monitor samples relay and broadcaster counters on an interval,
// mirrors them to a status file and forwards them to a metrics sink.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/OCAP2/teachingmarkers/internal/broadcast"
	"github.com/OCAP2/teachingmarkers/internal/influx"
	"github.com/OCAP2/teachingmarkers/internal/relay"
)

// Sink receives performance points.
type Sink interface {
	Bucket() string
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Relay      func() relay.Stats
	Broadcast  func() broadcast.Stats
	Markers    func() int
	Sink       Sink
	Logger     *slog.Logger
	NodeID     string
	StatusPath string
	Interval   time.Duration
}

// Status is one sample of the server's counters.
type Status struct {
	Time      time.Time       `json:"time"`
	Relay     relay.Stats     `json:"relay"`
	Broadcast broadcast.Stats `json:"broadcast"`
	Markers   int             `json:"markers"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
	last      Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Last returns the most recent sample.
func (s *Service) Last() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}

// Sample collects the current counters.
func (s *Service) Sample(now time.Time) Status {
	st := Status{Time: now.UTC()}
	if s.deps.Relay != nil {
		st.Relay = s.deps.Relay()
	}
	if s.deps.Broadcast != nil {
		st.Broadcast = s.deps.Broadcast()
	}
	if s.deps.Markers != nil {
		st.Markers = s.deps.Markers()
	}
	return st
}

// Points converts a sample to one point per component.
func (s *Service) Points(st Status) []*influxdb2_write.Point {
	return []*influxdb2_write.Point{
		influx.NewStatsPoint("relay", s.deps.NodeID, map[string]any{
			"enqueued":  int64(st.Relay.Enqueued),
			"published": int64(st.Relay.Published),
			"failed":    int64(st.Relay.Failed),
			"dropped":   int64(st.Relay.Dropped),
			"queued":    int64(st.Relay.Queued),
		}, st.Time),
		influx.NewStatsPoint("broadcast", s.deps.NodeID, map[string]any{
			"ticks":     int64(st.Broadcast.Ticks),
			"failures":  int64(st.Broadcast.Failures),
			"last_size": int64(st.Broadcast.LastSize),
		}, st.Time),
		influx.NewStatsPoint("markers", s.deps.NodeID, map[string]any{
			"count": int64(st.Markers),
		}, st.Time),
	}
}

// Collect samples once, then writes the status file and the sink.
func (s *Service) Collect(ctx context.Context, now time.Time) Status {
	st := s.Sample(now)

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()

	if s.deps.StatusPath != "" {
		if err := writeStatusFile(s.deps.StatusPath, st); err != nil {
			s.deps.Logger.Error("Error writing status file", "path", s.deps.StatusPath, "error", err)
		}
	}

	if s.deps.Sink != nil {
		bucket := s.deps.Sink.Bucket()
		for _, p := range s.Points(st) {
			if err := s.deps.Sink.WritePoint(ctx, bucket, p); err != nil {
				s.deps.Logger.Error("Error writing performance point", "measurement", p.Name(), "error", err)
			}
		}
	}
	return st
}

func writeStatusFile(path string, st Status) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0644)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
			close(done)
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.Collect(context.Background(), now)
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and waits for the goroutine to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()
	<-done
}
