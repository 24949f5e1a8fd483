// Package orchestrator creates teaching markers and routes their feedback
// to the publish relay.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/teachingmarkers/internal/convert"
	"github.com/OCAP2/teachingmarkers/internal/registry"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

var (
	// ErrRegistration wraps failures reported by the marker server.
	ErrRegistration = errors.New("marker registration failed")
	// ErrUnknownMarker is returned by Handle for events without a route.
	ErrUnknownMarker = errors.New("no route for marker")
)

// Logger interface for pluggable logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Enqueuer accepts transform messages for ordered publication.
type Enqueuer interface {
	Enqueue(marker string, msg core.TransformMessage) error
}

// MarkerServer publishes interactive markers to clients.
type MarkerServer interface {
	Insert(ctx context.Context, m core.InteractiveMarker) error
	ApplyChanges(ctx context.Context) error
}

// VisualServer draws visuals inside markers.
type VisualServer interface {
	SetVisual(ctx context.Context, name string, v core.Visual) error
}

// State is where a marker is in its lifecycle.
type State uint8

const (
	StateUnregistered State = iota
	StateRegistered
	StateLive
)

func (s State) String() string {
	switch s {
	case StateRegistered:
		return "registered"
	case StateLive:
		return "live"
	default:
		return "unregistered"
	}
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "registered":
		*s = StateRegistered
	case "live":
		*s = StateLive
	case "unregistered", "":
		*s = StateUnregistered
	default:
		return fmt.Errorf("unknown marker state %q", text)
	}
	return nil
}

// MarkerInfo describes one routed marker.
type MarkerInfo struct {
	Spec     core.MarkerSpec `json:"spec"`
	State    State           `json:"state"`
	Feedback uint64          `json:"feedback"`
}

type route struct {
	spec     core.MarkerSpec
	state    State
	feedback uint64
}

// Orchestrator owns the feedback routes of all markers.
type Orchestrator struct {
	registry *registry.Registry
	relay    Enqueuer
	conv     *convert.Converter
	markers  MarkerServer
	visuals  VisualServer
	logger   Logger

	mu     sync.RWMutex
	routes map[string]*route

	ignored atomic.Uint64
}

// New creates an orchestrator. visuals may be nil when no visual server is
// available; specs with a visual then fail registration.
func New(reg *registry.Registry, relay Enqueuer, conv *convert.Converter, markers MarkerServer, visuals VisualServer, logger Logger) *Orchestrator {
	if conv == nil {
		conv = convert.NewConverter(nil)
	}
	return &Orchestrator{
		registry: reg,
		relay:    relay,
		conv:     conv,
		markers:  markers,
		visuals:  visuals,
		logger:   logger,
		routes:   make(map[string]*route),
	}
}

// Insert creates a teaching marker: it seeds the relay with the initial pose,
// registers the marker, then records the frame and installs its feedback route.
// Inserting an existing name replaces its entry and route. When the marker
// server rejects the marker, the previous frame is kept and republished.
func (o *Orchestrator) Insert(ctx context.Context, spec core.MarkerSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	marker := BuildMarker(spec)
	pose := spec.Pose()
	prev, hadPrev := o.registry.Get(spec.Name)

	seed, err := o.conv.Seed(spec.Name, spec.SpawnFrame, pose)
	if err != nil {
		return err
	}
	if err := o.relay.Enqueue(spec.Name, seed); err != nil {
		return fmt.Errorf("seeding %s: %w", spec.Name, err)
	}

	if err := o.markers.Insert(ctx, marker); err != nil {
		if hadPrev {
			o.restore(prev)
		}
		return o.registrationFailed(spec.Name, err)
	}

	o.registry.Insert(core.FrameEntry{
		ParentFrameID: spec.SpawnFrame,
		ChildFrameID:  spec.Name,
		Transform:     pose.Transform(),
		Activity:      core.ActivityActive,
	})

	o.mu.Lock()
	o.routes[spec.Name] = &route{spec: spec, state: StateRegistered}
	o.mu.Unlock()

	if spec.Visual != nil {
		if o.visuals == nil {
			return o.registrationFailed(spec.Name, errors.New("no visual server configured"))
		}
		v := *spec.Visual
		if v.FrameID == "" {
			v.FrameID = spec.Name
		}
		if err := o.visuals.SetVisual(ctx, spec.Name, v); err != nil {
			return o.registrationFailed(spec.Name, err)
		}
	}

	if err := o.markers.ApplyChanges(ctx); err != nil {
		return o.registrationFailed(spec.Name, err)
	}

	o.logger.Info("marker inserted", "marker", spec.Name, "spawnFrame", spec.SpawnFrame)
	return nil
}

// restore republishes the frame a rejected insert has already seeded over.
func (o *Orchestrator) restore(prev core.FrameEntry) {
	pose := core.Pose{Position: prev.Transform.Translation, Orientation: prev.Transform.Rotation}
	msg, err := o.conv.Seed(prev.ChildFrameID, prev.ParentFrameID, pose)
	if err == nil {
		err = o.relay.Enqueue(prev.ChildFrameID, msg)
	}
	if err != nil {
		o.logger.Error("restoring frame failed", "frame", prev.ChildFrameID, "error", err)
	}
}

func (o *Orchestrator) registrationFailed(name string, err error) error {
	o.logger.Error("marker registration failed", "marker", name, "error", err)
	return fmt.Errorf("%w: %s: %w", ErrRegistration, name, err)
}

// Handle converts one feedback event and enqueues the result.
func (o *Orchestrator) Handle(ev core.FeedbackEvent) error {
	o.mu.RLock()
	r, ok := o.routes[ev.MarkerName]
	var spawn string
	if ok {
		spawn = r.spec.SpawnFrame
	}
	o.mu.RUnlock()
	if !ok {
		o.ignored.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownMarker, ev.MarkerName)
	}

	msg, err := o.conv.Convert(ev.MarkerName, spawn, ev)
	if err != nil {
		return err
	}
	if err := o.relay.Enqueue(ev.MarkerName, msg); err != nil {
		return fmt.Errorf("enqueue feedback for %s: %w", ev.MarkerName, err)
	}

	o.registry.Insert(core.FrameEntry{
		ParentFrameID: spawn,
		ChildFrameID:  ev.MarkerName,
		Transform:     ev.Pose.Transform(),
		Activity:      core.ActivityActive,
	})

	o.mu.Lock()
	if r, ok := o.routes[ev.MarkerName]; ok {
		r.state = StateLive
		r.feedback++
	}
	o.mu.Unlock()
	return nil
}

// Run consumes feedback events until ctx is cancelled or the stream closes.
// Failed events are logged and skipped.
func (o *Orchestrator) Run(ctx context.Context, events <-chan core.FeedbackEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				o.logger.Info("feedback stream closed")
				return nil
			}
			if err := o.Handle(ev); err != nil {
				if errors.Is(err, ErrUnknownMarker) {
					o.logger.Debug("feedback ignored", "marker", ev.MarkerName)
					continue
				}
				o.logger.Error("feedback dropped", "marker", ev.MarkerName, "error", err)
			}
		}
	}
}

// State reports the lifecycle state of a marker.
func (o *Orchestrator) State(name string) State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if r, ok := o.routes[name]; ok {
		return r.state
	}
	return StateUnregistered
}

// Markers lists routed markers in name order.
func (o *Orchestrator) Markers() []MarkerInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]MarkerInfo, 0, len(o.routes))
	for _, r := range o.routes {
		out = append(out, MarkerInfo{Spec: r.spec, State: r.state, Feedback: r.feedback})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Spec.Name < out[j].Spec.Name })
	return out
}

// Ignored returns how many events arrived for markers without a route.
func (o *Orchestrator) Ignored() uint64 {
	return o.ignored.Load()
}
