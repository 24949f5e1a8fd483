// Package websocket bridges transform topics and interactive markers to a
// remote visualization client over a WebSocket connection. Client feedback
// received on the same connection is exposed as an event stream.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
	"github.com/OCAP2/teachingmarkers/pkg/streaming"
)

var errClosed = transport.ErrClosed

// Config holds WebSocket bridge configuration.
type Config struct {
	URL    string
	Secret string
	// EventBuffer sizes the inbound feedback channel.
	EventBuffer int
}

// Bridge is a transport.Bus and a marker server backed by one connection.
type Bridge struct {
	conn   *connection
	cfg    Config
	logger *slog.Logger

	events     chan core.FeedbackEvent
	eventsOnce sync.Once
	dropped    atomic.Uint64

	mu      sync.Mutex
	pending map[string]core.InteractiveMarker
	topics  map[string]transport.Durability
}

// New creates a bridge. Call Init to connect.
func New(cfg Config, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	b := &Bridge{
		cfg:     cfg,
		logger:  logger,
		events:  make(chan core.FeedbackEvent, cfg.EventBuffer),
		pending: make(map[string]core.InteractiveMarker),
		topics:  make(map[string]transport.Durability),
	}
	b.conn = newConnection(logger, b.handleInbound)
	return b
}

// Init connects to the WebSocket server.
func (b *Bridge) Init() error {
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects and closes the event stream.
func (b *Bridge) Close() error {
	err := b.conn.close()
	b.mu.Lock()
	b.eventsOnce.Do(func() { close(b.events) })
	b.mu.Unlock()
	return err
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{ID: uuid.NewString(), Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// Publisher returns a publisher for topic. Transient-local topics retain
// the last transform of each child frame and replay them after a reconnect.
func (b *Bridge) Publisher(topic string, d transport.Durability) (transport.Publisher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.topics[topic]; ok && existing != d {
		return nil, fmt.Errorf("topic %s already declared %s, requested %s", topic, existing, d)
	}
	b.topics[topic] = d
	return &publisher{bridge: b, topic: topic, durability: d}, nil
}

type publisher struct {
	bridge     *Bridge
	topic      string
	durability transport.Durability
}

func (p *publisher) Publish(ctx context.Context, msg core.TransformMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := marshalEnvelope(streaming.TypeTransform, streaming.TransformPayload{
		Topic:      p.topic,
		Durability: p.durability.String(),
		Message:    msg,
	})
	if err != nil {
		return err
	}
	if p.durability == transport.TransientLocal {
		if err := p.retain(msg); err != nil {
			return err
		}
	}
	return p.bridge.conn.send(data)
}

// retain keeps the latest record of every child frame, so a replay carries
// the whole frame set even when topics are shared with single-frame updates.
func (p *publisher) retain(msg core.TransformMessage) error {
	for _, rec := range msg.Transforms {
		data, err := marshalEnvelope(streaming.TypeTransform, streaming.TransformPayload{
			Topic:      p.topic,
			Durability: p.durability.String(),
			Message:    core.TransformMessage{Transforms: []core.TransformStamped{rec}},
		})
		if err != nil {
			return err
		}
		p.bridge.conn.retain("tf/"+p.topic+"/"+rec.ChildFrameID, data)
	}
	return nil
}

// Insert stages a marker until ApplyChanges.
func (b *Bridge) Insert(_ context.Context, m core.InteractiveMarker) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending[m.Name] = m
	return nil
}

// SetVisual sends a visual for a marker and retains it for replay.
func (b *Bridge) SetVisual(_ context.Context, name string, v core.Visual) error {
	data, err := marshalEnvelope(streaming.TypeVisual, streaming.VisualPayload{Name: name, Visual: v})
	if err != nil {
		return err
	}
	b.conn.retain("visual/"+name, data)
	return b.conn.send(data)
}

// ApplyChanges sends every staged marker and waits for the client to
// acknowledge the batch.
func (b *Bridge) ApplyChanges(ctx context.Context) error {
	b.mu.Lock()
	names := make([]string, 0, len(b.pending))
	for name := range b.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	staged := make([]core.InteractiveMarker, 0, len(names))
	for _, name := range names {
		staged = append(staged, b.pending[name])
		delete(b.pending, name)
	}
	b.mu.Unlock()

	for _, m := range staged {
		data, err := marshalEnvelope(streaming.TypeMarkerUpsert, m)
		if err != nil {
			return err
		}
		b.conn.retain("marker/"+m.Name, data)
		if err := b.conn.send(data); err != nil {
			return err
		}
	}

	data, err := marshalEnvelope(streaming.TypeApplyChanges, streaming.ApplyChangesPayload{Markers: names})
	if err != nil {
		return err
	}

	timeout := ackTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	return b.conn.sendAndWait(data, streaming.TypeApplyChanges, timeout)
}

// Events returns client feedback. It is closed by Close.
func (b *Bridge) Events() <-chan core.FeedbackEvent {
	return b.events
}

// Dropped returns how many feedback events were discarded because the
// event buffer was full.
func (b *Bridge) Dropped() uint64 {
	return b.dropped.Load()
}

func (b *Bridge) handleInbound(in streaming.Inbound) {
	if in.Type != streaming.TypeFeedback {
		b.logger.Debug("Ignoring inbound message", "type", in.Type)
		return
	}
	var ev core.FeedbackEvent
	if err := json.Unmarshal(in.Payload, &ev); err != nil {
		b.logger.Warn("Invalid feedback payload", "id", in.ID, "error", err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.conn.done:
		return
	default:
	}
	select {
	case b.events <- ev:
	default:
		b.dropped.Add(1)
		b.logger.Warn("Feedback buffer full, dropping event", "marker", ev.MarkerName)
	}
}

// Dispatch injects a feedback event as if the client had sent it.
func (b *Bridge) Dispatch(ctx context.Context, ev core.FeedbackEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.conn.done:
		return errClosed
	default:
	}
	select {
	case b.events <- ev:
		return nil
	default:
		b.dropped.Add(1)
		return fmt.Errorf("feedback buffer full, dropped event for %s", ev.MarkerName)
	}
}
