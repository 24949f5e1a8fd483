// Package latched is an in-process transport. Transient-local topics keep
// their last message and hand it to every subscriber that joins later.
package latched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// ErrDurabilityMismatch is returned when a topic is reopened with another durability.
var ErrDurabilityMismatch = errors.New("topic already exists with different durability")

// SubscriberStats counts deliveries for one subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

type subscriber struct {
	ch    chan core.TransformMessage
	stats SubscriberStats
}

type topic struct {
	name       string
	durability transport.Durability

	mu     sync.RWMutex
	last   *core.TransformMessage
	subs   map[uint64]*subscriber
	nextID uint64

	published atomic.Uint64
}

// Bus is a set of named in-process topics.
type Bus struct {
	mu     sync.Mutex
	topics map[string]*topic
	closed bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string]*topic),
	}
}

var _ transport.Bus = (*Bus)(nil)

func (b *Bus) topic(name string, d transport.Durability) (*topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, transport.ErrClosed
	}
	t, ok := b.topics[name]
	if !ok {
		t = &topic{
			name:       name,
			durability: d,
			subs:       make(map[uint64]*subscriber),
		}
		b.topics[name] = t
		return t, nil
	}
	if t.durability != d {
		return nil, ErrDurabilityMismatch
	}
	return t, nil
}

// Publisher returns a publisher for the topic, creating it on first use.
func (b *Bus) Publisher(name string, d transport.Durability) (transport.Publisher, error) {
	t, err := b.topic(name, d)
	if err != nil {
		return nil, err
	}
	return &publisher{bus: b, topic: t}, nil
}

// Subscribe registers a receiver with the given buffer size. On a
// transient-local topic the retained message is delivered first.
// Slow receivers lose new messages rather than blocking publishers.
func (b *Bus) Subscribe(name string, d transport.Durability, buffer int) (<-chan core.TransformMessage, func(), error) {
	t, err := b.topic(name, d)
	if err != nil {
		return nil, nil, err
	}
	if buffer < 1 {
		buffer = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	s := &subscriber{ch: make(chan core.TransformMessage, buffer)}
	t.subs[id] = s
	if t.last != nil {
		s.ch <- *t.last
		s.stats.Sent++
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			if _, ok := t.subs[id]; ok {
				delete(t.subs, id)
				close(s.ch)
			}
		})
	}
	return s.ch, cancel, nil
}

// Last returns the retained message of a transient-local topic.
func (b *Bus) Last(name string) (core.TransformMessage, bool) {
	b.mu.Lock()
	t, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		return core.TransformMessage{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return core.TransformMessage{}, false
	}
	return *t.last, true
}

// Published returns how many messages went out on the topic.
func (b *Bus) Published(name string) uint64 {
	b.mu.Lock()
	t, ok := b.topics[name]
	b.mu.Unlock()
	if !ok {
		return 0
	}
	return t.published.Load()
}

// Close closes every subscriber channel. Later publishes fail with transport.ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	topics := make([]*topic, 0, len(b.topics))
	for _, t := range b.topics {
		topics = append(topics, t)
	}
	b.mu.Unlock()

	for _, t := range topics {
		t.mu.Lock()
		for id, s := range t.subs {
			close(s.ch)
			delete(t.subs, id)
		}
		t.mu.Unlock()
	}
	return nil
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

type publisher struct {
	bus   *Bus
	topic *topic
}

func (p *publisher) Publish(ctx context.Context, msg core.TransformMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.bus.isClosed() {
		return transport.ErrClosed
	}

	t := p.topic
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.durability == transport.TransientLocal {
		retained := msg
		t.last = &retained
	}
	for _, s := range t.subs {
		select {
		case s.ch <- msg:
			s.stats.Sent++
		default:
			s.stats.Dropped++
		}
	}
	t.published.Add(1)
	return nil
}
