package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
	"github.com/OCAP2/teachingmarkers/pkg/streaming"
)

// Compile-time interface check.
var _ transport.Bus = (*Bridge)(nil)

type received struct {
	conn int32
	env  streaming.Envelope
}

type messageLog struct {
	mu       sync.Mutex
	messages []received
}

func (m *messageLog) add(conn int32, env streaming.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, received{conn: conn, env: env})
}

func (m *messageLog) all() []received {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]received, len(m.messages))
	copy(cp, m.messages)
	return cp
}

func (m *messageLog) ofType(typ string) []streaming.Envelope {
	var out []streaming.Envelope
	for _, r := range m.all() {
		if r.env.Type == typ {
			out = append(out, r.env)
		}
	}
	return out
}

// testServer upgrades to WebSocket, records received envelopes, acks
// apply_changes and lets the test push messages to the client. onMessage
// may return false to drop the connection.
type testServer struct {
	*httptest.Server
	log   *messageLog
	conns atomic.Int32

	mu     sync.Mutex
	client *ws.Conn
	secret string
	noAck  bool

	onMessage func(conn int32, env streaming.Envelope) bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{log: &messageLog{}}

	upgrader := ws.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer c.Close()

		n := ts.conns.Add(1)
		ts.mu.Lock()
		ts.client = c
		ts.secret = r.URL.Query().Get("secret")
		ts.mu.Unlock()

		for {
			_, msg, err := c.ReadMessage()
			if err != nil {
				return
			}

			var env streaming.Envelope
			if err := json.Unmarshal(msg, &env); err != nil {
				continue
			}
			ts.log.add(n, env)

			if ts.onMessage != nil && !ts.onMessage(n, env) {
				return
			}

			if env.Type == streaming.TypeApplyChanges && !ts.noAck {
				ack := streaming.AckMessage{Type: streaming.TypeAck, For: env.Type, ID: env.ID}
				data, _ := json.Marshal(ack)
				ts.mu.Lock()
				err := c.WriteMessage(ws.TextMessage, data)
				ts.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(ts.Close)
	return ts
}

func (ts *testServer) push(t *testing.T, msgType string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	data, err := json.Marshal(streaming.Envelope{ID: "srv-1", Type: msgType, Payload: raw})
	require.NoError(t, err)

	ts.mu.Lock()
	defer ts.mu.Unlock()
	require.NotNil(t, ts.client)
	require.NoError(t, ts.client.WriteMessage(ws.TextMessage, data))
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func newBridge(t *testing.T, ts *testServer) *Bridge {
	t.Helper()
	b := New(Config{URL: ts.url(), Secret: "s3cret"}, nil)
	require.NoError(t, b.Init())
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func tfMessage(child string) core.TransformMessage {
	return core.TransformMessage{Transforms: []core.TransformStamped{{
		FrameID:      "world",
		ChildFrameID: child,
		Transform:    core.IdentityTransform(),
	}}}
}

func TestInit_SendsSecret(t *testing.T) {
	ts := newTestServer(t)
	newBridge(t, ts)

	require.Eventually(t, func() bool { return ts.conns.Load() == 1 }, time.Second, 5*time.Millisecond)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	assert.Equal(t, "s3cret", ts.secret)
}

func TestInit_DialFailure(t *testing.T) {
	b := New(Config{URL: "ws://127.0.0.1:1/nowhere"}, nil)
	assert.Error(t, b.Init())
}

func TestPublish(t *testing.T) {
	ts := newTestServer(t)
	b := newBridge(t, ts)

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), tfMessage("base_link")))

	require.Eventually(t, func() bool {
		return len(ts.log.ofType(streaming.TypeTransform)) == 1
	}, time.Second, 5*time.Millisecond)

	env := ts.log.ofType(streaming.TypeTransform)[0]
	assert.NotEmpty(t, env.ID)

	var p streaming.TransformPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "tf_static", p.Topic)
	assert.Equal(t, "transient_local", p.Durability)
	require.Len(t, p.Message.Transforms, 1)
	assert.Equal(t, "base_link", p.Message.Transforms[0].ChildFrameID)
}

func TestPublisher_DurabilityMismatch(t *testing.T) {
	b := New(Config{}, nil)
	_, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	_, err = b.Publisher("tf_static", transport.Volatile)
	assert.Error(t, err)
}

func TestPublish_CancelledContext(t *testing.T) {
	b := New(Config{}, nil)
	pub, err := b.Publisher("tf", transport.Volatile)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, tfMessage("a")), context.Canceled)
}

func TestApplyChanges(t *testing.T) {
	ts := newTestServer(t)
	b := newBridge(t, ts)
	ctx := context.Background()

	require.NoError(t, b.Insert(ctx, core.InteractiveMarker{Name: "m2", FrameID: "base_link"}))
	require.NoError(t, b.Insert(ctx, core.InteractiveMarker{Name: "m1", FrameID: "base_link"}))
	require.NoError(t, b.SetVisual(ctx, "m1", core.Visual{Type: core.VisualCube}))
	require.NoError(t, b.ApplyChanges(ctx))

	upserts := ts.log.ofType(streaming.TypeMarkerUpsert)
	require.Len(t, upserts, 2)
	var first core.InteractiveMarker
	require.NoError(t, json.Unmarshal(upserts[0].Payload, &first))
	assert.Equal(t, "m1", first.Name)

	applies := ts.log.ofType(streaming.TypeApplyChanges)
	require.Len(t, applies, 1)
	var p streaming.ApplyChangesPayload
	require.NoError(t, json.Unmarshal(applies[0].Payload, &p))
	assert.Equal(t, []string{"m1", "m2"}, p.Markers)

	assert.Len(t, ts.log.ofType(streaming.TypeVisual), 1)
}

func TestApplyChanges_Timeout(t *testing.T) {
	ts := newTestServer(t)
	ts.noAck = true
	b := newBridge(t, ts)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.NoError(t, b.Insert(ctx, core.InteractiveMarker{Name: "m1"}))
	assert.Error(t, b.ApplyChanges(ctx))
}

func TestFeedbackEvents(t *testing.T) {
	ts := newTestServer(t)
	b := newBridge(t, ts)
	require.Eventually(t, func() bool { return ts.conns.Load() == 1 }, time.Second, 5*time.Millisecond)

	ev := core.FeedbackEvent{
		MarkerName: "m1",
		ClientID:   "rviz",
		EventType:  core.FeedbackPoseUpdate,
		Pose:       core.Pose{Position: core.Vector3{X: 1, Y: 2, Z: 3}, Orientation: core.IdentityQuaternion()},
	}
	ts.push(t, streaming.TypeFeedback, ev)

	select {
	case got := <-b.Events():
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("no feedback event")
	}
}

func TestReconnectReplaysRetained(t *testing.T) {
	prev := initialBackoff
	initialBackoff = 10 * time.Millisecond
	t.Cleanup(func() { initialBackoff = prev })

	ts := newTestServer(t)
	ts.onMessage = func(conn int32, env streaming.Envelope) bool {
		// drop the first connection once it has seen a transform
		return !(conn == 1 && env.Type == streaming.TypeTransform)
	}
	b := newBridge(t, ts)

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), tfMessage("base_link")))

	require.Eventually(t, func() bool {
		for _, r := range ts.log.all() {
			if r.conn == 2 && r.env.Type == streaming.TypeTransform {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReconnectReplaysEveryRetainedFrame(t *testing.T) {
	prev := initialBackoff
	initialBackoff = 10 * time.Millisecond
	t.Cleanup(func() { initialBackoff = prev })

	ts := newTestServer(t)
	ts.onMessage = func(conn int32, env streaming.Envelope) bool {
		if conn != 1 || env.Type != streaming.TypeTransform {
			return true
		}
		var p streaming.TransformPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return true
		}
		// drop the first connection after the single-frame update
		return len(p.Message.Transforms) == 0 || p.Message.Transforms[0].ChildFrameID != "m1"
	}
	b := newBridge(t, ts)

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	static := tfMessage("a")
	static.Transforms = append(static.Transforms, tfMessage("b").Transforms...)
	require.NoError(t, pub.Publish(context.Background(), static))
	require.NoError(t, pub.Publish(context.Background(), tfMessage("m1")))

	replayed := func() map[string]bool {
		seen := make(map[string]bool)
		for _, r := range ts.log.all() {
			if r.conn != 2 || r.env.Type != streaming.TypeTransform {
				continue
			}
			var p streaming.TransformPayload
			if err := json.Unmarshal(r.env.Payload, &p); err != nil {
				continue
			}
			for _, tf := range p.Message.Transforms {
				seen[tf.ChildFrameID] = true
			}
		}
		return seen
	}
	require.Eventually(t, func() bool { return len(replayed()) == 3 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, map[string]bool{"a": true, "b": true, "m1": true}, replayed())
}

func TestClose(t *testing.T) {
	ts := newTestServer(t)
	b := New(Config{URL: ts.url()}, nil)
	require.NoError(t, b.Init())

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, open := <-b.Events()
	assert.False(t, open)

	pub, err := b.Publisher("tf", transport.Volatile)
	require.NoError(t, err)
	assert.ErrorIs(t, pub.Publish(context.Background(), tfMessage("a")), transport.ErrClosed)
}

func TestDispatch(t *testing.T) {
	ts := newTestServer(t)
	b := New(Config{URL: ts.url(), EventBuffer: 1}, nil)
	require.NoError(t, b.Init())

	ctx := context.Background()
	require.NoError(t, b.Dispatch(ctx, core.FeedbackEvent{MarkerName: "m1"}))
	assert.Error(t, b.Dispatch(ctx, core.FeedbackEvent{MarkerName: "m2"}))
	assert.Equal(t, uint64(1), b.Dropped())

	ev := <-b.Events()
	assert.Equal(t, "m1", ev.MarkerName)

	require.NoError(t, b.Close())
	assert.ErrorIs(t, b.Dispatch(ctx, core.FeedbackEvent{MarkerName: "m3"}), transport.ErrClosed)
}
