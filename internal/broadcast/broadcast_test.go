package broadcast

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/teachingmarkers/internal/clock"
	"github.com/OCAP2/teachingmarkers/internal/registry"
	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/internal/transport/latched"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

var stamp = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func frame(parent, child string, a core.Activity) core.FrameEntry {
	return core.FrameEntry{
		ParentFrameID: parent,
		ChildFrameID:  child,
		Transform:     core.IdentityTransform(),
		Activity:      a,
	}
}

type capture struct {
	mu   sync.Mutex
	msgs []core.TransformMessage
	err  error
}

func (c *capture) Publish(_ context.Context, msg core.TransformMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return c.err
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func newBroadcaster(t *testing.T, reg *registry.Registry, pub transport.Publisher, c clock.Clock) *Broadcaster {
	t.Helper()
	b, err := New(reg, pub, c, nopLogger{}, 5*time.Millisecond)
	require.NoError(t, err)
	return b
}

func TestNew_Defaults(t *testing.T) {
	b, err := New(registry.New(), &capture{}, nil, nopLogger{}, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultInterval, b.Interval())

	_, err = New(nil, &capture{}, nil, nopLogger{}, 0)
	assert.Error(t, err)
}

func TestTick_SingleStaticFrame(t *testing.T) {
	seed := core.FrameEntry{
		ParentFrameID: "world",
		ChildFrameID:  "base_link",
		Transform: core.Transform{
			Translation: core.Vector3{Z: 1},
			Rotation:    core.IdentityQuaternion(),
		},
		Activity: core.ActivityInactive,
	}
	pub := &capture{}
	b := newBroadcaster(t, registry.New(seed), pub, clock.Fixed(stamp))

	msg, err := b.Tick(context.Background())
	require.NoError(t, err)

	want := core.TransformMessage{Transforms: []core.TransformStamped{{
		Stamp:        stamp,
		FrameID:      "world",
		ChildFrameID: "base_link",
		Transform: core.Transform{
			Translation: core.Vector3{X: 0, Y: 0, Z: 1},
			Rotation:    core.Quaternion{X: 0, Y: 0, Z: 0, W: 1},
		},
	}}}
	if diff := cmp.Diff(want, msg); diff != "" {
		t.Errorf("tick message mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, 1, pub.count())
	assert.Equal(t, want, pub.msgs[0])
}

func TestTick_FiltersByActivity(t *testing.T) {
	reg := registry.New(
		frame("world", "c_inactive", core.ActivityInactive),
		frame("world", "b_active", core.ActivityActive),
		frame("world", "a_unset", core.ActivityUnset),
		frame("world", "a_inactive", core.ActivityInactive),
	)
	b := newBroadcaster(t, reg, &capture{}, clock.Fixed(stamp))

	msg, err := b.Tick(context.Background())
	require.NoError(t, err)

	var children []string
	for _, tf := range msg.Transforms {
		children = append(children, tf.ChildFrameID)
		assert.Equal(t, stamp, tf.Stamp)
	}
	assert.Equal(t, []string{"a_inactive", "c_inactive"}, children)
}

func TestTick_UnsetExcludedLikeActive(t *testing.T) {
	for _, a := range []core.Activity{core.ActivityUnset, core.ActivityActive} {
		t.Run(a.String(), func(t *testing.T) {
			b := newBroadcaster(t, registry.New(frame("world", "f", a)), &capture{}, clock.Fixed(stamp))
			for i := 0; i < 3; i++ {
				msg, err := b.Tick(context.Background())
				require.NoError(t, err)
				assert.Empty(t, msg.Transforms)
			}
		})
	}
}

func TestTick_SeesRegistryChanges(t *testing.T) {
	reg := registry.New()
	b := newBroadcaster(t, reg, &capture{}, clock.Fixed(stamp))

	msg, err := b.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msg.Transforms)

	reg.Insert(frame("world", "late", core.ActivityInactive))
	msg, err = b.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, msg.Transforms, 1)

	reg.Insert(frame("world", "late", core.ActivityActive))
	msg, err = b.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, msg.Transforms)
}

func TestTick_PublishFailureIsNotFatal(t *testing.T) {
	pub := &capture{err: errors.New("network down")}
	b := newBroadcaster(t, registry.New(frame("world", "f", core.ActivityInactive)), pub, clock.Fixed(stamp))

	_, err := b.Tick(context.Background())
	require.NoError(t, err)
	_, err = b.Tick(context.Background())
	require.NoError(t, err)

	st := b.Stats()
	assert.Equal(t, uint64(2), st.Ticks)
	assert.Equal(t, uint64(2), st.Failures)
	assert.Equal(t, 1, st.LastSize)
}

func TestTick_ClockFailure(t *testing.T) {
	pub := &capture{}
	b := newBroadcaster(t, registry.New(), pub, clock.Failing(errors.New("no time source")))

	_, err := b.Tick(context.Background())
	assert.ErrorIs(t, err, ErrClock)
	assert.ErrorIs(t, err, clock.ErrUnavailable)
	assert.Zero(t, pub.count())
}

func TestRun_AbortsOnClockFailure(t *testing.T) {
	b := newBroadcaster(t, registry.New(), &capture{}, clock.Failing(errors.New("no time source")))

	done := make(chan error, 1)
	go func() { done <- b.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClock)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after clock failure")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	pub := &capture{}
	b := newBroadcaster(t, registry.New(frame("world", "f", core.ActivityInactive)), pub, clock.System{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() >= 3 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_LateSubscriberReceivesLatest(t *testing.T) {
	bus := latched.New()
	defer bus.Close()

	pub, err := bus.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)

	b := newBroadcaster(t, registry.New(frame("world", "base_link", core.ActivityInactive)), pub, clock.Fixed(stamp))
	_, err = b.Tick(context.Background())
	require.NoError(t, err)

	ch, cancel, err := bus.Subscribe("tf_static", transport.TransientLocal, 1)
	require.NoError(t, err)
	defer cancel()

	select {
	case msg := <-ch:
		require.Len(t, msg.Transforms, 1)
		assert.Equal(t, "base_link", msg.Transforms[0].ChildFrameID)
	case <-time.After(time.Second):
		t.Fatal("late subscriber received nothing")
	}
}
