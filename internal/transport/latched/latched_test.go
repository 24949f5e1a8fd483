package latched

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/teachingmarkers/internal/transport"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

func msg(child string) core.TransformMessage {
	return core.TransformMessage{Transforms: []core.TransformStamped{{
		FrameID:      "world",
		ChildFrameID: child,
		Transform:    core.IdentityTransform(),
	}}}
}

func receive(t *testing.T, ch <-chan core.TransformMessage) core.TransformMessage {
	t.Helper()
	select {
	case m, ok := <-ch:
		require.True(t, ok, "channel closed")
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return core.TransformMessage{}
}

func TestTransientLocal_LateSubscriberGetsLast(t *testing.T) {
	b := New()
	defer b.Close()

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)

	require.NoError(t, pub.Publish(context.Background(), msg("first")))
	require.NoError(t, pub.Publish(context.Background(), msg("second")))

	ch, cancel, err := b.Subscribe("tf_static", transport.TransientLocal, 4)
	require.NoError(t, err)
	defer cancel()

	got := receive(t, ch)
	assert.Equal(t, "second", got.Transforms[0].ChildFrameID)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra message %+v", extra)
	default:
	}
}

func TestVolatile_LateSubscriberGetsNothing(t *testing.T) {
	b := New()
	defer b.Close()

	pub, err := b.Publisher("tf", transport.Volatile)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), msg("early")))

	ch, cancel, err := b.Subscribe("tf", transport.Volatile, 1)
	require.NoError(t, err)
	defer cancel()

	select {
	case m := <-ch:
		t.Fatalf("volatile topic replayed %+v", m)
	default:
	}

	_, ok := b.Last("tf")
	assert.False(t, ok)

	require.NoError(t, pub.Publish(context.Background(), msg("live")))
	assert.Equal(t, "live", receive(t, ch).Transforms[0].ChildFrameID)
}

func TestPublish_OrderPreserved(t *testing.T) {
	b := New()
	defer b.Close()

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	ch, cancel, err := b.Subscribe("tf_static", transport.TransientLocal, 16)
	require.NoError(t, err)
	defer cancel()

	names := []string{"a", "b", "c", "d"}
	for _, n := range names {
		require.NoError(t, pub.Publish(context.Background(), msg(n)))
	}
	for _, n := range names {
		assert.Equal(t, n, receive(t, ch).Transforms[0].ChildFrameID)
	}
	assert.Equal(t, uint64(4), b.Published("tf_static"))
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	defer b.Close()

	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	_, cancel, err := b.Subscribe("tf_static", transport.TransientLocal, 1)
	require.NoError(t, err)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = pub.Publish(context.Background(), msg("x"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on slow subscriber")
	}
}

func TestDurabilityMismatch(t *testing.T) {
	b := New()
	defer b.Close()

	_, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	_, err = b.Publisher("tf_static", transport.Volatile)
	assert.ErrorIs(t, err, ErrDurabilityMismatch)
}

func TestClose(t *testing.T) {
	b := New()
	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)
	ch, cancel, err := b.Subscribe("tf_static", transport.TransientLocal, 1)
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	_, ok := <-ch
	assert.False(t, ok, "subscriber channel should be closed")
	cancel() // must not double close

	assert.ErrorIs(t, pub.Publish(context.Background(), msg("late")), transport.ErrClosed)
	_, err = b.Publisher("other", transport.Volatile)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestPublish_CancelledContext(t *testing.T) {
	b := New()
	defer b.Close()
	pub, err := b.Publisher("tf_static", transport.TransientLocal)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pub.Publish(ctx, msg("x")), context.Canceled)
}
