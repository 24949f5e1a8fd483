package imarker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

func marker(name string) core.InteractiveMarker {
	return core.InteractiveMarker{Name: name, FrameID: "base_link", Scale: 0.3, Pose: core.IdentityPose()}
}

func TestInsert_StagedUntilApply(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, marker("m1")))
	_, ok := s.Get("m1")
	assert.False(t, ok)

	require.NoError(t, s.ApplyChanges(ctx))
	got, ok := s.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "m1", got.Name)
	assert.Equal(t, uint64(1), s.Applied())
}

func TestInsert_Replaces(t *testing.T) {
	s := New()
	ctx := context.Background()

	m := marker("m1")
	require.NoError(t, s.Insert(ctx, m))
	m.FrameID = "world"
	require.NoError(t, s.Insert(ctx, m))
	require.NoError(t, s.ApplyChanges(ctx))

	got, _ := s.Get("m1")
	assert.Equal(t, "world", got.FrameID)
	assert.Equal(t, []string{"m1"}, s.Names())
}

func TestInsert_RejectDuplicates(t *testing.T) {
	s := New(RejectDuplicates())
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, marker("m1")))
	assert.ErrorIs(t, s.Insert(ctx, marker("m1")), ErrDuplicate)

	require.NoError(t, s.ApplyChanges(ctx))
	assert.ErrorIs(t, s.Insert(ctx, marker("m1")), ErrDuplicate)
}

func TestInsert_RequiresName(t *testing.T) {
	assert.Error(t, New().Insert(context.Background(), core.InteractiveMarker{}))
}

func TestSetVisual(t *testing.T) {
	s := New()
	v := core.Visual{Type: core.VisualMeshResource, MeshResource: "package://m/mesh.stl"}
	require.NoError(t, s.SetVisual(context.Background(), "m1", v))

	got, ok := s.Visual("m1")
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestDispatch(t *testing.T) {
	s := New(Buffered(1))
	ctx := context.Background()

	ev := core.FeedbackEvent{MarkerName: "m1", Pose: core.IdentityPose()}
	assert.ErrorIs(t, s.Dispatch(ctx, ev), ErrUnknownMarker)

	require.NoError(t, s.Insert(ctx, marker("m1")))
	require.NoError(t, s.ApplyChanges(ctx))
	require.NoError(t, s.Dispatch(ctx, ev))

	select {
	case got := <-s.Events():
		assert.Equal(t, ev, got)
	case <-time.After(time.Second):
		t.Fatal("no event")
	}
}

func TestDispatch_FullBuffer(t *testing.T) {
	ctx := context.Background()

	s := New(Buffered(1), NonBlocking())
	require.NoError(t, s.Insert(ctx, marker("m1")))
	require.NoError(t, s.ApplyChanges(ctx))
	ev := core.FeedbackEvent{MarkerName: "m1"}
	require.NoError(t, s.Dispatch(ctx, ev))
	assert.Error(t, s.Dispatch(ctx, ev))

	b := New(Buffered(1))
	require.NoError(t, b.Insert(ctx, marker("m1")))
	require.NoError(t, b.ApplyChanges(ctx))
	require.NoError(t, b.Dispatch(ctx, ev))
	cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, b.Dispatch(cctx, ev), context.DeadlineExceeded)
}

func TestClose(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, open := <-s.Events()
	assert.False(t, open)
	assert.ErrorIs(t, s.Insert(ctx, marker("m1")), ErrClosed)
	assert.ErrorIs(t, s.ApplyChanges(ctx), ErrClosed)
	assert.ErrorIs(t, s.Dispatch(ctx, core.FeedbackEvent{MarkerName: "m1"}), ErrClosed)
}
