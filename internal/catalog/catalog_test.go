package catalog

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

func setupTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	c := New(db, zerolog.Nop())
	require.NoError(t, c.Migrate())
	return c
}

func TestFrames_RoundTripAndUpsert(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	baseLink := core.FrameEntry{
		ParentFrameID: "world",
		ChildFrameID:  "base_link",
		Transform: core.Transform{
			Translation: core.Vector3{Z: 1},
			Rotation:    core.IdentityQuaternion(),
		},
		Activity: core.ActivityInactive,
	}
	marker := core.FrameEntry{
		ParentFrameID: "base_link",
		ChildFrameID:  "m1",
		Transform:     core.IdentityTransform(),
		Activity:      core.ActivityActive,
	}
	require.NoError(t, c.SaveFrames(ctx, []core.FrameEntry{marker, baseLink}))

	marker.Transform.Translation = core.Vector3{X: 1, Y: 2, Z: 3}
	require.NoError(t, c.SaveFrames(ctx, []core.FrameEntry{marker}))

	frames, err := c.LoadFrames(ctx)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, baseLink, frames[0])
	assert.Equal(t, marker, frames[1])
}

func TestSaveFrames_Empty(t *testing.T) {
	c := setupTestCatalog(t)
	require.NoError(t, c.SaveFrames(context.Background(), nil))

	frames, err := c.LoadFrames(context.Background())
	require.NoError(t, err)
	assert.Empty(t, frames)
}

func TestMarkers_RoundTripAndUpsert(t *testing.T) {
	c := setupTestCatalog(t)
	ctx := context.Background()

	visual := core.Visual{
		Type:         core.VisualMeshResource,
		Scale:        core.Vector3{X: 0.004, Y: 0.004, Z: 0.004},
		Color:        core.ColorRGBA{R: 0.8, G: 0.1, B: 0.1, A: 1},
		MeshResource: "package://teaching_markers/3DBenchy.stl",
	}
	pose := core.Pose{Position: core.Vector3{X: 0.5}, Orientation: core.IdentityQuaternion()}

	require.NoError(t, c.SaveMarker(ctx, core.MarkerSpec{Name: "teaching_marker", SpawnFrame: "base_link", Visual: &visual}))
	require.NoError(t, c.SaveMarker(ctx, core.MarkerSpec{Name: "teaching_marker_2", SpawnFrame: "base_link"}))
	require.NoError(t, c.SaveMarker(ctx, core.MarkerSpec{Name: "teaching_marker_2", SpawnFrame: "world", InitialPose: &pose}))

	specs, err := c.LoadMarkers(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 2)

	byName := map[string]core.MarkerSpec{}
	for _, s := range specs {
		byName[s.Name] = s
	}

	first := byName["teaching_marker"]
	require.NotNil(t, first.Visual)
	assert.Equal(t, visual, *first.Visual)
	assert.Nil(t, first.InitialPose)

	second := byName["teaching_marker_2"]
	assert.Equal(t, "world", second.SpawnFrame)
	require.NotNil(t, second.InitialPose)
	assert.Equal(t, pose, *second.InitialPose)
	assert.Nil(t, second.Visual)
}
