// Package catalog stores the latest frame tree and the runtime-created
// markers so they survive a restart. It keeps no history.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// Catalog reads and writes frames and markers through gorm.
type Catalog struct {
	db     *gorm.DB
	logger zerolog.Logger
}

// New creates a catalog on an open database.
func New(db *gorm.DB, logger zerolog.Logger) *Catalog {
	return &Catalog{db: db, logger: logger}
}

// Migrate creates or updates the catalog tables.
func (c *Catalog) Migrate() error {
	if err := c.db.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate catalog schema: %w", err)
	}
	c.logger.Info().Msg("Catalog schema migrated")
	return nil
}

func toFrameRecord(f core.FrameEntry) FrameRecord {
	t := f.Transform
	return FrameRecord{
		ChildFrameID:  f.ChildFrameID,
		ParentFrameID: f.ParentFrameID,
		TX:            t.Translation.X,
		TY:            t.Translation.Y,
		TZ:            t.Translation.Z,
		RX:            t.Rotation.X,
		RY:            t.Rotation.Y,
		RZ:            t.Rotation.Z,
		RW:            t.Rotation.W,
		Activity:      f.Activity.String(),
	}
}

func (r FrameRecord) entry() core.FrameEntry {
	// rows are written from Activity.String, so the name is always known
	activity, _ := core.ParseActivity(r.Activity)
	return core.FrameEntry{
		ParentFrameID: r.ParentFrameID,
		ChildFrameID:  r.ChildFrameID,
		Transform: core.Transform{
			Translation: core.Vector3{X: r.TX, Y: r.TY, Z: r.TZ},
			Rotation:    core.Quaternion{X: r.RX, Y: r.RY, Z: r.RZ, W: r.RW},
		},
		Activity: activity,
	}
}

// SaveFrames upserts frames by child frame id.
func (c *Catalog) SaveFrames(ctx context.Context, frames []core.FrameEntry) error {
	if len(frames) == 0 {
		return nil
	}
	records := make([]FrameRecord, 0, len(frames))
	for _, f := range frames {
		records = append(records, toFrameRecord(f))
	}
	err := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&records).Error
	if err != nil {
		return fmt.Errorf("saving %d frames: %w", len(records), err)
	}
	c.logger.Debug().Int("count", len(records)).Msg("Saved frames")
	return nil
}

// LoadFrames returns all stored frames ordered by child frame id.
func (c *Catalog) LoadFrames(ctx context.Context) ([]core.FrameEntry, error) {
	var records []FrameRecord
	if err := c.db.WithContext(ctx).Order("child_frame_id").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading frames: %w", err)
	}
	out := make([]core.FrameEntry, 0, len(records))
	for _, r := range records {
		out = append(out, r.entry())
	}
	return out, nil
}

func marshalOptional(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

// SaveMarker upserts a marker spec by name.
func (c *Catalog) SaveMarker(ctx context.Context, spec core.MarkerSpec) error {
	rec := MarkerRecord{Name: spec.Name, SpawnFrame: spec.SpawnFrame}

	var err error
	if spec.InitialPose != nil {
		if rec.InitialPose, err = marshalOptional(spec.InitialPose); err != nil {
			return fmt.Errorf("encoding pose of %s: %w", spec.Name, err)
		}
	}
	if spec.Visual != nil {
		if rec.Visual, err = marshalOptional(spec.Visual); err != nil {
			return fmt.Errorf("encoding visual of %s: %w", spec.Name, err)
		}
	}

	err = c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"spawn_frame", "initial_pose", "visual", "updated_at"}),
		}).
		Create(&rec).Error
	if err != nil {
		return fmt.Errorf("saving marker %s: %w", spec.Name, err)
	}
	return nil
}

// LoadMarkers returns all stored marker specs ordered by creation.
func (c *Catalog) LoadMarkers(ctx context.Context) ([]core.MarkerSpec, error) {
	var records []MarkerRecord
	if err := c.db.WithContext(ctx).Order("created_at, name").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("loading markers: %w", err)
	}

	out := make([]core.MarkerSpec, 0, len(records))
	for _, r := range records {
		spec := core.MarkerSpec{Name: r.Name, SpawnFrame: r.SpawnFrame}
		if len(r.InitialPose) > 0 {
			var p core.Pose
			if err := json.Unmarshal(r.InitialPose, &p); err != nil {
				c.logger.Warn().Err(err).Str("marker", r.Name).Msg("Skipping stored pose")
			} else {
				spec.InitialPose = &p
			}
		}
		if len(r.Visual) > 0 {
			var v core.Visual
			if err := json.Unmarshal(r.Visual, &v); err != nil {
				c.logger.Warn().Err(err).Str("marker", r.Name).Msg("Skipping stored visual")
			} else {
				spec.Visual = &v
			}
		}
		out = append(out, spec)
	}
	return out, nil
}
