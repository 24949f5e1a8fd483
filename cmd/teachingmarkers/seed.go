package main

import (
	"fmt"

	"github.com/OCAP2/teachingmarkers/internal/config"
	"github.com/OCAP2/teachingmarkers/internal/geo"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// frameEntries turns configured frames into registry entries. Anchored
// frames are placed relative to origin.
func frameEntries(frames []config.FrameConfig, origin config.Anchor) ([]core.FrameEntry, error) {
	out := make([]core.FrameEntry, 0, len(frames))
	for _, f := range frames {
		tf := core.Transform{
			Translation: f.Translation,
			Rotation:    core.IdentityQuaternion(),
		}
		if f.Rotation != nil {
			tf.Rotation = f.Rotation.Normalized()
		}
		if f.Anchor != nil {
			offset, err := geo.Offset(geodetic(origin), geodetic(*f.Anchor))
			if err != nil {
				return nil, fmt.Errorf("frame %q: anchor: %w", f.Child, err)
			}
			tf.Translation = offset
		}

		activity, err := core.ParseActivity(f.Activity)
		if err != nil {
			return nil, fmt.Errorf("frame %q: %w", f.Child, err)
		}

		entry := core.FrameEntry{
			ParentFrameID: f.Parent,
			ChildFrameID:  f.Child,
			Transform:     tf,
			Activity:      activity,
		}
		if err := entry.Validate(); err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func geodetic(a config.Anchor) geo.Geodetic {
	return geo.Geodetic{Longitude: a.Longitude, Latitude: a.Latitude, Altitude: a.Altitude}
}

// markerSpecs converts configured markers. The visual is drawn in the
// marker's own frame with identity orientation.
func markerSpecs(markers []config.MarkerConfig) ([]core.MarkerSpec, error) {
	out := make([]core.MarkerSpec, 0, len(markers))
	for _, m := range markers {
		spec := core.MarkerSpec{
			Name:        m.Name,
			SpawnFrame:  m.SpawnFrame,
			InitialPose: m.InitialPose,
		}
		if m.Visual != nil {
			typ, err := core.ParseVisualType(m.Visual.Type)
			if err != nil {
				return nil, fmt.Errorf("marker %q: %w", m.Name, err)
			}
			spec.Visual = &core.Visual{
				Type: typ,
				Pose: core.Pose{
					Position:    m.Visual.Position,
					Orientation: core.IdentityQuaternion(),
				},
				Scale:        m.Visual.Scale,
				Color:        m.Visual.Color,
				MeshResource: m.Visual.MeshResource,
			}
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}

// mergeMarkers appends stored specs whose names the config does not define.
func mergeMarkers(configured, stored []core.MarkerSpec) []core.MarkerSpec {
	seen := make(map[string]bool, len(configured))
	for _, s := range configured {
		seen[s.Name] = true
	}
	out := append([]core.MarkerSpec(nil), configured...)
	for _, s := range stored {
		if !seen[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
