package orchestrator

import (
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// MarkerScale is the size of every teaching marker's handles.
const MarkerScale float32 = 0.3

var axes = []core.Axis{core.AxisX, core.AxisY, core.AxisZ}

// Controls returns the six handles of a teaching marker: a rotate and a move
// control for each of X, Y and Z, in that order.
func Controls() []core.Control {
	out := make([]core.Control, 0, 2*len(axes))
	for _, a := range axes {
		out = append(out,
			control("rotate_"+a.String(), core.InteractionRotateAxis, a),
			control("move_"+a.String(), core.InteractionMoveAxis, a),
		)
	}
	return out
}

func control(name string, mode core.InteractionMode, a core.Axis) core.Control {
	q := core.Quaternion{W: 1}
	switch a {
	case core.AxisX:
		q.X = 1
	case core.AxisY:
		q.Y = 1
	case core.AxisZ:
		q.Z = 1
	}
	return core.Control{
		Name:            name,
		InteractionMode: mode,
		Axis:            a,
		Orientation:     q.Normalized(),
		AlwaysVisible:   true,
	}
}

// BuildMarker turns a spec into the interactive marker registered with the
// marker server.
func BuildMarker(spec core.MarkerSpec) core.InteractiveMarker {
	return core.InteractiveMarker{
		Name:        spec.Name,
		FrameID:     spec.SpawnFrame,
		Description: spec.Name,
		Scale:       MarkerScale,
		Pose:        core.IdentityPose(),
		Controls:    Controls(),
	}
}
