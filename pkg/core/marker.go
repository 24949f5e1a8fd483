package core

import (
	"fmt"
	"strings"
)

// InteractionMode is the manipulation a control offers to the client.
// Values follow visualization_msgs/InteractiveMarkerControl.
type InteractionMode uint8

const (
	InteractionNone       InteractionMode = 0
	InteractionMenu       InteractionMode = 1
	InteractionButton     InteractionMode = 2
	InteractionMoveAxis   InteractionMode = 3
	InteractionMovePlane  InteractionMode = 4
	InteractionRotateAxis InteractionMode = 5
	InteractionMoveRotate InteractionMode = 6
)

func (m InteractionMode) String() string {
	switch m {
	case InteractionMoveAxis:
		return "move_axis"
	case InteractionRotateAxis:
		return "rotate_axis"
	case InteractionMovePlane:
		return "move_plane"
	case InteractionMoveRotate:
		return "move_rotate"
	case InteractionButton:
		return "button"
	case InteractionMenu:
		return "menu"
	default:
		return "none"
	}
}

// Axis selects one of the three principal axes.
type Axis uint8

const (
	AxisX Axis = iota
	AxisY
	AxisZ
)

func (a Axis) String() string {
	switch a {
	case AxisX:
		return "x"
	case AxisY:
		return "y"
	default:
		return "z"
	}
}

// Control is one handle of an interactive marker.
type Control struct {
	Name            string          `json:"name"`
	InteractionMode InteractionMode `json:"interactionMode"`
	Axis            Axis            `json:"axis"`
	Orientation     Quaternion      `json:"orientation"`
	AlwaysVisible   bool            `json:"alwaysVisible"`
	Visuals         []Visual        `json:"visuals,omitempty"`
}

// VisualType is the shape of a visual, following visualization_msgs/Marker.
type VisualType int32

const (
	VisualArrow        VisualType = 0
	VisualCube         VisualType = 1
	VisualSphere       VisualType = 2
	VisualCylinder     VisualType = 3
	VisualMeshResource VisualType = 10
)

// ParseVisualType converts a config shape name.
func ParseVisualType(s string) (VisualType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "arrow":
		return VisualArrow, nil
	case "", "cube":
		return VisualCube, nil
	case "sphere":
		return VisualSphere, nil
	case "cylinder":
		return VisualCylinder, nil
	case "mesh", "mesh_resource":
		return VisualMeshResource, nil
	default:
		return 0, fmt.Errorf("unknown visual type %q", s)
	}
}

// ColorRGBA channels are in [0, 1].
type ColorRGBA struct {
	R float32 `json:"r"`
	G float32 `json:"g"`
	B float32 `json:"b"`
	A float32 `json:"a"`
}

// Visual describes what the client draws inside a marker.
// MeshResource is an opaque URL, never opened here.
type Visual struct {
	Type         VisualType `json:"type"`
	FrameID      string     `json:"frameId"`
	Pose         Pose       `json:"pose"`
	Scale        Vector3    `json:"scale"`
	Color        ColorRGBA  `json:"color"`
	MeshResource string     `json:"meshResource,omitempty"`
}

// InteractiveMarker is the declarative marker handed to the marker server.
type InteractiveMarker struct {
	Name        string    `json:"name"`    // also the child frame id of its transform
	FrameID     string    `json:"frameId"` // spawn frame
	Description string    `json:"description"`
	Scale       float32   `json:"scale"`
	Pose        Pose      `json:"pose"`
	Controls    []Control `json:"controls"`
}

// MarkerSpec is the per-marker configuration accepted by the orchestrator.
type MarkerSpec struct {
	Name        string  `json:"name"`
	SpawnFrame  string  `json:"spawnFrame"`
	InitialPose *Pose   `json:"initialPose,omitempty"`
	Visual      *Visual `json:"visual,omitempty"`
}

// Validate checks that the spec can be registered.
func (s MarkerSpec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("marker spec: empty name")
	}
	if strings.TrimSpace(s.SpawnFrame) == "" {
		return fmt.Errorf("marker %q: empty spawn frame", s.Name)
	}
	if s.Name == s.SpawnFrame {
		return fmt.Errorf("marker %q: spawn frame equals marker name", s.Name)
	}
	return nil
}

// Pose returns the initial pose or identity.
func (s MarkerSpec) Pose() Pose {
	if s.InitialPose == nil {
		return IdentityPose()
	}
	return *s.InitialPose
}
