package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Activity decides whether a frame is republished by the static broadcaster.
type Activity uint8

const (
	// ActivityUnset is the zero value. It is suppressed like ActivityActive.
	ActivityUnset Activity = iota
	// ActivityInactive frames are republished on every static broadcast tick.
	ActivityInactive
	// ActivityActive frames are owned by live feedback.
	ActivityActive
)

func (a Activity) String() string {
	switch a {
	case ActivityInactive:
		return "inactive"
	case ActivityActive:
		return "active"
	default:
		return "unset"
	}
}

// ErrUnknownActivity is returned for activity names ParseActivity does not know.
var ErrUnknownActivity = errors.New("unknown frame activity")

// ParseActivity converts a config string into an Activity.
// Empty values map to ActivityUnset.
func ParseActivity(s string) (Activity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "inactive", "static":
		return ActivityInactive, nil
	case "active":
		return ActivityActive, nil
	case "", "unset":
		return ActivityUnset, nil
	default:
		return ActivityUnset, fmt.Errorf("%w: %q", ErrUnknownActivity, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (a Activity) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Activity) UnmarshalText(b []byte) error {
	parsed, err := ParseActivity(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FrameEntry is one node of the coordinate frame tree.
type FrameEntry struct {
	ParentFrameID string    `json:"parentFrameId"`
	ChildFrameID  string    `json:"childFrameId"` // registry key
	Transform     Transform `json:"transform"`
	Activity      Activity  `json:"activity"`
}

// Static reports whether the entry is eligible for static broadcast.
func (f FrameEntry) Static() bool {
	return f.Activity == ActivityInactive
}

// Validate checks the ids needed to place the frame in a tree.
func (f FrameEntry) Validate() error {
	if f.ChildFrameID == "" {
		return fmt.Errorf("frame entry: empty child frame id")
	}
	if f.ParentFrameID == "" {
		return fmt.Errorf("frame %q: empty parent frame id", f.ChildFrameID)
	}
	if f.ParentFrameID == f.ChildFrameID {
		return fmt.Errorf("frame %q: parent equals child", f.ChildFrameID)
	}
	return nil
}

// Stamped builds a record for the entry at the given time.
func (f FrameEntry) Stamped(stamp time.Time) TransformStamped {
	return TransformStamped{
		Stamp:        stamp,
		FrameID:      f.ParentFrameID,
		ChildFrameID: f.ChildFrameID,
		Transform:    f.Transform,
	}
}

// TransformStamped is a single timestamped transform record.
type TransformStamped struct {
	Stamp        time.Time `json:"stamp"`
	FrameID      string    `json:"frameId"` // parent
	ChildFrameID string    `json:"childFrameId"`
	Transform    Transform `json:"transform"`
}

// TransformMessage is the unit of publication.
type TransformMessage struct {
	Transforms []TransformStamped `json:"transforms"`
}
