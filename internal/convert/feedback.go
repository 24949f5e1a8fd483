// Package convert turns marker feedback into transform messages.
package convert

import (
	"fmt"
	"time"

	"github.com/OCAP2/teachingmarkers/internal/clock"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// FromFeedback maps one feedback pose to a message with exactly one record.
// The pose is copied verbatim; the orientation is not normalized.
func FromFeedback(name, spawnFrame string, pose core.Pose, stamp time.Time) core.TransformMessage {
	return core.TransformMessage{
		Transforms: []core.TransformStamped{{
			Stamp:        stamp,
			FrameID:      spawnFrame,
			ChildFrameID: name,
			Transform:    pose.Transform(),
		}},
	}
}

// Converter stamps converted feedback with the time of conversion.
type Converter struct {
	clock clock.Clock
}

// NewConverter creates a converter using c for stamps.
func NewConverter(c clock.Clock) *Converter {
	if c == nil {
		c = clock.System{}
	}
	return &Converter{clock: c}
}

// Convert builds the transform message for a feedback event on the named marker.
func (c *Converter) Convert(name, spawnFrame string, ev core.FeedbackEvent) (core.TransformMessage, error) {
	now, err := c.clock.Now()
	if err != nil {
		return core.TransformMessage{}, fmt.Errorf("stamping feedback for %s: %w", name, err)
	}
	return FromFeedback(name, spawnFrame, ev.Pose, now), nil
}

// Seed builds the initial message published when a marker is inserted.
func (c *Converter) Seed(name, spawnFrame string, pose core.Pose) (core.TransformMessage, error) {
	now, err := c.clock.Now()
	if err != nil {
		return core.TransformMessage{}, fmt.Errorf("stamping seed for %s: %w", name, err)
	}
	return FromFeedback(name, spawnFrame, pose, now), nil
}
