// Package streaming defines the JSON envelopes exchanged with a
// visualization bridge over WebSocket.
package streaming

import (
	"encoding/json"

	"github.com/OCAP2/teachingmarkers/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeTransform    = "transform"
	TypeMarkerUpsert = "marker_upsert"
	TypeVisual       = "visual"
	TypeApplyChanges = "apply_changes"
	TypeFeedback     = "feedback"
	TypeAck          = "ack"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
	ID   string `json:"id,omitempty"`
}

// Inbound is any message read from the server: an ack or an envelope.
type Inbound struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	For     string          `json:"for,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// TransformPayload carries one transform message on a named topic.
type TransformPayload struct {
	Topic      string                `json:"topic"`
	Durability string                `json:"durability"`
	Message    core.TransformMessage `json:"message"`
}

// VisualPayload attaches a visual to a marker.
type VisualPayload struct {
	Name   string      `json:"name"`
	Visual core.Visual `json:"visual"`
}

// ApplyChangesPayload lists the markers published by an apply_changes.
type ApplyChangesPayload struct {
	Markers []string `json:"markers"`
}
