package core

// FeedbackEventType mirrors visualization_msgs/InteractiveMarkerFeedback.
type FeedbackEventType uint8

const (
	FeedbackKeepAlive   FeedbackEventType = 0
	FeedbackPoseUpdate  FeedbackEventType = 1
	FeedbackMenuSelect  FeedbackEventType = 2
	FeedbackButtonClick FeedbackEventType = 3
	FeedbackMouseDown   FeedbackEventType = 4
	FeedbackMouseUp     FeedbackEventType = 5
)

// FeedbackEvent is a user edit reported by the marker server.
type FeedbackEvent struct {
	MarkerName  string            `json:"markerName"`
	ControlName string            `json:"controlName,omitempty"`
	ClientID    string            `json:"clientId,omitempty"`
	EventType   FeedbackEventType `json:"eventType"`
	Pose        Pose              `json:"pose"`
}
