package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/OCAP2/teachingmarkers/internal/imarker"
	"github.com/OCAP2/teachingmarkers/internal/orchestrator"
	"github.com/OCAP2/teachingmarkers/internal/relay"
	"github.com/OCAP2/teachingmarkers/pkg/core"
)

type handler struct {
	deps Dependencies
}

type statusResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// FrameRequest is the body of PUT /frames/{child}.
type FrameRequest struct {
	ParentFrameID string         `json:"parentFrameId"`
	Transform     core.Transform `json:"transform"`
	Activity      core.Activity  `json:"activity"`
}

// FeedbackRequest is the body of POST /markers/{name}/feedback.
type FeedbackRequest struct {
	ControlName string                 `json:"controlName,omitempty"`
	ClientID    string                 `json:"clientId,omitempty"`
	EventType   core.FeedbackEventType `json:"eventType"`
	Pose        core.Pose              `json:"pose"`
}

func (h *handler) listFrames(w http.ResponseWriter, _ *http.Request) {
	frames := h.deps.Frames.List()
	if frames == nil {
		frames = []core.FrameEntry{}
	}
	writeJSON(w, http.StatusOK, frames)
}

func (h *handler) putFrame(w http.ResponseWriter, r *http.Request) {
	var req FrameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	tf := req.Transform
	tf.Rotation = tf.Rotation.Normalized()
	entry := core.FrameEntry{
		ParentFrameID: strings.TrimSpace(req.ParentFrameID),
		ChildFrameID:  chi.URLParam(r, "child"),
		Transform:     tf,
		Activity:      req.Activity,
	}
	if err := entry.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	h.deps.Frames.Insert(entry)
	writeJSON(w, http.StatusOK, entry)
}

func (h *handler) listMarkers(w http.ResponseWriter, _ *http.Request) {
	markers := h.deps.Markers.Markers()
	if markers == nil {
		markers = []orchestrator.MarkerInfo{}
	}
	writeJSON(w, http.StatusOK, markers)
}

func (h *handler) createMarker(w http.ResponseWriter, r *http.Request) {
	var spec core.MarkerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := spec.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}
	if err := h.deps.Markers.Insert(r.Context(), spec); err != nil {
		status, code := mapError(err)
		writeError(w, r, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

func (h *handler) postFeedback(w http.ResponseWriter, r *http.Request) {
	if h.deps.Feedback == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "feedback injection is not available with this transport")
		return
	}
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	ev := core.FeedbackEvent{
		MarkerName:  chi.URLParam(r, "name"),
		ControlName: req.ControlName,
		ClientID:    req.ClientID,
		EventType:   req.EventType,
		Pose:        req.Pose,
	}
	if err := h.deps.Feedback.Dispatch(r.Context(), ev); err != nil {
		status, code := mapError(err)
		writeError(w, r, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, statusResponse{Status: "accepted"})
}

func (h *handler) relayStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.RelayStats == nil {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "relay not running")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.RelayStats())
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrRegistration):
		return http.StatusConflict, "registration_failed"
	case errors.Is(err, imarker.ErrUnknownMarker), errors.Is(err, orchestrator.ErrUnknownMarker):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, relay.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, relay.ErrClosed), errors.Is(err, imarker.ErrClosed):
		return http.StatusServiceUnavailable, "unavailable"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}
