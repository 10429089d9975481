package playback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/zsiec/nanoplay/internal/errors"
	"github.com/zsiec/nanoplay/internal/health"
	"github.com/zsiec/nanoplay/internal/logger"
	"github.com/zsiec/nanoplay/internal/playback/input"
	"github.com/zsiec/nanoplay/internal/playback/registry"
	"github.com/zsiec/nanoplay/internal/playback/types"
)

// Handlers serves the playback status API.
type Handlers struct {
	player   *Player
	registry registry.Registry
	errors   *apperrors.ErrorHandler
	logger   logger.Logger
}

// NewHandlers creates the API handlers. With a nil reg the session
// endpoints answer 503.
func NewHandlers(p *Player, reg registry.Registry, errs *apperrors.ErrorHandler, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNullLogger()
	}
	if errs == nil {
		errs = apperrors.NewErrorHandler(log)
	}
	return &Handlers{
		player:   p,
		registry: reg,
		errors:   errs,
		logger:   logger.WithComponent(log, "playback_handlers"),
	}
}

// RegisterRoutes registers the playback API routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/playback", h.HandlePlayback).Methods(http.MethodGet)
	api.HandleFunc("/playback/stats", h.HandleStats).Methods(http.MethodGet)
	api.HandleFunc("/playback/snapshot.png", h.HandleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/playback/{stream}/reinit", h.HandleReinit).Methods(http.MethodPost)
	api.HandleFunc("/playback/{stream}/parameters", h.HandleParameters).Methods(http.MethodPost)

	api.HandleFunc("/sessions", h.HandleListSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", h.HandleGetSession).Methods(http.MethodGet)

	api.HandleFunc("/input", h.HandleInputState).Methods(http.MethodGet)
	api.HandleFunc("/input", h.HandleInputEvent).Methods(http.MethodPost)

	h.logger.Info("Playback routes registered")
}

// PlaybackResponse summarizes the session.
type PlaybackResponse struct {
	SessionID string            `json:"session_id"`
	State     string            `json:"state"`
	Backend   string            `json:"backend"`
	Audio     *StreamSummaryDTO `json:"audio,omitempty"`
	Video     *StreamSummaryDTO `json:"video,omitempty"`
	Time      time.Time         `json:"time"`
}

// StreamSummaryDTO is the short per-stream view.
type StreamSummaryDTO struct {
	Format     string `json:"format"`
	State      string `json:"state"`
	Running    bool   `json:"running"`
	Decoded    uint64 `json:"decoded"`
	Queued     int64  `json:"queued"`
	DoResample bool   `json:"do_resample"`
	Error      string `json:"error,omitempty"`
}

func summarize(ss *StreamStats) *StreamSummaryDTO {
	if ss == nil {
		return nil
	}
	dto := &StreamSummaryDTO{
		Format:     ss.Format,
		State:      ss.Context.State,
		Decoded:    ss.Context.Decoded,
		Queued:     ss.Input.Depth,
		DoResample: ss.Context.DoResample,
		Error:      ss.Error,
	}
	if ss.Worker != nil {
		dto.Running = ss.Worker.Running
	}
	return dto
}

// HandlePlayback returns the session summary.
func (h *Handlers) HandlePlayback(w http.ResponseWriter, r *http.Request) {
	st := h.player.GetStats()
	h.writeJSON(w, http.StatusOK, PlaybackResponse{
		SessionID: st.SessionID,
		State:     st.State,
		Backend:   st.Backend,
		Audio:     summarize(st.Audio),
		Video:     summarize(st.Video),
		Time:      time.Now(),
	})
}

// HandleStats returns the full component statistics.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.player.GetStats())
}

// HandleReinit flushes one stream's decoder.
func (h *Handlers) HandleReinit(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.streamKind(w, r)
	if !ok {
		return
	}
	if err := h.player.Reinit(kind); err != nil {
		h.errors.HandleError(w, r, h.streamError(err, kind))
		return
	}
	logger.FromContext(r.Context()).Info("Reinit queued")
	h.writeJSON(w, http.StatusAccepted, map[string]string{
		"stream": kind.String(),
		"status": "reinit queued",
	})
}

// ParametersRequest carries codec parameters as base64 in JSON.
type ParametersRequest struct {
	Data []byte `json:"data"`
}

// HandleParameters injects out-of-band codec parameters.
func (h *Handlers) HandleParameters(w http.ResponseWriter, r *http.Request) {
	kind, ok := h.streamKind(w, r)
	if !ok {
		return
	}
	var req ParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError("invalid request body"))
		return
	}
	if len(req.Data) == 0 {
		h.errors.HandleError(w, r, apperrors.NewValidationError("data is required"))
		return
	}
	if err := h.player.UpdateCodecParameters(kind, req.Data); err != nil {
		h.errors.HandleError(w, r, h.streamError(err, kind))
		return
	}
	logger.FromContext(r.Context()).WithField("bytes", len(req.Data)).Info("Codec parameters queued")
	h.writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"stream": kind.String(),
		"bytes":  len(req.Data),
	})
}

// HandleSnapshot returns the last presented frame as PNG.
func (h *Handlers) HandleSnapshot(w http.ResponseWriter, r *http.Request) {
	data, err := h.player.Snapshot()
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewNotFoundError("frame").WithDetails(map[string]interface{}{
			"reason": err.Error(),
		}))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.WithError(err).Debug("Failed to write snapshot")
	}
}

// SessionListResponse lists registered sessions.
type SessionListResponse struct {
	Sessions []*registry.Session `json:"sessions"`
	Count    int                 `json:"count"`
	Time     time.Time           `json:"time"`
}

// HandleListSessions lists sessions from the registry.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("session registry"))
		return
	}
	sessions, err := h.registry.List(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "failed to list sessions"))
		return
	}
	h.writeJSON(w, http.StatusOK, SessionListResponse{
		Sessions: sessions,
		Count:    len(sessions),
		Time:     time.Now(),
	})
}

// HandleGetSession returns one session.
func (h *Handlers) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.errors.HandleError(w, r, apperrors.NewServiceDownError("session registry"))
		return
	}
	id := mux.Vars(r)["id"]
	sess, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, registry.ErrSessionNotFound) {
			h.errors.HandleError(w, r, apperrors.NewNotFoundError("session "+id))
			return
		}
		h.errors.HandleError(w, r, apperrors.WrapInternalError(err, "failed to get session"))
		return
	}
	h.writeJSON(w, http.StatusOK, sess)
}

// InputEventRequest is the JSON form of a controller event.
type InputEventRequest struct {
	Type       string `json:"type"`
	Controller int    `json:"controller"`
	Timestamp  uint32 `json:"timestamp,omitempty"`
	Button     string `json:"button,omitempty"`
	Axis       string `json:"axis,omitempty"`
	Value      int16  `json:"value,omitempty"`
}

func (req InputEventRequest) event() (input.Event, error) {
	et, err := input.ParseEventType(req.Type)
	if err != nil {
		return input.Event{}, err
	}
	e := input.Event{Type: et, Controller: req.Controller, Timestamp: req.Timestamp, Value: req.Value}
	switch et {
	case input.EventButtonPressed, input.EventButtonReleased:
		if e.Button, err = input.ParseButton(req.Button); err != nil {
			return input.Event{}, err
		}
	case input.EventAxisMoved:
		if e.Axis, err = input.ParseAxis(req.Axis); err != nil {
			return input.Event{}, err
		}
	}
	return e, nil
}

// HandleInputEvent applies one controller event.
func (h *Handlers) HandleInputEvent(w http.ResponseWriter, r *http.Request) {
	var req InputEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError("invalid request body"))
		return
	}
	e, err := req.event()
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}
	if err := h.player.ApplyInput(e); err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError(err.Error()))
		return
	}
	h.writeJSON(w, http.StatusOK, h.player.InputState())
}

// HandleInputState returns the controller state.
func (h *Handlers) HandleInputState(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.player.InputState())
}

func (h *Handlers) streamKind(w http.ResponseWriter, r *http.Request) (types.StreamKind, bool) {
	kind, err := types.ParseStreamKind(mux.Vars(r)["stream"])
	if err != nil {
		h.errors.HandleError(w, r, apperrors.NewValidationError(err.Error()))
		return 0, false
	}
	return kind, true
}

func (h *Handlers) streamError(err error, kind types.StreamKind) error {
	switch {
	case errors.Is(err, ErrStreamDisabled):
		return apperrors.NewNotFoundError(kind.String() + " stream")
	case errors.Is(err, ErrStopped):
		return apperrors.NewConflictError("player stopped")
	}
	return apperrors.WrapStreamError(err, kind.String())
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode response")
	}
}

// StreamChecker reports a stream that stopped on a fatal error as down and
// a player that is not running as degraded.
type StreamChecker struct {
	player *Player
}

// NewStreamChecker creates the playback liveness check.
func NewStreamChecker(p *Player) *StreamChecker {
	return &StreamChecker{player: p}
}

func (c *StreamChecker) Name() string { return "playback" }

func (c *StreamChecker) Check(ctx context.Context) error {
	var failed []error
	for _, s := range c.player.streams() {
		if err := c.player.StreamErr(s.kind); err != nil {
			failed = append(failed, fmt.Errorf("%s: %w", s.name, err))
		}
	}
	if len(failed) > 0 {
		return errors.Join(failed...)
	}
	if st := c.player.State(); st != StateRunning {
		return health.Degraded("player " + st.String())
	}
	return nil
}

// Details reports per-stream queue depth and decoded counts.
func (c *StreamChecker) Details() map[string]interface{} {
	st := c.player.GetStats()
	details := map[string]interface{}{
		"session_id": st.SessionID,
		"state":      st.State,
	}
	if s := summarize(st.Audio); s != nil {
		details["audio"] = s
	}
	if s := summarize(st.Video); s != nil {
		details["video"] = s
	}
	return details
}
