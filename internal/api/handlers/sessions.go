package handlers

import (
	"encoding/json"
	"errors"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eduard256/roverlive/internal/latency"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
	"github.com/eduard256/roverlive/internal/stream"
)

// maxFrameSize bounds an uploaded video frame
const maxFrameSize = 16 << 20

// SessionManager is the part of the stream manager the handlers use
type SessionManager interface {
	Open(req models.OpenSessionRequest) (*stream.Session, error)
	Get(id string) (*stream.Session, error)
	Close(id string) error
	List() []models.SessionInfo
}

// SessionHandler handles stream session requests
type SessionHandler struct {
	manager   SessionManager
	validator *validator.Validate
	logger    interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
	}
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(
	manager SessionManager,
	logger interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
	},
) *SessionHandler {
	return &SessionHandler{
		manager:   manager,
		validator: validator.New(),
		logger:    logger,
	}
}

// List returns every open session
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	if err := sendJSON(w, h.manager.List(), http.StatusOK); err != nil {
		h.logger.Error("failed to encode session list", err)
	}
}

// Open starts a new live session
func (h *SessionHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req models.OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Error("failed to decode session request", err)
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Projection == "" {
		req.Projection = models.ProjectionEquirectangular
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Error("session request validation failed", err)
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("stream session requested",
		"protocol", req.Protocol,
		"rover_id", req.RoverID,
		"projection", req.Projection,
		"remote_addr", r.RemoteAddr,
	)

	session, err := h.manager.Open(req)
	if session == nil {
		h.logger.Error("failed to open session", err)
		switch {
		case errors.Is(err, stream.ErrManagerClosed):
			sendErrorResponse(w, "Server is shutting down", http.StatusServiceUnavailable)
		default:
			sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	// The session exists even when it failed to start; its status says why
	code := http.StatusCreated
	if err != nil {
		h.logger.Error("session opened in error state", err, "session", session.ID())
		code = http.StatusUnprocessableEntity
	}
	if err := sendJSON(w, session.Info(), code); err != nil {
		h.logger.Error("failed to encode session", err)
	}
}

// Get returns one session
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := sendJSON(w, session.Info(), http.StatusOK); err != nil {
		h.logger.Error("failed to encode session", err)
	}
}

// Close stops and forgets a session
func (h *SessionHandler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.manager.Close(id); err != nil {
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Info("stream session close requested", "session", id)
	w.WriteHeader(http.StatusNoContent)
}

// Restart reopens the session source
func (h *SessionHandler) Restart(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := session.Restart(); err != nil {
		h.sendSessionError(w, err)
		return
	}
	if err := sendJSON(w, session.Info(), http.StatusOK); err != nil {
		h.logger.Error("failed to encode session", err)
	}
}

// Sync jumps the session to the live edge
func (h *SessionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := session.ForceSyncToLive(); err != nil {
		h.sendSessionError(w, err)
		return
	}
	if err := sendJSON(w, session.Info(), http.StatusOK); err != nil {
		h.logger.Error("failed to encode session", err)
	}
}

// Projection changes the projection mode
func (h *SessionHandler) Projection(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req models.ProjectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := session.SetProjection(req.Mode); err != nil {
		h.sendSessionError(w, err)
		return
	}
	if err := sendJSON(w, session.Info(), http.StatusOK); err != nil {
		h.logger.Error("failed to encode session", err)
	}
}

// Orientation moves the virtual camera
func (h *SessionHandler) Orientation(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req models.OrientationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return
	}

	cam, err := session.Orient(req)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := sendJSON(w, cam, http.StatusOK); err != nil {
		h.logger.Error("failed to encode camera", err)
	}
}

// Frame accepts a decoded video frame (JPEG or PNG) from the browser
func (h *SessionHandler) Frame(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxFrameSize))
	if err != nil {
		sendErrorResponse(w, "Failed to read frame", http.StatusBadRequest)
		return
	}
	img, err := decodeImage(data)
	if err != nil {
		h.logger.Debug("rejecting undecodable frame", "session", session.ID(), "error", err.Error())
		sendErrorResponse(w, "Invalid frame: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := session.PushFrame(img); err != nil {
		h.sendSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// View renders the current view of the session as JPEG
func (h *SessionHandler) View(w http.ResponseWriter, r *http.Request) {
	session, ok := h.lookup(w, r)
	if !ok {
		return
	}

	width, height, err := viewSize(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := sendJPEG(w, session.Render(width, height)); err != nil {
		h.logger.Error("failed to encode view", err, "session", session.ID())
	}
}

func (h *SessionHandler) lookup(w http.ResponseWriter, r *http.Request) (*stream.Session, bool) {
	id := chi.URLParam(r, "id")
	session, err := h.manager.Get(id)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return nil, false
	}
	return session, true
}

func (h *SessionHandler) sendSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stream.ErrClosed):
		sendErrorResponse(w, err.Error(), http.StatusGone)
	case errors.Is(err, latency.ErrNotPrimed), errors.Is(err, stream.ErrNoFrameTarget):
		sendErrorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, projection.ErrUnknownMode):
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("session operation failed", err)
		sendErrorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}
