package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eduard256/roverlive/internal/device"
	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
	"github.com/eduard256/roverlive/internal/push"
)

// CommandHub is the part of the device hub the handlers use
type CommandHub interface {
	Issue(ctx context.Context, cmd device.Command) (models.CommandStatus, error)
	Capture(roverID string) (models.CapturedFrame, error)
	DismissCapture(roverID string)
	LatestImage(roverID string) (models.CapturedFrame, bool)
	Boxes(roverID string) []models.Box
}

// CaptureInfo describes a held capture without its pixels
type CaptureInfo struct {
	models.CapturedFrame
	Size    int    `json:"size"`
	DataURI string `json:"data_uri,omitempty"`
}

// RoverHandler handles device command requests
type RoverHandler struct {
	hub       CommandHub
	validator *validator.Validate
	timeout   time.Duration
	logger    interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
		Warn(string, ...any)
	}
}

// NewRoverHandler creates a new rover handler. timeout bounds the HTTP leg
// of a command, not its confirmation.
func NewRoverHandler(
	hub CommandHub,
	timeout time.Duration,
	logger interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
		Warn(string, ...any)
	},
) *RoverHandler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RoverHandler{
		hub:       hub,
		validator: validator.New(),
		timeout:   timeout,
		logger:    logger,
	}
}

// Connect connects or disconnects the 360 camera
func (h *RoverHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind := models.CommandDisconnect
	if *req.Connect == 1 {
		kind = models.CommandConnect
	}
	h.issue(w, r, device.Command{Kind: kind, SubstationID: req.SubstationID})
}

// Live starts or stops live streaming
func (h *RoverHandler) Live(w http.ResponseWriter, r *http.Request) {
	var req models.LiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	kind := models.CommandStopLive
	if *req.Live == 1 {
		kind = models.CommandStartLive
	}
	h.issue(w, r, device.Command{Kind: kind, SubstationID: req.SubstationID})
}

// Config sets the camera wifi and rtmp parameters
func (h *RoverHandler) Config(w http.ResponseWriter, r *http.Request) {
	var req models.ConfigRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.issue(w, r, device.Command{
		Kind:         models.CommandConfig,
		SubstationID: req.SubstationID,
		SSID:         req.SSID,
		Password:     req.Password,
		RTMP:         req.RTMP,
	})
}

// Capture takes a still with the 360 camera
func (h *RoverHandler) Capture(w http.ResponseWriter, r *http.Request) {
	h.issue(w, r, device.Command{Kind: models.CommandCapture})
}

// GetCapture returns the held capture. ?format=raw sends the image bytes,
// otherwise a JSON description with a data URI.
func (h *RoverHandler) GetCapture(w http.ResponseWriter, r *http.Request) {
	frame, err := h.hub.Capture(chi.URLParam(r, "rover_id"))
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}
	h.sendFrame(w, r, frame)
}

// ViewCapture renders the held capture through the projection renderer
func (h *RoverHandler) ViewCapture(w http.ResponseWriter, r *http.Request) {
	roverID := chi.URLParam(r, "rover_id")
	frame, err := h.hub.Capture(roverID)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusNotFound)
		return
	}

	width, height, err := viewSize(r)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	view, err := h.panorama(r, frame)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer view.Dispose()

	if err := sendJPEG(w, view.Render(width, height)); err != nil {
		h.logger.Error("failed to encode capture view", err, "rover_id", roverID)
	}
}

// DismissCapture drops the held capture
func (h *RoverHandler) DismissCapture(w http.ResponseWriter, r *http.Request) {
	h.hub.DismissCapture(chi.URLParam(r, "rover_id"))
	w.WriteHeader(http.StatusNoContent)
}

// Image returns the latest image_update still
func (h *RoverHandler) Image(w http.ResponseWriter, r *http.Request) {
	frame, ok := h.hub.LatestImage(chi.URLParam(r, "rover_id"))
	if !ok {
		sendErrorResponse(w, "no image received", http.StatusNotFound)
		return
	}
	h.sendFrame(w, r, frame)
}

// Boxes returns the latest detection boxes
func (h *RoverHandler) Boxes(w http.ResponseWriter, r *http.Request) {
	boxes := h.hub.Boxes(chi.URLParam(r, "rover_id"))
	if boxes == nil {
		boxes = []models.Box{}
	}
	if err := sendJSON(w, boxes, http.StatusOK); err != nil {
		h.logger.Error("failed to encode boxes", err)
	}
}

// decode reads and validates a JSON body
func (h *RoverHandler) decode(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Error("failed to decode command request", err)
		sendErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	if err := h.validator.Struct(req); err != nil {
		h.logger.Error("command request validation failed", err)
		sendErrorResponse(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (h *RoverHandler) issue(w http.ResponseWriter, r *http.Request, cmd device.Command) {
	cmd.RoverID = chi.URLParam(r, "rover_id")

	h.logger.Info("device command requested",
		"kind", cmd.Kind,
		"rover_id", cmd.RoverID,
		"remote_addr", r.RemoteAddr,
	)

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	status, err := h.hub.Issue(ctx, cmd)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrInvalidCommand):
			sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, device.ErrClosed):
			sendErrorResponse(w, err.Error(), http.StatusServiceUnavailable)
		case errors.Is(err, device.ErrRejected):
			_ = sendJSON(w, status, http.StatusBadGateway)
		default:
			h.logger.Error("device command failed", err, "kind", cmd.Kind, "rover_id", cmd.RoverID)
			_ = sendJSON(w, status, http.StatusBadGateway)
		}
		return
	}

	code := http.StatusAccepted
	if status.Outcome != models.OutcomePending {
		code = http.StatusOK
	}
	if err := sendJSON(w, status, code); err != nil {
		h.logger.Error("failed to encode command status", err)
	}
}

func (h *RoverHandler) sendFrame(w http.ResponseWriter, r *http.Request, frame models.CapturedFrame) {
	if r.URL.Query().Get("format") == "raw" {
		w.Header().Set("Content-Type", frame.MIMEType)
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(frame.Image)
		return
	}

	info := CaptureInfo{
		CapturedFrame: frame,
		Size:          len(frame.Image),
		DataURI:       push.DataURI(frame.MIMEType, frame.Image),
	}
	if err := sendJSON(w, info, http.StatusOK); err != nil {
		h.logger.Error("failed to encode frame", err)
	}
}

// panorama builds a one-shot renderer over a still
func (h *RoverHandler) panorama(r *http.Request, frame models.CapturedFrame) (*projection.Renderer, error) {
	img, err := decodeStill(frame.Image)
	if err != nil {
		return nil, err
	}

	mode := models.ProjectionMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = models.ProjectionDualFisheye
	}
	if _, err := projection.ShaderFor(mode); err != nil {
		return nil, err
	}

	view := projection.NewRenderer(mode, h.logger)
	view.BindVideo(projection.NewStillTexture(img))

	cam := view.Camera()
	if preset := r.URL.Query().Get("preset"); preset != "" {
		p, err := projection.PresetByName(preset)
		if err != nil {
			view.Dispose()
			return nil, err
		}
		cam = cam.ApplyPreset(p)
	}
	for name, dst := range map[string]*float64{"yaw": &cam.Yaw, "pitch": &cam.Pitch} {
		v, err := floatParam(r, name)
		if err != nil {
			view.Dispose()
			return nil, err
		}
		if v != nil {
			*dst = *v
		}
	}
	fov, err := floatParam(r, "fov")
	if err != nil {
		view.Dispose()
		return nil, err
	}
	if fov != nil {
		cam = cam.Zoom(*fov)
	}
	view.SetCamera(cam)
	return view, nil
}

func decodeStill(data []byte) (image.Image, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("capture is not a decodable image: %w", err)
	}
	return img, nil
}
