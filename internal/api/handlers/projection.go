package handlers

import (
	"net/http"

	"github.com/eduard256/roverlive/internal/models"
	"github.com/eduard256/roverlive/internal/projection"
)

// ShaderHandler serves the shader program for a projection mode
type ShaderHandler struct {
	logger interface{ Error(string, error, ...any) }
}

// NewShaderHandler creates a new shader handler
func NewShaderHandler(logger interface{ Error(string, error, ...any) }) *ShaderHandler {
	return &ShaderHandler{logger: logger}
}

// ServeHTTP handles shader requests
func (h *ShaderHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mode := models.ProjectionMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = models.ProjectionDualFisheye
	}

	shader, err := projection.ShaderFor(mode)
	if err != nil {
		sendErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=3600")
	if err := sendJSON(w, shader, http.StatusOK); err != nil {
		h.logger.Error("failed to encode shader", err)
	}
}
