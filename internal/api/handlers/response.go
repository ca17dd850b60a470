package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"strconv"
)

// errImageTooLarge is returned for images whose header declares a side
// above maxViewSide
var errImageTooLarge = errors.New("image dimensions too large")

const (
	defaultViewWidth  = 960
	defaultViewHeight = 540
	maxViewSide       = 4096
	viewJPEGQuality   = 85
)

// sendJSON writes v with the given status code
func sendJSON(w http.ResponseWriter, v interface{}, statusCode int) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(v)
}

// sendErrorResponse sends an error response
func sendErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    statusCode,
	}

	_ = json.NewEncoder(w).Encode(response)
}

// sendJPEG encodes a rendered view
func sendJPEG(w http.ResponseWriter, img image.Image) error {
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	return jpeg.Encode(w, img, &jpeg.Options{Quality: viewJPEGQuality})
}

// viewSize reads w and h from the query
func viewSize(r *http.Request) (int, int, error) {
	width, err := intParam(r, "w", defaultViewWidth)
	if err != nil {
		return 0, 0, err
	}
	height, err := intParam(r, "h", defaultViewHeight)
	if err != nil {
		return 0, 0, err
	}
	if width < 1 || height < 1 || width > maxViewSide || height > maxViewSide {
		return 0, 0, fmt.Errorf("view size must be within 1..%d", maxViewSide)
	}
	return width, height, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

// floatParam returns nil when the parameter is absent
func floatParam(r *http.Request, name string) (*float64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return &v, nil
}

// decodeImage checks the declared dimensions before decoding, so a small
// file cannot claim a huge canvas
func decodeImage(data []byte) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	if cfg.Width < 1 || cfg.Height < 1 || cfg.Width > maxViewSide || cfg.Height > maxViewSide {
		return nil, fmt.Errorf("%w: %dx%d, limit %d", errImageTooLarge, cfg.Width, cfg.Height, maxViewSide)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
