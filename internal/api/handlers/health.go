package handlers

import (
	"net/http"
	"runtime"
	"time"
)

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Uptime    int64             `json:"uptime"` // seconds
	Timestamp string            `json:"timestamp"`
	System    SystemInfo        `json:"system"`
	Services  map[string]string `json:"services"`
}

// SystemInfo contains system information
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutines"`
	NumCPU       int    `json:"num_cpu"`
	MemoryMB     uint64 `json:"memory_mb"`
}

var startTime = time.Now()

// HealthHandler handles health check endpoint
type HealthHandler struct {
	version  string
	services func() map[string]string
	logger   interface{ Debug(string, ...any) }
}

// NewHealthHandler creates a new health handler. services reports the state
// of each subsystem at request time.
func NewHealthHandler(
	version string,
	services func() map[string]string,
	logger interface{ Debug(string, ...any) },
) *HealthHandler {
	return &HealthHandler{
		version:  version,
		services: services,
		logger:   logger,
	}
}

// ServeHTTP handles health check requests
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	h.logger.Debug("health check requested", "remote_addr", r.RemoteAddr)

	services := map[string]string{"api": "running"}
	if h.services != nil {
		for name, state := range h.services() {
			services[name] = state
		}
	}

	// Get memory stats
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	response := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Uptime:    int64(time.Since(startTime).Seconds()),
		Timestamp: time.Now().Format(time.RFC3339),
		System: SystemInfo{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemoryMB:     memStats.Alloc / 1024 / 1024,
		},
		Services: services,
	}

	if err := sendJSON(w, response, http.StatusOK); err != nil {
		h.logger.Debug("failed to encode health response", "error", err.Error())
	}
}
