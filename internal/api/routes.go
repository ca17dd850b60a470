package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/eduard256/roverlive/internal/api/handlers"
	"github.com/eduard256/roverlive/internal/config"
	"github.com/eduard256/roverlive/internal/metrics"
	"github.com/eduard256/roverlive/pkg/sse"
)

// Version is reported by the health endpoints
const Version = "1.0.0"

// Server represents the API server
type Server struct {
	router   chi.Router
	config   *config.Config
	sessions handlers.SessionManager
	hub      handlers.CommandHub
	events   http.Handler
	metrics  *metrics.Metrics
	services func() map[string]string
	gauges   func()
	logger   interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
		Warn(string, ...any)
	}
}

// Deps are the components the API exposes
type Deps struct {
	Sessions handlers.SessionManager
	Hub      handlers.CommandHub
	Events   *sse.Server
	Metrics  *metrics.Metrics

	// Services feeds the health endpoint; Gauges refreshes metrics before a scrape
	Services func() map[string]string
	Gauges   func()
}

// NewServer creates a new API server
func NewServer(
	cfg *config.Config,
	deps Deps,
	logger interface {
		Debug(string, ...any)
		Error(string, error, ...any)
		Info(string, ...any)
		Warn(string, ...any)
	},
) *Server {
	server := &Server{
		router:   chi.NewRouter(),
		config:   cfg,
		sessions: deps.Sessions,
		hub:      deps.Hub,
		metrics:  deps.Metrics,
		services: deps.Services,
		gauges:   deps.Gauges,
		logger:   logger,
	}
	if deps.Events != nil {
		server.events = deps.Events
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all routes and middleware
func (s *Server) setupRoutes() {
	// Global middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	if s.metrics != nil {
		s.router.Use(metrics.RequestMiddleware(s.metrics))
	}

	// CORS middleware
	s.router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "3600")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	sessions := handlers.NewSessionHandler(s.sessions, s.logger)
	rovers := handlers.NewRoverHandler(s.hub, s.config.Device.RequestTimeout, s.logger)

	s.router.Route("/api/v1", func(r chi.Router) {
		// Event stream stays open, so it sits outside the timeout group
		if s.events != nil {
			r.Get("/events", s.events.ServeHTTP)
		}

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))

			r.Get("/health", handlers.NewHealthHandler(Version, s.services, s.logger).ServeHTTP)
			r.Get("/projection/shader", handlers.NewShaderHandler(s.logger).ServeHTTP)

			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", sessions.List)
				r.Post("/", sessions.Open)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", sessions.Get)
					r.Delete("/", sessions.Close)
					r.Post("/restart", sessions.Restart)
					r.Post("/sync", sessions.Sync)
					r.Put("/projection", sessions.Projection)
					r.Put("/orientation", sessions.Orientation)
					r.Post("/frame", sessions.Frame)
					r.Get("/view", sessions.View)
				})
			})

			r.Route("/rovers/{rover_id}", func(r chi.Router) {
				r.Post("/connect", rovers.Connect)
				r.Post("/live", rovers.Live)
				r.Post("/config", rovers.Config)
				r.Post("/capture", rovers.Capture)
				r.Get("/capture", rovers.GetCapture)
				r.Get("/capture/view", rovers.ViewCapture)
				r.Delete("/capture", rovers.DismissCapture)
				r.Get("/image", rovers.Image)
				r.Get("/boxes", rovers.Boxes)
			})
		})
	})

	if s.metrics != nil {
		s.router.Get("/metrics", s.metrics.Handler(s.gauges).ServeHTTP)
	}

	// Root health check
	s.router.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"name":"RoverLive","version":"` + Version + `","api":"v1"}`))
	})

	// 404 handler
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Not found"}`))
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// GetRouter returns the chi router
func (s *Server) GetRouter() chi.Router {
	return s.router
}
