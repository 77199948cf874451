package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/tradesentry/tradesentry/internal/escalate"
	"github.com/tradesentry/tradesentry/internal/health"
	"github.com/tradesentry/tradesentry/internal/metrics"
)

// AlertService is the manager surface the API exposes to operators.
// *manager.Manager satisfies it.
type AlertService interface {
	ActiveAlerts() []escalate.Instance
	Alert(id string) (escalate.Instance, bool)
	Acknowledge(id string) (escalate.Instance, error)
	Resolve(id string) (escalate.Instance, error)
	Health() health.Overall
}

// MetricReader is the store surface the API reads. *metrics.Store
// satisfies it.
type MetricReader interface {
	Query(ctx context.Context, name string, from, to time.Time) ([]metrics.Sample, error)
	Notifications(ctx context.Context, alertID string) ([]metrics.NotificationRecord, error)
}

// Server is the operator REST surface.
type Server struct {
	router   chi.Router
	handlers *handlers
}

func NewServer(alerts AlertService, reader MetricReader) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		handlers: &handlers{alerts: alerts, reader: reader},
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Get("/", s.handlers.listAlerts)
			r.Get("/{id}", s.handlers.getAlert)
			r.Post("/{id}/acknowledge", s.handlers.acknowledgeAlert)
			r.Post("/{id}/resolve", s.handlers.resolveAlert)
			r.Get("/{id}/notifications", s.handlers.listNotifications)
		})
		r.Get("/health", s.handlers.healthVerdict)
		r.Get("/metrics/{name}", s.handlers.queryMetric)
	})
}

// Router returns the assembled handler for mounting on an http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}
