package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/observability/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/pkg/logging"
)

type RouterConfig struct {
	Service *appointment.Service
	Logger  *logging.Logger
	Metrics *metrics.SchedulingMetrics
	// MetricsHandler serves /metrics. Defaults to promhttp.Handler().
	MetricsHandler http.Handler
	HealthChecks   []HealthCheck
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))
	r.Use(SessionMiddleware)

	// Health endpoints
	health := NewHealthHandler(cfg.HealthChecks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", cfg.MetricsHandler)

	h := &appointmentHandler{svc: cfg.Service, logger: cfg.Logger}

	r.Route("/clinics/{clinic}", func(r chi.Router) {
		r.Use(ClinicMiddleware)

		r.Get("/appointments", h.list)
		r.Post("/appointments", h.create)
		r.Post("/appointments/validate", h.validate)
		r.Post("/appointments/expand", h.expand)
		r.Get("/appointments/{id}", h.get)
		r.Put("/appointments/{id}", h.update)
		r.Delete("/appointments/{id}", h.delete)
		r.Post("/appointments/{id}/confirm", h.confirm)
		r.Post("/appointments/{id}/cancel", h.cancel)
		r.Post("/appointments/{id}/complete", h.complete)

		r.Get("/doctors/{doctorID}/appointments", h.listByDoctor)
		r.Get("/patients/{patientID}/appointments", h.listByPatient)
	})

	return r
}
