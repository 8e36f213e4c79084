package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AbdullahHassan176/hookrelay/internal/observability"
)

type RouterConfig struct {
	Handler       *Handler
	HealthHandler *observability.HealthHandler
	Metrics       *observability.Metrics
	Logger        *slog.Logger
}

func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if cfg.Logger != nil {
		r.Use(observability.LoggingMiddleware(cfg.Logger))
	}

	if cfg.Metrics != nil {
		r.Use(observability.MetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", cfg.HealthHandler.Health)
	r.Get("/ready", cfg.HealthHandler.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/events", cfg.Handler.PublishEvent)

	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/", cfg.Handler.ListDeliveries)
		r.Get("/{id}", cfg.Handler.GetDelivery)
	})

	r.Route("/endpoints/{id}", func(r chi.Router) {
		r.Get("/deliveries", cfg.Handler.ListEndpointDeliveries)
		r.Post("/test", cfg.Handler.TestEndpoint)
	})

	r.Route("/queues/{name}", func(r chi.Router) {
		r.Get("/stats", cfg.Handler.QueueStats)
		r.Post("/pause", cfg.Handler.PauseQueue)
		r.Post("/resume", cfg.Handler.ResumeQueue)
		r.Delete("/jobs", cfg.Handler.ClearQueue)

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", cfg.Handler.GetJob)
			r.Delete("/", cfg.Handler.RemoveJob)
			r.Post("/promote", cfg.Handler.PromoteJob)
		})
	})

	return r
}
