package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/e7canasta/orion-liveness/internal/logger"
)

// NewRouter wires the control surface. metrics may be nil.
func NewRouter(h *Handler, log *slog.Logger, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(logger.RequestLogger(log))

	r.Get("/healthz", h.Health)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/v1/captures", func(r chi.Router) {
		r.Post("/", h.StartCapture)
		r.Delete("/", h.CancelCapture)
		r.Post("/trigger", h.TriggerCapture)
		r.Get("/status", h.GetStatus)
	})

	return r
}
