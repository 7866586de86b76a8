package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/avelartours/capacity-engine/internal/observability"
	"github.com/avelartours/capacity-engine/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyKeyMiddleware)

	r.Post("/v1/pools", h.CreatePool)
	r.Get("/v1/pools/{id}/availability", h.GetAvailability)
	r.Post("/v1/holds", h.AcquireHold)
	r.Post("/v1/holds/group", h.AcquireGroup)
	r.Delete("/v1/holds/{id}", h.ReleaseHold)
	r.Post("/v1/holds/{id}/confirm", h.ConfirmHold)
	r.Post("/v1/holds/{id}/extend", h.ExtendHold)
	r.Get("/v1/holds/{id}/audit", h.HoldAudit)
	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
