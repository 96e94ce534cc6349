package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"lendinghub/internal/catalog"
	"lendinghub/internal/circulation"
	"lendinghub/internal/membership"
	"lendinghub/internal/platform/config"
	"lendinghub/internal/platform/httpx"
)

type services struct {
	catalog     catalog.Service
	membership  membership.Service
	circulation circulation.Service
	ready       func(context.Context) error
}

func newRouter(svc services, cfg *config.Config, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpx.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.OK(w, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := svc.ready(ctx); err != nil {
			logger.WarnContext(ctx, "readiness check failed", "error", err)
			httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		httpx.OK(w, map[string]string{"status": "ready"})
	})

	r.Group(func(r chi.Router) {
		if cfg.RateLimit.RequestsPerSecond > 0 {
			r.Use(httpx.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst).Middleware)
		}
		catalog.NewHandler(svc.catalog).Routes(r)
		membership.NewHandler(svc.membership).Routes(r)
		circulation.NewHandler(svc.circulation).Routes(r)
	})

	return otelhttp.NewHandler(r, "lendinghub")
}
