// Package http assembles the HTTP surface: middleware stack, health probes,
// metrics, and the authenticated consent API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"healthshare/internal/consent/handler"
	"healthshare/internal/platform/health"
	"healthshare/internal/platform/middleware"
)

const requestTimeout = 30 * time.Second

// RouterConfig carries the dependencies the router wires together.
type RouterConfig struct {
	Logger         *slog.Logger
	TokenValidator middleware.TokenValidator
	Consent        *handler.Handler
	Health         *health.Handler
}

// NewRouter builds the chi router with the full middleware stack. Consent and
// audit routes require a valid bearer token; health and metrics do not.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.ContentTypeJSON)

	cfg.Health.Register(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(cfg.TokenValidator, cfg.Logger))
		cfg.Consent.Register(r)
	})

	return r
}
