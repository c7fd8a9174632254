// Package api assembles the HTTP router: the gorilla/mux route table
// plus the global middleware chain, grounded on the teacher's
// cmd/server router construction (request-id -> logging -> recovery ->
// cors -> rate-limit -> metrics, in that order, wrapping a mux.Router).
package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/vitaliisemenov/artifactproxy/internal/api/handlers"
	"github.com/vitaliisemenov/artifactproxy/internal/api/middleware"
	"github.com/vitaliisemenov/artifactproxy/internal/audit"
	"github.com/vitaliisemenov/artifactproxy/internal/config"
	"github.com/vitaliisemenov/artifactproxy/internal/events"
	"github.com/vitaliisemenov/artifactproxy/internal/freshness"
	"github.com/vitaliisemenov/artifactproxy/internal/lock"
	"github.com/vitaliisemenov/artifactproxy/internal/metrics"
	"github.com/vitaliisemenov/artifactproxy/internal/remote"
)

// Deps bundles everything the router needs to construct its handlers.
type Deps struct {
	Store       *config.Store
	Validator   *freshness.Validator
	Client      remote.Client
	Logger      *slog.Logger
	Metrics     metrics.Resolution
	Broker      *events.Broker
	Audit       *audit.Store // nil when audit logging is disabled
	Lock        *lock.Mutex  // nil when no distributed lock is configured
	AdminToken  string
	RateLimit   RateLimitConfig
}

// RateLimitConfig mirrors middleware.RateLimitMiddleware's two knobs.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// NewRouter builds the full route table: the artifact tree under
// /{repo}/{path...}, the admin surface under /admin, /healthz, and the
// swagger UI.
func NewRouter(deps Deps) http.Handler {
	artifact := &handlers.Artifact{
		Store:     deps.Store,
		Validator: deps.Validator,
		Client:    deps.Client,
		Logger:    deps.Logger,
		Metrics:   deps.Metrics,
		Broker:    deps.Broker,
		Audit:     deps.Audit,
	}
	admin := &handlers.Admin{
		Store:   deps.Store,
		Lock:    deps.Lock,
		Audit:   deps.Audit,
		Broker:  deps.Broker,
		Metrics: deps.Metrics,
		Logger:  deps.Logger,
	}

	r := mux.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.LoggingMiddleware(deps.Logger))
	r.Use(middleware.RecoveryMiddleware(deps.Logger))
	r.Use(middleware.CORSMiddleware(middleware.DefaultCORSConfig()))
	r.Use(middleware.RateLimitMiddleware(deps.RateLimit.RequestsPerMinute, deps.RateLimit.Burst))
	r.Use(middleware.MetricsMiddleware)

	r.HandleFunc("/healthz", handlers.Health).Methods(http.MethodGet)

	adminRouter := r.PathPrefix("/admin").Subrouter()
	adminRouter.Use(func(next http.Handler) http.Handler {
		return middleware.AdminAuth(deps.AdminToken, next)
	})
	adminRouter.HandleFunc("/reload", admin.Reload).Methods(http.MethodPost)
	adminRouter.HandleFunc("/events/recent", admin.RecentEvents).Methods(http.MethodGet)
	adminRouter.HandleFunc("/events/stream", admin.Events).Methods(http.MethodGet)

	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	artifacts := r.PathPrefix("/{repo}").Subrouter()
	artifacts.HandleFunc("/{path:.*}", artifact.Get).Methods(http.MethodGet, http.MethodHead)
	artifacts.HandleFunc("/{path:.*}", artifact.Put).Methods(http.MethodPut)

	return r
}
