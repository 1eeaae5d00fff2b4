package observability

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds the read-only observability surface plus the two
// bearer-gated mutating endpoints, mounted under /api/v1/observability and
// /api/v1/lb.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := &handlers{deps: deps}

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1/observability", func(r chi.Router) {
		r.Get("/status", h.status)
		r.Get("/breakers", h.breakers)
		r.Get("/ratelimit", h.rateLimit)
		r.Get("/replica", h.replicaStatus)
		r.Get("/cache", h.cacheMetrics)
		r.Get("/lb", h.lbMetrics)
		r.Get("/alerts", h.alerts)
		r.Get("/correlation/{id}", h.correlationChain)
		r.Get("/trace/{traceID}", h.trace)
		r.Get("/profile", h.profile)

		r.Post("/reset/{breaker}", h.resetBreaker)
		r.Post("/cache/flush", h.flushCache)
	})

	r.Get("/api/v1/lb/health", h.lbHealth)

	r.Get("/ws", h.ws)

	return r
}
