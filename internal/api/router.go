package api

import (
	"net/http"
	"strings"

	"ad-traffic-router/internal/config"
	"ad-traffic-router/internal/observability"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"
)

func Router(h *Handler, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(observability.AccessLog)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Accept", "Content-Type"},
		ExposedHeaders: []string{observability.RequestIDHeader},
	}))
	r.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	target := strings.TrimSuffix(cfg.Routes.Target, "/")
	r.Post(target, h.CreateTarget)
	r.Get(target, h.ListTargets)
	r.Get(target+"/{id}", h.GetTarget)
	r.Post(target+"/{id}", h.UpdateTarget)

	r.With(limit(cfg.Server.RouteRPS, cfg.Server.RouteBurst)).Post(cfg.Routes.Route, h.Route)

	r.Get(cfg.Routes.Health, h.Health)
	r.Get("/favicon.ico", Favicon)
	r.Handle(cfg.Routes.Metrics, observability.MetricsHandler())
	return r
}

// limit admits at most rps requests per second (with burst) across all
// clients. rps <= 0 disables it.
func limit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				observability.RequestErrors.WithLabelValues("rate_limited").Inc()
				writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
