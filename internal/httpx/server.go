package httpx

import (
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/safar/go-storefront/internal/redisx"
)

func NewRouter(mw ...func(http.Handler) http.Handler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(mw...)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return r
}

// MaintenanceGuard returns 503 while the maintenance flag is set in redis.
// The webhook route is exempt so provider deliveries are never bounced into
// redelivery loops by planned maintenance, and the health check stays up so
// probes don't report the service down.
func MaintenanceGuard(rdb *redis.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/payments/webhook" {
				next.ServeHTTP(w, r)
				return
			}

			on, err := redisx.Exists(r.Context(), rdb, redisx.KeyMaintenance)
			if err != nil {
				log.Printf("maintenance check: %v", err)
			}
			if on {
				respondError(w, http.StatusServiceUnavailable, "service under maintenance")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
