package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"golang.org/x/time/rate"

	"github.com/fuomag9/server-uptime/internal/store"
)

// NewRouter creates the read-only status API router.
func NewRouter(st *store.Store, loc *time.Location) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	limiter := NewRateLimiter(rate.Limit(10), 30)
	limiter.CleanupOldLimiters()
	r.Use(RateLimitMiddleware(limiter))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Get("/servers", HandleListServers(st, loc))
		r.Get("/servers/{id}/uptime", HandleServerUptimeHistory(st, loc))
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return r
}
