// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	apimw "github.com/jukebox-room/corectl/internal/api/middleware"
	"github.com/jukebox-room/corectl/internal/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewRouter builds the chi router for s's HTTP surface: a stack of
// cross-cutting middleware, then the route groups. Authentication is
// expected to run in front of this router (see callerUserIDHeader).
func NewRouter(s *Server) chi.Router {
	cfg := s.cfg()

	r := chi.NewRouter()
	r.Use(corsMiddleware(cfg.AllowedOrigins))
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "jukebox-corectl")
	})
	r.Use(log.Middleware())
	r.Use(s.summary.middleware)

	r.Route("/house/commands", func(rt chi.Router) {
		rt.Use(apimw.HouseCommandsRateLimit(cfg.HouseCommandsRateLimitRPS, cfg.RateLimitWhitelist))
		rt.Post("/", s.handleHouseCommands)
	})
	r.Get("/house/sessions", s.handleHouseSessions)
	r.Get("/now-playing", s.handleNowPlaying)
	r.Get("/health", s.handleHealth)
	r.Get("/api/worker/status", s.handleWorkerStatus)
	r.Get("/ws/observer", s.handleObserverSocket)

	return r
}

// corsMiddleware is a minimal allow-list CORS responder. An empty
// allow list permits every origin.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	allowAll := len(allowed) == 0

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+callerUserIDHeader)
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
