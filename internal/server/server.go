// Copyright (C) 2025-2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/noldarim/rankledger/internal/config"
	"github.com/noldarim/rankledger/internal/protocol"
	"github.com/noldarim/rankledger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"
)

const maxRequestBody = 8 << 20

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer  *http.Server
	broadcaster *EventBroadcaster
	clients     *ClientRegistry
}

// New creates and wires up the API server. It does NOT start listening;
// call Run() for that.
func New(cfg *config.AppConfig, e Engine, eventChan <-chan protocol.Event) *Server {
	registry := NewClientRegistry()
	broadcaster := NewEventBroadcaster(eventChan, registry)
	handlers := NewHandlers(e, query.NewService(e, cfg.Leaderboard.MaxPageSize), cfg.Ingest.MaxBatch)

	var limiter *rate.Limiter
	if cfg.Ingest.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.Ingest.RatePerSec), max(cfg.Ingest.Burst, 1))
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.Server.AllowedOrigins))
	r.Use(MaxBodySize(maxRequestBody))

	r.Get("/healthz", handlers.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	// REST routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/users/{actor}", func(r chi.Router) {
			r.Get("/stats", handlers.GetUserStats)
			r.Get("/badges", handlers.GetUserBadges)
			r.Get("/rank", handlers.GetUserRank)
			r.Get("/history", handlers.GetUserHistory)
		})
		r.Get("/leaderboard/{window}", handlers.GetLeaderboard)
		r.Get("/badges", handlers.GetBadges)
		r.Get("/badges/{type}/holders", handlers.GetBadgeHolders)
		r.Get("/reorgs/{id}", handlers.GetReorg)

		// Writes and admin operations share the admin token.
		r.Group(func(r chi.Router) {
			r.Use(AdminToken(cfg.Server.AdminToken))

			r.With(RateLimit(limiter)).Post("/actions", handlers.PostActions)
			r.Post("/reorgs", handlers.PostReorg)
			r.Post("/reorgs/{id}/retry", handlers.RetryReorg)
			r.Post("/actors/{actor}/flags", handlers.PostFlag)

			r.Route("/admin", func(r chi.Router) {
				r.Get("/status", handlers.GetStatus)
				r.Post("/verify", handlers.Verify)
				r.Post("/partitions/resume", handlers.ResumePartitions)
				r.Post("/leaderboard/rebuild", handlers.RebuildLeaderboard)
			})
		})
	})

	// WebSocket
	r.Get("/ws", HandleWebSocket(registry, cfg.Server.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           otelhttp.NewHandler(r, "rankledger-api"),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		broadcaster: broadcaster,
		clients:     registry,
	}
}

// Handler exposes the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run starts the event broadcaster goroutine and the HTTP server.
// Blocks until the server is shut down or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	go s.runBroadcaster(ctx)

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) runBroadcaster(ctx context.Context) {
	const maxRetries = 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		func() {
			defer func() {
				if r := recover(); r != nil {
					getLog().Error().Interface("panic", r).Int("attempt", attempt).Msg("Event broadcaster panic")
				}
			}()
			s.broadcaster.Run(ctx)
		}()

		// Normal return (context cancelled): exit without retry.
		if ctx.Err() != nil {
			return
		}

		if attempt < maxRetries {
			getLog().Warn().Int("attempt", attempt).Msg("Restarting event broadcaster after panic")
			time.Sleep(1 * time.Second)
		}
	}
	getLog().Error().Msg("Event broadcaster exhausted retries - events will no longer be dispatched")
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
