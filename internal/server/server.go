// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/jeranaias/rigrun-web/internal/model"
	"github.com/jeranaias/rigrun-web/internal/session"
	"github.com/jeranaias/rigrun-web/internal/storage"
)

// ModelSource answers model discovery questions.
type ModelSource interface {
	Ping(ctx context.Context) error
	ListModels(ctx context.Context) ([]model.ModelInfo, error)
	Capabilities(ctx context.Context, name string) (model.Capabilities, error)
}

// Options configure a Server.
type Options struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string
	// MaxUploadBytes bounds one attachment upload request.
	MaxUploadBytes int64
	// Version is reported by /api/state.
	Version string
}

// Server is the browser front end.
type Server struct {
	opts     Options
	ctrl     *session.Controller
	models   ModelSource
	prefs    *storage.PreferenceStore
	router   chi.Router
	upgrader websocket.Upgrader

	// genCtx outlives individual requests so a generation started by a POST
	// keeps running after the 202 is sent.
	genCtx    context.Context
	genCancel context.CancelFunc

	mu       sync.Mutex
	httpSrv  *http.Server
	listener net.Listener
}

// New builds a server and its routes.
func New(opts Options, ctrl *session.Controller, models ModelSource, prefs *storage.PreferenceStore) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 32 << 20
	}
	s := &Server{
		opts:   opts,
		ctrl:   ctrl,
		models: models,
		prefs:  prefs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.genCtx, s.genCancel = context.WithCancel(context.Background())
	s.setupRoutes()
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(Chain(
		LoggingMiddleware(),
		SecurityHeadersMiddleware(),
		LocalOriginMiddleware(),
	))
	r.Use(middleware.Recoverer)

	r.Get("/", s.handleIndex)
	r.Get("/static/code.css", s.handleCodeCSS)
	r.Handle("/static/*", staticHandler())

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/state", s.handleState)

		api.Get("/models", s.handleModels)
		api.Get("/models/{name}/capabilities", s.handleCapabilities)

		api.Get("/chats", s.handleListChats)
		api.Post("/chats", s.handleNewChat)
		api.Get("/chats/{id}", s.handleLoadChat)
		api.Get("/chats/{id}/export", s.handleExportChat)
		api.Delete("/chats/{id}", s.handleDeleteChat)

		api.Post("/messages", s.handleSend)
		api.Post("/cancel", s.handleCancel)

		api.Post("/attachments", s.handleUpload)
		api.Delete("/attachments", s.handleClearAttachments)

		api.Get("/preferences", s.handleGetPreferences)
		api.Put("/preferences", s.handlePutPreferences)
		api.Post("/preferences/reset", s.handleResetPreferences)

		api.Get("/export/history", s.handleExportHistory)
		api.Get("/export/preferences", s.handleExportPreferences)
		api.Post("/import/history", s.handleImportHistory)
		api.Post("/clear", s.handleClear)

		api.Get("/events", s.handleSSE)
		api.Get("/ws", s.handleWebSocket)
	})

	s.router = r
}

// ============================================================================
// SERVER LIFECYCLE
// ============================================================================

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.listener = ln
	s.mu.Unlock()

	log.Info("SERVER_START", "addr", ln.Addr().String(), "version", s.opts.Version)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Addr returns the bound address once serving, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Shutdown stops accepting requests and cancels any running generation.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("SERVER_SHUTDOWN")
	s.genCancel()

	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
