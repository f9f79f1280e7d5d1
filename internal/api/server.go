// Package api provides the HTTP surface for the task core: a thin chi
// router translating §6.1's REST endpoints onto internal/orchestrator,
// and an SSE handler streaming internal/events.Hub per §6.2.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/taskforge/taskforge/internal/events"
	"github.com/taskforge/taskforge/internal/logging"
	"github.com/taskforge/taskforge/internal/orchestrator"
)

// Server is the HTTP-facing facade over one Orchestrator.
type Server struct {
	router chi.Router
	orch   *orchestrator.Orchestrator
	hubs   *events.Manager
	logger *logging.Logger

	authToken string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger overrides the server's structured logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithAuthToken enables bearer-token auth (§6.4 AUTH_TOKEN). An empty
// token disables auth entirely — the zero value, matching "operator
// didn't set AUTH_TOKEN".
func WithAuthToken(token string) Option {
	return func(s *Server) { s.authToken = token }
}

// NewServer builds a Server over orch, wiring hubs for the SSE handler.
func NewServer(orch *orchestrator.Orchestrator, hubs *events.Manager, opts ...Option) *Server {
	s := &Server{
		orch:   orch,
		hubs:   hubs,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(s.authToken))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/", s.handleListTasks)

			r.Route("/{id}", func(r chi.Router) {
				r.Use(s.requireValidTaskID)

				r.Get("/", s.handleGetTask)
				r.Patch("/", s.handleUpdateTask)
				r.Delete("/", s.handleDeleteTask)

				r.Post("/generate-spec", s.handleGenerateSpec)
				r.Post("/regenerate-spec", s.handleRegenerateSpec)
				r.Patch("/spec", s.handleEditSpec)
				r.Post("/approve-spec", s.handleApproveSpec)
				r.Post("/approve-plan", s.handleApprovePlan)
				r.Post("/start", s.handleStart)
				r.Post("/execute", s.handleExecute)
				r.Post("/feedback", s.handleFeedback)
				r.Post("/extend", s.handleExtend)
				r.Post("/cancel", s.handleCancel)
				r.Post("/approve", s.handleApprove)
				r.Post("/request-changes", s.handleRequestChanges)
				r.Post("/pr-merged", s.handlePRMerged)
				r.Post("/pr-closed", s.handlePRClosed)
				r.Post("/cleanup-worktree", s.handleCleanupWorktree)
				r.Post("/open-editor", s.handleOpenEditor)
				r.Post("/resolve-conflicts", s.handleResolveConflicts)

				r.Get("/changes", s.handleChanges)
				r.Get("/logs", s.handleLogs)
				r.Get("/pr-comments", s.handlePRComments)
			})
		})
	})

	return r
}

// requireValidTaskID rejects an opaque-id-shaped path parameter before
// any handler runs, per §6.1's "any other shape yields 400 invalid-id".
func (s *Server) requireValidTaskID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !taskIDPattern(chi.URLParam(r, "id")) {
			respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid-id"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"bytes", ww.BytesWritten(),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError renders a core.DomainError onto the two envelope
// shapes §6.1 specifies (validation, invalid transition), falling back
// to a generic envelope for everything else.
func respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	switch categoryOf(err) {
	case categoryValidation:
		respondJSON(w, status, map[string]interface{}{
			"error":   "Validation failed",
			"details": []map[string]string{{"field": codeOf(err), "message": err.Error()}},
		})
	case categoryInvalidTransition:
		respondJSON(w, status, map[string]string{
			"error":   "Invalid task status",
			"message": err.Error(),
		})
	default:
		respondError(w, status, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// ListenAndServe starts the HTTP server, shutting down gracefully when
// ctx is canceled. The serve loop and the shutdown watcher run under an
// errgroup so a failure in either tears down the other.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.logger.Info("starting API server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	return g.Wait()
}
