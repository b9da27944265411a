// Package server wires the chi router: middleware, the AuthContext
// resolution contract, and mounting transport/http's handlers under the
// §6 path prefix. It owns process lifecycle (Start/Shutdown) but no
// business logic.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apperrors "github.com/workflowdev/workflowd/internal/errors"
	"github.com/workflowdev/workflowd/pkg/authctx"
	transporthttp "github.com/workflowdev/workflowd/transport/http"
)

// AuthResolver turns an inbound request into a caller identity. Resolving a
// bearer token, session cookie, or mTLS client cert into an authctx.Context
// is explicitly left to the deployment: pass a resolver backed by whatever
// the environment uses (JWT validation, an internal auth service, a
// hardcoded test identity).
type AuthResolver interface {
	Resolve(r *http.Request) (authctx.Context, error)
}

// HealthChecker reports a named dependency's liveness for GET /health.
type HealthChecker interface {
	// Name identifies the dependency in the response body (e.g. "database").
	Name() string
	Check(ctx context.Context) error
}

// Config configures the HTTP listener.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Server is the process's single HTTP listener.
type Server struct {
	router *chi.Mux
	http   *http.Server
	logger logr.Logger
	cfg    Config
}

// New builds a Server, mounting deps' handlers under /api/v1 behind auth
// middleware driven by resolver, plus an unauthenticated GET /health that
// runs every checker.
func New(cfg Config, deps transporthttp.Dependencies, resolver AuthResolver, checkers []HealthChecker, logger logr.Logger) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogging(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg.AllowedOrigins),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handleHealth(checkers))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(authMiddleware(resolver))
		transporthttp.Mount(api, deps)
	})

	addr := cfg.Addr
	if addr == "" {
		addr = ":8080"
	}

	return &Server{
		router: r,
		logger: logger,
		cfg:    cfg,
		http: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  orDefault(cfg.ReadTimeout, 15*time.Second),
			WriteTimeout: orDefault(cfg.WriteTimeout, 15*time.Second),
			IdleTimeout:  orDefault(cfg.IdleTimeout, 60*time.Second),
		},
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// authMiddleware resolves every request's caller identity and rejects
// unauthenticated requests with 401 before they reach a handler. Role and
// organization scoping beyond "is there a caller at all" is each handler's
// responsibility, per the injected AuthContext it reads back out.
func authMiddleware(resolver AuthResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, err := resolver.Resolve(r)
			if err != nil {
				writeUnauthorized(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(authctx.WithContext(r.Context(), actor)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, cause error) {
	appErr := apperrors.Wrap(cause, apperrors.ErrorTypeAuth, "authentication failed")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.StatusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": apperrors.SafeErrorMessage(appErr),
		"type":  string(appErr.Type),
	})
}

func requestLogging(logger logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.V(1).Info("http request",
				"method", r.Method, "path", r.URL.Path,
				"status", ww.Status(), "duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func handleHealth(checkers []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := make(map[string]string, len(checkers))
		healthy := true
		for _, c := range checkers {
			if err := c.Check(r.Context()); err != nil {
				checks[c.Name()] = "unhealthy: " + err.Error()
				healthy = false
				continue
			}
			checks[c.Name()] = "healthy"
		}

		resp := healthResponse{Status: "ok", Checks: checks}
		status := http.StatusOK
		if !healthy {
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}
}

// Start blocks serving HTTP until the listener fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "HTTP server failed")
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within cfg.ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	timeout := orDefault(s.cfg.ShutdownTimeout, 10*time.Second)
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInternal, "HTTP server shutdown failed")
	}
	return nil
}
