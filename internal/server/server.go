// Package server exposes the optimization engine over HTTP: submission,
// batch submission, job status, strategy discovery, cancellation, and a
// WebSocket progress feed.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/cadforge/cadopt/internal/config"
	"github.com/cadforge/cadopt/internal/optimizer"
	"github.com/cadforge/cadopt/internal/progress"
	"github.com/cadforge/cadopt/internal/queue"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Server is the HTTP front end. Construct with New, then Run.
type Server struct {
	cfg    config.ServerConfig
	engine *queue.Engine
	opt    *optimizer.Optimizer
	hub    *progress.Hub
	log    *zap.Logger

	limiter *rate.Limiter
	http    *http.Server
}

// New wires the router and handlers.
func New(cfg config.ServerConfig, engine *queue.Engine, opt *optimizer.Optimizer, hub *progress.Hub, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		opt:     opt,
		hub:     hub,
		log:     logger.Named("server"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	s.http = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the chi mux. Exposed separately so tests can drive it
// through httptest without binding a port.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/optimize-parameters", s.handleOptimize)
		r.Post("/batch-optimize", s.handleBatchOptimize)
		r.Get("/optimization-status/{jobID}", s.handleStatus)
		r.Get("/strategies", s.handleStrategies)
		r.Delete("/jobs/{jobID}", s.handleCancel)
	})

	r.Get("/ws/progress/{jobID}", s.handleProgressWS)
	return r
}

// Run serves until ctx is cancelled, then drains within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP server listening", zap.String("addr", s.cfg.Addr()))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Info("Shutting down HTTP server")
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// logRequests emits one structured line per request. WebSocket upgrades are
// logged on entry only; their duration is the life of the stream.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("Request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// rateLimit sheds load once the token bucket empties.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"queue_depth": s.engine.Depth(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
