// Package api exposes the HTTP interface for the indexer service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avncodex/indexer/internal/config"
	"github.com/avncodex/indexer/internal/crawl"
	"github.com/avncodex/indexer/internal/indexer"
	"github.com/avncodex/indexer/internal/metrics"
	"github.com/avncodex/indexer/internal/progress"
)

// crawlController is the orchestrator surface the handlers need.
type crawlController interface {
	StartCrawl(ctx context.Context, reset bool) error
	Status(ctx context.Context) crawl.Status
}

// recordRefresher applies the freshness policy to records on the read path.
type recordRefresher interface {
	RefreshPage(ctx context.Context, page []indexer.GameRecord) []indexer.GameRecord
	RefreshOne(ctx context.Context, rec indexer.GameRecord) (indexer.GameRecord, error)
}

// progressFeed serves recent crawl activity for the progress endpoint.
type progressFeed interface {
	Snapshot() []progress.Event
}

// Server wires HTTP handlers to the store, refresher, and crawl orchestrator.
type Server struct {
	router    chi.Router
	records   indexer.RecordStore
	refresher recordRefresher
	crawler   crawlController
	feed      indexer.FeedSource
	activity  progressFeed
	cfg       config.Config
	logger    *zap.Logger

	// crawlCtx outlives individual requests so an API-triggered crawl is
	// not cancelled when the triggering request completes.
	crawlCtx context.Context
}

// NewServer constructs a Server with middleware and routes. crawlCtx bounds
// background crawls started via the API; pass the process lifetime context.
func NewServer(
	records indexer.RecordStore,
	refresher recordRefresher,
	crawler crawlController,
	feed indexer.FeedSource,
	activity progressFeed,
	cfg config.Config,
	logger *zap.Logger,
	crawlCtx context.Context,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if crawlCtx == nil {
		crawlCtx = context.Background()
	}
	s := &Server{
		records:   records,
		refresher: refresher,
		crawler:   crawler,
		feed:      feed,
		activity:  activity,
		cfg:       cfg,
		logger:    logger.Named("api"),
		crawlCtx:  crawlCtx,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/games", func(r chi.Router) {
			r.Get("/", s.searchGames)
			r.Get("/search", s.searchGames)
			r.Route("/{game_id}", func(r chi.Router) {
				r.Get("/", s.getGame)
				r.Post("/refresh", s.refreshGame)
				r.Post("/track", s.trackGame)
				r.Delete("/track", s.untrackGame)
			})
		})
		r.Route("/crawl", func(r chi.Router) {
			r.Post("/start", s.startCrawl)
			r.Get("/status", s.crawlStatus)
			r.Get("/progress", s.crawlProgress)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.records.CountUnenriched(r.Context()); err != nil {
		writeError(s.logger, w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(s.logger, w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		elapsed := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, strconv.Itoa(ww.status), routePattern(r), elapsed.Seconds())
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", elapsed.Milliseconds()),
			zap.String("request_id", requestID(r.Context())),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				writeError(s.logger, w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(zap.NewNop(), w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// routePattern resolves the chi route pattern for metric labels so that
// per-id paths do not explode the label cardinality.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func writeJSON(logger *zap.Logger, w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}

func writeError(logger *zap.Logger, w http.ResponseWriter, status int, msg string) {
	writeJSON(logger, w, status, map[string]string{"error": msg})
}
