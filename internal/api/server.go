package api

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"ambuplan/internal/config"
	"ambuplan/internal/metrics"
	"ambuplan/internal/store"
)

type Server struct {
	Store  store.Store
	Broker EventBroker
	Config config.Config

	// runs executed in the background; Close waits for them
	bg     context.Context
	cancel context.CancelFunc
	jobs   chan struct{}
}

// maxBackgroundRuns bounds concurrently executing async runs.
const maxBackgroundRuns = 4

// NewServer wires a store and broker from cfg. With no DATABASE_URL or
// SQLITE_PATH it uses the in-memory store; with no REDIS_URL, or when Redis is
// unreachable, the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
	var st store.Store
	switch {
	case cfg.DatabaseURL != "":
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			if err := pg.Migrate(context.Background()); err != nil {
				_ = pg.Close()
				return nil, err
			}
		}
		st = pg
	case cfg.SQLitePath != "":
		sq, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		st = sq
	default:
		st = store.NewMemory()
	}

	var broker EventBroker = NewBroker()
	if cfg.RedisURL != "" {
		rb, err := NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Printf("redis broker unavailable, using in-process broker: %v", err)
		} else {
			broker = rb
		}
	}
	return newServer(cfg, st, broker), nil
}

func newServer(cfg config.Config, st store.Store, broker EventBroker) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{Store: st, Broker: broker, Config: cfg, bg: ctx, cancel: cancel, jobs: make(chan struct{}, maxBackgroundRuns)}
}

// Close cancels background runs, waits for them, and releases the store.
func (s *Server) Close() error {
	s.cancel()
	for i := 0; i < cap(s.jobs); i++ {
		s.jobs <- struct{}{}
	}
	if c, ok := s.Broker.(interface{ Close() error }); ok {
		_ = c.Close()
	}
	return s.Store.Close()
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/plan", s.PlanHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs", s.CreateRunHandler).Methods(http.MethodPost)
	r.HandleFunc("/v1/runs", s.ListRunsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{id}", s.GetRunHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{id}/events", s.RunEventsHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{id}/events/stream", s.RunStreamHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/runs/{id}/ws", s.RunWSHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/planner/config", s.PlannerConfigHandler).Methods(http.MethodGet)
	r.HandleFunc("/v1/admin/plan-metrics", s.PlanMetricsHandler).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.HealthHandler)
	r.HandleFunc("/readyz", s.ReadyHandler)
	r.HandleFunc("/debug/info", s.DebugJSON)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeProblem(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method, r.URL.Path)
	})

	r.Use(logMiddleware, instrument)
	if s.Config.RateRPS > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(s.Config.RateRPS), s.Config.RateBurst)))
	}
	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE working through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

// instrument records request counts and latency labelled by route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

func rateLimit(l *rate.Limiter) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				w.Header().Set("Retry-After", "1")
				writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "rate limit exceeded", r.URL.Path)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
