package httpapi

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/MimeLyc/profile-letterbox/internal/jobs"
	"github.com/MimeLyc/profile-letterbox/internal/sweeper"
	"github.com/MimeLyc/profile-letterbox/pkg/icron"
)

// Sweeper is the cleanup surface the server triggers out of band.
type Sweeper interface {
	Sweep(ctx context.Context) (sweeper.Report, error)
	NextRun() *icron.TriggerInfo
}

type Server struct {
	queue   *jobs.Queue
	sweeper Sweeper

	rateLimit   int
	rateWindow  time.Duration
	streamEvery time.Duration

	router    *chi.Mux
	server    *http.Server
	closing   chan struct{}
	closeOnce sync.Once
}

type Option func(*Server)

// WithSweeper enables POST /api/cleanup.
func WithSweeper(s Sweeper) Option {
	return func(srv *Server) {
		srv.sweeper = s
	}
}

// WithSubmitRateLimit bounds job submissions per client. A non-positive limit disables it.
func WithSubmitRateLimit(limit int, window time.Duration) Option {
	return func(srv *Server) {
		srv.rateLimit = limit
		srv.rateWindow = window
	}
}

// WithStreamInterval sets how often /api/jobs/stream pushes the job list.
func WithStreamInterval(d time.Duration) Option {
	return func(srv *Server) {
		srv.streamEvery = d
	}
}

func NewServer(queue *jobs.Queue, opts ...Option) *Server {
	s := &Server{
		queue:       queue,
		rateWindow:  time.Minute,
		streamEvery: time.Second,
		router:      chi.NewRouter(),
		closing:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "letterbox.http",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/healthz" && r.URL.Path != "/metrics"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.server.Serve(ln)
}

// Shutdown ends open job streams and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(submitRateLimit(s.rateLimit, s.rateWindow))
		r.Post("/api/jobs", s.handleSubmitJob)
		r.Post("/process_instagram", s.handleProcessSync)
	})

	r.Get("/api/jobs", s.handleListJobs)
	r.Get("/api/jobs/stream", s.handleJobStream)
	r.Get("/api/jobs/{id}", s.handleGetJob)
	r.Get("/api/jobs/{id}/archive", s.handleGetArchive)
	r.Post("/api/cleanup", s.handleCleanup)
}
