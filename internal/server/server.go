// Package server exposes the notifier over HTTP: message ingest, quick
// replies, external read marks, the live notification list, health and
// Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"msgnotify/internal/lifecycle"
	"msgnotify/internal/metrics"
	logx "msgnotify/pkg/logx"
)

// Notifier is the lifecycle surface the handlers drive.
type Notifier interface {
	Deliver(ctx context.Context, key, body string, at time.Time) (int, error)
	ReplySent(ctx context.Context, key, body string, id int)
	Active() []lifecycle.Active
}

// Reader marks a sender's unread messages read, as another client would.
type Reader interface {
	MarkRead(ctx context.Context, sender string) (int, error)
}

// HealthFunc reports extra fields for /healthz.
type HealthFunc func() map[string]any

type Config struct {
	Addr            string
	Pprof           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type Server struct {
	cfg      Config
	log      logx.Logger
	notifier Notifier
	reader   Reader
	metrics  *metrics.Metrics
	health   HealthFunc
	now      func() time.Time

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func New(cfg Config, n Notifier, r Reader, m *metrics.Metrics, health HealthFunc, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		cfg:      cfg,
		log:      log.With(logx.Component("http")),
		notifier: n,
		reader:   r,
		metrics:  m,
		health:   health,
		now:      time.Now,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/messages", s.handleMessage)
		r.Post("/replies", s.handleReply)
		r.Post("/contacts/{address}/read", s.handleMarkRead)
		r.Get("/notifications", s.handleNotifications)
	})

	if s.cfg.Pprof {
		r.Route("/debug/pprof", func(r chi.Router) {
			r.HandleFunc("/cmdline", pprof.Cmdline)
			r.HandleFunc("/profile", pprof.Profile)
			r.HandleFunc("/symbol", pprof.Symbol)
			r.HandleFunc("/trace", pprof.Trace)
			// Index also serves the named profiles (heap, goroutine, ...).
			r.HandleFunc("/*", pprof.Index)
		})
	}
	return r
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Serve listens on cfg.Addr and blocks until ctx is cancelled, then shuts
// down gracefully within ShutdownTimeout.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.mu.Lock()
	s.srv, s.ln = srv, ln
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("http listening", logx.String("addr", ln.Addr().String()), logx.Bool("pprof", s.cfg.Pprof))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	sctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
		_ = srv.Close()
	}
	s.log.Info("http stopped")
	return nil
}

// Addr returns the bound address once Serve is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
