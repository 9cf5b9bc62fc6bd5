// Package server exposes the mixer over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	xlog "voiceover-mixer/internal/log"
	"voiceover-mixer/internal/mixer"
	"voiceover-mixer/pkg/models"
)

// Mixer runs a single mix request.
type Mixer interface {
	Mix(ctx context.Context, req models.MixRequest, deliver func(mixer.Result) error) error
}

// HostMonitor reports host load for health and admission.
type HostMonitor interface {
	GetStats(ctx context.Context) (models.HostStats, error)
}

// Options configures the HTTP surface.
type Options struct {
	Addr string
	// RateLimit requests per RateWindow per client IP. Zero disables limiting.
	RateLimit  int
	RateWindow time.Duration
	// Admission refuses new mixes while the host monitor reports busy.
	Admission    bool
	MaxBodyBytes int64
	// Codec is reported by /healthz.
	Codec string
	// ShutdownTimeout bounds how long in-flight mixes may run after shutdown
	// begins.
	ShutdownTimeout time.Duration
}

// Server is the HTTP front of the mixer.
type Server struct {
	mixer    Mixer
	monitor  HostMonitor
	opts     Options
	inflight atomic.Int64
	logger   zerolog.Logger
}

// New creates a server. monitor may be nil, which disables admission control
// and reports empty host stats.
func New(m Mixer, monitor HostMonitor, opts Options) *Server {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 4 << 20
	}
	if opts.RateWindow <= 0 {
		opts.RateWindow = time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	return &Server{mixer: m, monitor: monitor, opts: opts, logger: xlog.WithComponent("server")}
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestContext)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		if s.opts.RateLimit > 0 {
			r.Use(s.rateLimit())
		}
		r.Post("/mix", s.handleMix)
	})
	return r
}

// Run listens on Options.Addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled, then stops taking
// new requests and lets in-flight mixes finish. Request contexts are detached
// from ctx; they are cancelled only when ShutdownTimeout expires.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	baseCtx, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelBase()

	srv := &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("listening for mix requests")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Int64("inflight", s.inflight.Load()).Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.ShutdownTimeout)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		// Abort the mixes that did not finish in time so ffmpeg is reaped.
		s.logger.Warn().Int64("inflight", s.inflight.Load()).Msg("shutdown timed out, cancelling in-flight mixes")
		cancelBase()
		_ = srv.Close()
	}
	<-errCh
	if err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// requestContext copies chi's request ID into the logging context and the
// response headers.
func (s *Server) requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := middleware.GetReqID(r.Context())
		if rid != "" {
			w.Header().Set(HeaderRequestID, rid)
			r = r.WithContext(xlog.ContextWithRequestID(r.Context(), rid))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		if r.URL.Path == "/metrics" || r.URL.Path == "/healthz" {
			return
		}
		logger := xlog.WithContext(r.Context(), s.logger)
		logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("request")
	})
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	return httprate.Limit(
		s.opts.RateLimit,
		s.opts.RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(s.opts.RateWindow.Seconds())))
			writeProblem(w, r, http.StatusTooManyRequests, "rate_limited", "Too many requests. Please try again later.", "")
		}),
	)
}

func (s *Server) busy(ctx context.Context) bool {
	if !s.opts.Admission || s.monitor == nil {
		return false
	}
	stats, err := s.monitor.GetStats(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("host stats unavailable, admitting request")
		return false
	}
	return stats.IsBusy
}
