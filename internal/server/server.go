// Package server exposes the CEFR ensemble over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ahrav/go-cefr/internal/application"
	"github.com/ahrav/go-cefr/internal/domain"
	"github.com/ahrav/go-cefr/internal/ports"
)

// Metric names emitted by the server.
const (
	MetricHTTPRequests = "http_requests_total"
	MetricHTTPLatency  = "http_request_seconds"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "ensemble-classifier"

// Predictor classifies a text. *application.Ensemble implements it.
type Predictor interface {
	Predict(ctx context.Context, text string) (*domain.EnsembleResult, error)
}

// Server serves predictions, health and metrics over HTTP.
type Server struct {
	addr            string
	readTimeout     time.Duration
	shutdownTimeout time.Duration

	router *gin.Engine
}

type options struct {
	logger         *slog.Logger
	metrics        ports.MetricsCollector
	metricsPath    string
	metricsHandler http.Handler
}

// Option configures a Server.
type Option func(*options)

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics records per-request counters and latencies through m.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(o *options) { o.metrics = m }
}

// WithMetricsHandler mounts h at path, typically a Prometheus exposition
// handler.
func WithMetricsHandler(path string, h http.Handler) Option {
	return func(o *options) {
		o.metricsPath = path
		o.metricsHandler = h
	}
}

// New builds a Server that answers predictions with p. Routes are mounted at
// the root and again under cfg.APIPrefix when one is set.
func New(p Predictor, cfg application.ServerConfig, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, errors.New("server requires a predictor")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":5000"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(requestID(), requestLogger(o.logger, o.metrics), recovery(o.logger))
	if cfg.CORS {
		router.Use(cors())
	}

	h := &handlers{predictor: p, maxBodyBytes: cfg.MaxBodyBytes, logger: o.logger}
	h.register(&router.RouterGroup)
	if prefix := strings.TrimSuffix(cfg.APIPrefix, "/"); prefix != "" {
		h.register(router.Group(prefix))
	}

	if o.metricsHandler != nil && o.metricsPath != "" {
		router.GET(o.metricsPath, gin.WrapH(o.metricsHandler))
	}

	if cfg.StaticDir != "" {
		index := filepath.Join(cfg.StaticDir, "index.html")
		if stat, err := os.Stat(index); err != nil || stat.IsDir() {
			return nil, fmt.Errorf("static dir %s has no index.html", cfg.StaticDir)
		}
		router.NoRoute(frontend(cfg.StaticDir, strings.TrimSuffix(cfg.APIPrefix, "/")))
	} else {
		router.NoRoute(notFound)
	}

	return &Server{
		addr:            cfg.Addr,
		readTimeout:     cfg.ReadTimeout,
		shutdownTimeout: cfg.ShutdownTimeout,
		router:          router,
	}, nil
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
}

// frontend serves files from dir and answers every other GET outside the
// API prefix with index.html so client-side routes resolve.
func frontend(dir, apiPrefix string) gin.HandlerFunc {
	root := http.Dir(dir)
	files := http.FileServer(root)
	index := filepath.Join(dir, "index.html")

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		method := c.Request.Method
		if method != http.MethodGet && method != http.MethodHead {
			notFound(c)
			return
		}
		if apiPrefix != "" && (path == apiPrefix || strings.HasPrefix(path, apiPrefix+"/")) {
			notFound(c)
			return
		}

		if f, err := root.Open(path); err == nil {
			stat, statErr := f.Stat()
			_ = f.Close()
			if statErr == nil && !stat.IsDir() {
				files.ServeHTTP(c.Writer, c.Request)
				return
			}
		}
		c.File(index)
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Handler returns the HTTP handler for embedding or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled or the listener fails. On cancellation
// in-flight requests get up to the shutdown timeout to finish.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadTimeout:       s.readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shCtx); err != nil {
			return fmt.Errorf("failed to shut down http server: %w", err)
		}
		return nil
	case err := <-errCh:
		return err
	}
}
