package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wrale/oauth2-device-server/internal/csrf"
	"github.com/wrale/oauth2-device-server/internal/deviceflow"
	"github.com/wrale/oauth2-device-server/internal/metrics"
	"github.com/wrale/oauth2-device-server/internal/templates"
	"github.com/wrale/oauth2-device-server/internal/upstream"
)

type server struct {
	cfg       Config
	router    *chi.Mux
	flow      *deviceflow.Flow
	templates *templates.Templates
	csrf      *csrf.Manager
	metrics   *metrics.Metrics
	upstream  *upstream.Provider
	logger    *zap.Logger
}

func newServer(cfg Config, flow *deviceflow.Flow, csrfManager *csrf.Manager,
	m *metrics.Metrics, provider *upstream.Provider, logger *zap.Logger) (*server, error) {
	tmpls, err := templates.LoadTemplates()
	if err != nil {
		return nil, err
	}

	srv := &server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		flow:      flow,
		templates: tmpls,
		csrf:      csrfManager,
		metrics:   m,
		upstream:  provider,
		logger:    logger,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.RealIP)
	srv.router.Use(requestLogger(logger))
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(middleware.Timeout(30 * time.Second))

	srv.routes()
	return srv, nil
}

func (s *server) routes() {
	s.router.Get("/health", s.handleHealth())
	s.router.Method(http.MethodGet, "/metrics",
		promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))

	// Device flow endpoints per RFC 8628
	s.router.Post("/device_authorization", s.handleDeviceAuthorization())
	s.router.Post("/token", s.handleToken())

	// Human verification endpoints
	s.router.Get("/device", s.handleVerifyForm())
	s.router.Post("/device/verify", s.handleVerifySubmit())
	if s.upstream != nil {
		s.router.Get("/device/complete", s.handleUpstreamCallback())
	}
}

func (s *server) checkHealth(ctx context.Context) error {
	if err := s.flow.CheckHealth(ctx); err != nil {
		return err
	}
	return s.csrf.CheckHealth(ctx)
}

// requestLogger logs each request through the structured logger
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())))
		})
	}
}
