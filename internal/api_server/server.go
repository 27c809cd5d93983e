package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"

	apimiddleware "github.com/apiary/apiary/internal/api_server/middleware"
	"github.com/apiary/apiary/internal/auth"
	"github.com/apiary/apiary/internal/auth/keystore"
	"github.com/apiary/apiary/internal/config"
	"github.com/apiary/apiary/internal/metrics"
	"github.com/apiary/apiary/internal/ratelimit"
	"github.com/apiary/apiary/internal/service"
	"github.com/apiary/apiary/internal/service/crypto"
	"github.com/apiary/apiary/internal/service/hello"
	"github.com/apiary/apiary/pkg/thread"
)

const (
	gracefulShutdownTimeout = 5 * time.Second
	limiterSweepInterval    = time.Minute
	outboundRequestTimeout  = 30 * time.Second
)

type Server struct {
	log      logrus.FieldLogger
	cfg      *config.Config
	listener net.Listener

	keys          *keystore.Store
	authenticator *auth.Authenticator
	limiter       *ratelimit.Limiter
	collector     *metrics.Collector
	registry      *service.Registry
	endpoints     *config.EndpointsDocument
	client        *http.Client
	startTime     time.Time
}

// New returns a new instance of an apiary server.
func New(log logrus.FieldLogger, cfg *config.Config, listener net.Listener) *Server {
	return &Server{
		log:      log,
		cfg:      cfg,
		listener: listener,
	}
}

// registerBuiltinServices installs the bundled backends. Extension
// services registered afterwards under the same name win.
func registerBuiltinServices(registry *service.Registry) {
	registry.Register(hello.Name, hello.New)
	registry.Register(crypto.Name, crypto.New)
}

// initialize builds the process-wide singletons and validates every
// credential source so a path-like-but-missing source aborts startup
// instead of serving with broken auth.
func (s *Server) initialize() error {
	s.startTime = time.Now()
	s.keys = keystore.NewStore(s.log.WithField("pkg", "keystore"))
	s.authenticator = auth.New(s.keys, s.cfg.GlobalAPIKeys())
	s.limiter = ratelimit.New()
	s.collector = metrics.NewCollector()
	s.registry = service.NewRegistry()
	// The outbound transport handle is shared and reused across requests,
	// opened here and closed at shutdown.
	s.client = &http.Client{Timeout: outboundRequestTimeout}

	registerBuiltinServices(s.registry)

	if source := s.cfg.GlobalAPIKeys(); source != "" {
		if _, err := s.keys.Load(source, "settings.apiKeys"); err != nil {
			return fmt.Errorf("validating global API keys: %w", err)
		}
	}

	endpointsFile := ""
	if s.cfg.Endpoints != nil {
		endpointsFile = s.cfg.Endpoints.File
	}
	doc, err := config.LoadEndpoints(endpointsFile)
	if err != nil {
		return fmt.Errorf("loading endpoint declarations: %w", err)
	}
	s.endpoints = doc

	for i := range doc.Endpoints {
		d := &doc.Endpoints[i]
		if !d.IsEnabled() || d.ApiKeys == "" {
			continue
		}
		if _, err := s.keys.Load(d.ApiKeys, fmt.Sprintf("endpoints[%s].api_keys", d.Path)); err != nil {
			return fmt.Errorf("validating endpoint %s API keys: %w", d.Path, err)
		}
	}
	return nil
}

// Router assembles the middleware pipeline, built-in routes and dynamic
// routes. The middleware order is a contract; see the package comment in
// internal/api_server/middleware.
func (s *Server) Router() (chi.Router, error) {
	router := chi.NewRouter()

	router.Use(
		cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodOptions},
			AllowedHeaders:   []string{"*"},
			ExposedHeaders:   []string{"X-Request-Id", "X-Process-Time"},
			AllowCredentials: true,
		}),
		apimiddleware.SecurityHeaders,
		apimiddleware.RequestValidation(s.cfg.Service.HttpMaxRequestSize, s.log),
		apimiddleware.Metrics(s.collector),
		apimiddleware.RateLimit(s.limiter, s.cfg),
		apimiddleware.RequestID,
		apimiddleware.Logger(s.log),
		apimiddleware.Recoverer(s.log),
	)

	router.Get("/health", s.handleHealth)
	router.Get("/health/live", s.handleLiveness)
	router.Get("/health/ready", s.handleReadiness)
	router.Get("/metrics", s.handleMetrics)
	router.Method(http.MethodGet, "/metrics/prometheus", s.collector.PrometheusHandler())
	router.Get("/auth/status", s.handleAuthStatus)
	router.Get("/auth/validate", s.handleAuthValidate)
	router.Get("/endpoints", s.handleEndpoints)

	dynamic := NewDynamicRouter(router, s.registry, s.authenticator, s.client, s.log)
	dynamic.LoadAndRegister(s.endpoints)

	return router, nil
}

func (s *Server) Run(ctx context.Context) error {
	if err := s.initialize(); err != nil {
		return err
	}
	defer s.keys.Shutdown()

	router, err := s.Router()
	if err != nil {
		return err
	}

	sweeper := thread.New(ctx, s.log, "Rate limiter sweeper", limiterSweepInterval, func(context.Context) {
		s.limiter.Sweep()
	})
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	go func() {
		<-ctx.Done()
		s.log.Println("Shutdown signal received")
		ctxTimeout, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(ctxTimeout)
		s.client.CloseIdleConnections()
	}()

	s.log.Printf("Listening on %s...", s.listener.Addr())
	if err := srv.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
