package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"shelfshare/internal/observability/logging"
	"shelfshare/internal/observability/metrics"
	"shelfshare/internal/serverutil"
)

const (
	healthPath    = "/healthz"
	metricsPath   = "/metrics"
	healthTimeout = 2 * time.Second
)

// HealthChecker reports whether the backing datastore is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Addr            string
	TLS             serverutil.TLSConfig
	Security        SecurityConfig
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	Health          HealthChecker
	ShutdownTimeout time.Duration
}

type Server struct {
	httpServer      *http.Server
	handler         http.Handler
	logger          *slog.Logger
	tls             serverutil.TLSConfig
	shutdownTimeout time.Duration
}

// New wraps the API handler with the shared middleware chain and the
// operational endpoints.
func New(apiHandler http.Handler, cfg Config) (*Server, error) {
	if apiHandler == nil {
		return nil, errors.New("api handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Metrics
	if recorder == nil {
		recorder = metrics.Default()
	}

	handlerChain := routeOperational(apiHandler, recorder.Handler(), healthHandler(cfg.Health, logger))
	handlerChain = securityHeadersMiddleware(cfg.Security, handlerChain)
	handlerChain = metrics.HTTPMiddleware(recorder, logging.RoutePattern, handlerChain)
	handlerChain = logging.RequestLogger(logging.RequestLoggerConfig{Logger: logger})(handlerChain)
	handlerChain = requestIDMiddleware(logger, handlerChain)

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handlerChain,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}
	if cfg.TLS.Enabled() {
		httpServer.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return &Server{
		httpServer:      httpServer,
		handler:         handlerChain,
		logger:          logger,
		tls:             cfg.TLS,
		shutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, onListen func(net.Addr)) error {
	return serverutil.Run(ctx, serverutil.Config{
		Server:          s.httpServer,
		TLS:             s.tls,
		ShutdownTimeout: s.shutdownTimeout,
		Logger:          s.logger,
		OnListen:        onListen,
	})
}

// routeOperational answers the health and metrics paths itself and hands
// every other path to the API untouched, so the API sees raw request paths.
func routeOperational(apiHandler, metricsHandler, health http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case healthPath:
			logging.RequestInfoFromContext(r.Context()).SetRoute("healthz", healthPath)
			health.ServeHTTP(w, r)
		case metricsPath:
			metricsHandler.ServeHTTP(w, r)
		default:
			apiHandler.ServeHTTP(w, r)
		}
	})
}

func healthHandler(checker HealthChecker, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			writeStatus(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
			return
		}
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			defer cancel()
			if err := checker.Ping(ctx); err != nil {
				requestLogger := logging.LoggerFromContext(r.Context())
				if requestLogger == nil {
					requestLogger = logger
				}
				requestLogger.Warn("health check failed", "error", err)
				writeStatus(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeStatus(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func writeStatus(w http.ResponseWriter, status int, payload map[string]string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
