// Package logging builds the service's slog loggers and the per-request
// logging middleware. Each request gets one "request completed" line that
// carries the route the dispatcher matched and, for authenticated
// endpoints, the caller's user id.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"shelfshare/internal/observability/metrics"
)

type Config struct {
	Level  string
	Writer io.Writer
	Format string
}

type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// UnmatchedRoute names requests no route claimed.
const UnmatchedRoute = "unmatched"

var levels = map[string]slog.Level{
	"debug":   slog.LevelDebug,
	"info":    slog.LevelInfo,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// Init builds a logger with New and installs it as slog's default.
func Init(cfg Config) *slog.Logger {
	logger := New(cfg)
	slog.SetDefault(logger)
	return logger
}

// New builds a JSON logger, or a text logger when Format is "text". Output
// goes to stdout unless Writer is set.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}
	options := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if LogFormat(strings.ToLower(strings.TrimSpace(cfg.Format))) == FormatText {
		return slog.New(slog.NewTextHandler(writer, options))
	}
	return slog.New(slog.NewJSONHandler(writer, options))
}

// parseLevel falls back to info for unknown names.
func parseLevel(level string) slog.Leveler {
	if l, ok := levels[strings.ToLower(strings.TrimSpace(level))]; ok {
		return l
	}
	return slog.LevelInfo
}

// WithComponent tags logger with the subsystem that owns it.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With("component", component)
}

type contextKey int

const (
	requestIDKey contextKey = iota
	loggerKey
	requestInfoKey
)

// ContextWithRequestID stores id on ctx. Blank ids are ignored.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, trimmed)
}

func RequestIDFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	value, ok := ctx.Value(requestIDKey).(string)
	return value, ok && value != ""
}

func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey, logger)
}

func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx == nil {
		return nil
	}
	logger, _ := ctx.Value(loggerKey).(*slog.Logger)
	return logger
}

// WithContext adds the request id held by ctx to logger.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return nil
	}
	if requestID, ok := RequestIDFromContext(ctx); ok {
		logger = logger.With("request_id", requestID)
	}
	return logger
}

// RequestInfo is filled in by handlers deep in the chain and read by the
// middleware around them once the handler returns. The zero value and a nil
// pointer are both usable.
type RequestInfo struct {
	mu        sync.Mutex
	route     string
	pattern   string
	subjectID int64
}

// SetRoute records the matched route's name and pattern.
func (i *RequestInfo) SetRoute(name, pattern string) {
	if i == nil {
		return
	}
	i.mu.Lock()
	i.route, i.pattern = name, pattern
	i.mu.Unlock()
}

// SetSubject records the authenticated user id.
func (i *RequestInfo) SetSubject(id int64) {
	if i == nil {
		return
	}
	i.mu.Lock()
	i.subjectID = id
	i.mu.Unlock()
}

// Route returns the matched route, or UnmatchedRoute for both values when
// nothing was recorded.
func (i *RequestInfo) Route() (name, pattern string) {
	if i == nil {
		return UnmatchedRoute, UnmatchedRoute
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.route == "" {
		return UnmatchedRoute, UnmatchedRoute
	}
	return i.route, i.pattern
}

// Subject returns the authenticated user id, if any.
func (i *RequestInfo) Subject() (int64, bool) {
	if i == nil {
		return 0, false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.subjectID, i.subjectID > 0
}

// ContextWithRequestInfo attaches a fresh RequestInfo to ctx.
func ContextWithRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	info := &RequestInfo{}
	return context.WithValue(ctx, requestInfoKey, info), info
}

// RequestInfoFromContext returns the RequestInfo on ctx, or nil.
func RequestInfoFromContext(ctx context.Context) *RequestInfo {
	if ctx == nil {
		return nil
	}
	info, _ := ctx.Value(requestInfoKey).(*RequestInfo)
	return info
}

// RoutePattern labels r by the route pattern recorded during handling.
// Unmatched requests share UnmatchedRoute so labels stay bounded.
func RoutePattern(r *http.Request) string {
	_, pattern := RequestInfoFromContext(r.Context()).Route()
	return pattern
}

type RequestLoggerConfig struct {
	Logger *slog.Logger
}

// RequestLogger logs one line per request with method, path, status,
// duration, client IP, matched route and, once authenticated, subject_id.
// It installs the RequestInfo that inner handlers fill in.
func RequestLogger(cfg RequestLoggerConfig) func(http.Handler) http.Handler {
	baseLogger := cfg.Logger
	if baseLogger == nil {
		baseLogger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := RequestInfoFromContext(r.Context())
			if info == nil {
				var ctx context.Context
				ctx, info = ContextWithRequestInfo(r.Context())
				r = r.WithContext(ctx)
			}
			recorder := metrics.NewResponseRecorder(w)
			start := time.Now()
			next.ServeHTTP(recorder, r)

			route, _ := info.Route()
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"route", route,
				"status", recorder.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", remoteIP(r.RemoteAddr),
			}
			if subjectID, ok := info.Subject(); ok {
				attrs = append(attrs, "subject_id", subjectID)
			}
			WithContext(r.Context(), baseLogger).Info("request completed", attrs...)
		})
	}
}

func remoteIP(addr string) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}
