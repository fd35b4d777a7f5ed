package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sort"
	"strings"

	"shelfshare/internal/apperr"
	"shelfshare/internal/auth"
	"shelfshare/internal/observability/logging"
	"shelfshare/internal/router"
)

const msgRouteNotFound = "Route not found"

// Request is what an endpoint receives once routing and, when declared,
// authentication have succeeded. Identity is nil for public endpoints.
type Request struct {
	HTTP     *http.Request
	Params   router.Params
	Identity *auth.Claims
}

// Response is serialized as the JSON body with Status (200 when zero).
type Response struct {
	Status int
	Body   any
}

type HandlerFunc func(ctx context.Context, req *Request) (Response, error)

// Endpoint binds a handler to its authentication requirement.
type Endpoint struct {
	Auth   bool
	Handle HandlerFunc
}

// Dispatcher routes a request to its endpoint, authenticates it when the
// endpoint requires it, and writes exactly one JSON response. It is the only
// place that turns errors into HTTP statuses.
type Dispatcher struct {
	table        *router.Table
	endpoints    map[string]Endpoint
	verifier     TokenVerifier
	logger       *slog.Logger
	authObserver AuthObserver
}

type DispatcherOption func(*Dispatcher)

// WithAuthObserver reports rejected bearer authentications.
func WithAuthObserver(observer AuthObserver) DispatcherOption {
	return func(d *Dispatcher) {
		d.authObserver = observer
	}
}

// NewDispatcher checks that route names and endpoints correspond one to one.
func NewDispatcher(table *router.Table, endpoints map[string]Endpoint, verifier TokenVerifier, logger *slog.Logger, opts ...DispatcherOption) (*Dispatcher, error) {
	if table == nil {
		return nil, errors.New("route table is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	bound := make(map[string]Endpoint, len(endpoints))
	needsVerifier := false
	for _, route := range table.Routes() {
		endpoint, ok := endpoints[route.Name]
		if !ok {
			return nil, fmt.Errorf("route %s %s: no endpoint registered for %q", route.Method, route.Pattern, route.Name)
		}
		if endpoint.Handle == nil {
			return nil, fmt.Errorf("endpoint %q has no handler", route.Name)
		}
		bound[route.Name] = endpoint
		needsVerifier = needsVerifier || endpoint.Auth
	}
	var orphans []string
	for name := range endpoints {
		if _, ok := bound[name]; !ok {
			orphans = append(orphans, name)
		}
	}
	if len(orphans) > 0 {
		sort.Strings(orphans)
		return nil, fmt.Errorf("endpoints without routes: %s", strings.Join(orphans, ", "))
	}
	if needsVerifier && verifier == nil {
		return nil, errors.New("token verifier is required for authenticated endpoints")
	}

	d := &Dispatcher{
		table:     table,
		endpoints: bound,
		verifier:  verifier,
		logger:    logging.WithComponent(logger, "dispatcher"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	return d, nil
}

func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp, err := d.dispatch(r)
	if err != nil {
		d.writeError(w, r, err)
		return
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, resp.Body)
}

func (d *Dispatcher) dispatch(r *http.Request) (resp Response, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = apperr.Internal(fmt.Errorf("panic: %v\n%s", rec, debug.Stack()))
		}
	}()

	match, ok := d.table.Match(r.Method, r.URL.Path)
	if !ok {
		return Response{}, apperr.NotFound(msgRouteNotFound)
	}
	endpoint := d.endpoints[match.Route.Name]
	info := logging.RequestInfoFromContext(r.Context())
	info.SetRoute(match.Route.Name, match.Route.Pattern)

	req := &Request{HTTP: r, Params: match.Params}
	if endpoint.Auth {
		claims, err := d.authenticate(r)
		if err != nil {
			return Response{}, err
		}
		info.SetSubject(claims.SubjectID)
		req.Identity = &claims
	}
	return endpoint.Handle(r.Context(), req)
}

func (d *Dispatcher) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	if appErr.Internal() {
		logger := logging.LoggerFromContext(r.Context())
		if logger == nil {
			logger = d.logger
		}
		logging.WithContext(r.Context(), logger).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"kind", appErr.Kind.String(),
			"status", appErr.Status(),
			"error", appErr.Err,
		)
	}
	WriteError(w, appErr.Status(), appErr.Message)
}
