// Package router matches request methods and paths against a static table of
// route patterns. Patterns are slash separated and may contain `{name}`
// placeholders that bind exactly one non-empty path segment.
package router

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Route associates a method and path pattern with a handler name.
type Route struct {
	Method  string
	Pattern string
	Name    string
}

// Params holds the placeholder values bound by a match.
type Params map[string]string

// Get returns the raw value bound to name.
func (p Params) Get(name string) string {
	return p[name]
}

// ID parses the named parameter as a positive integer identifier.
func (p Params) ID(name string) (int64, bool) {
	raw, ok := p[name]
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// Match is the outcome of a successful lookup.
type Match struct {
	Route  Route
	Params Params
}

type segment struct {
	literal string
	param   string
}

type compiledRoute struct {
	route    Route
	segments []segment
}

// Table is an immutable, ordered route table. It is safe for concurrent use.
type Table struct {
	routes []compiledRoute
}

// NewTable validates and compiles routes in registration order.
func NewTable(routes ...Route) (*Table, error) {
	table := &Table{routes: make([]compiledRoute, 0, len(routes))}
	seen := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		method := strings.ToUpper(strings.TrimSpace(route.Method))
		if method == "" {
			return nil, fmt.Errorf("route %q: method required", route.Name)
		}
		if strings.TrimSpace(route.Name) == "" {
			return nil, fmt.Errorf("route %s %s: name required", method, route.Pattern)
		}
		segments, err := compilePattern(route.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", route.Name, err)
		}
		key := method + " " + normalizePath(route.Pattern)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("route %q: duplicate registration for %s", route.Name, key)
		}
		seen[key] = struct{}{}
		route.Method = method
		table.routes = append(table.routes, compiledRoute{route: route, segments: segments})
	}
	return table, nil
}

// MustNewTable is NewTable for package-level route declarations.
func MustNewTable(routes ...Route) *Table {
	table, err := NewTable(routes...)
	if err != nil {
		panic(err)
	}
	return table
}

// Routes returns a copy of the registered routes in order.
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, compiled := range t.routes {
		out[i] = compiled.route
	}
	return out
}

// Match returns the first route whose method and pattern match the request.
func (t *Table) Match(method, path string) (Match, bool) {
	parts, ok := splitPath(path)
	if !ok {
		return Match{}, false
	}
	method = strings.ToUpper(method)
	for _, compiled := range t.routes {
		if compiled.route.Method != method || len(compiled.segments) != len(parts) {
			continue
		}
		params, ok := compiled.bind(parts)
		if !ok {
			continue
		}
		return Match{Route: compiled.route, Params: params}, true
	}
	return Match{}, false
}

func (c compiledRoute) bind(parts []string) (Params, bool) {
	var params Params
	for i, seg := range c.segments {
		if seg.param == "" {
			if seg.literal != parts[i] {
				return nil, false
			}
			continue
		}
		if params == nil {
			params = make(Params)
		}
		params[seg.param] = parts[i]
	}
	if params == nil {
		params = Params{}
	}
	return params, true
}

func compilePattern(pattern string) ([]segment, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, errors.New("pattern must start with /")
	}
	parts, ok := splitPath(pattern)
	if !ok {
		return nil, fmt.Errorf("pattern %q contains an empty segment", pattern)
	}
	segments := make([]segment, 0, len(parts))
	names := make(map[string]struct{})
	for _, part := range parts {
		if strings.HasPrefix(part, "{") && strings.HasSuffix(part, "}") {
			name := strings.TrimSpace(part[1 : len(part)-1])
			if name == "" {
				return nil, fmt.Errorf("pattern %q has an unnamed placeholder", pattern)
			}
			if _, dup := names[name]; dup {
				return nil, fmt.Errorf("pattern %q binds %q twice", pattern, name)
			}
			names[name] = struct{}{}
			segments = append(segments, segment{param: name})
			continue
		}
		if strings.ContainsAny(part, "{}") {
			return nil, fmt.Errorf("pattern %q has a malformed placeholder", pattern)
		}
		segments = append(segments, segment{literal: part})
	}
	return segments, nil
}

func normalizePath(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		return "/"
	}
	return trimmed
}

// splitPath drops trailing slashes and the leading slash, then splits on "/".
// It reports false when any segment is empty. The root path has no segments.
func splitPath(path string) ([]string, bool) {
	trimmed := strings.TrimPrefix(normalizePath(path), "/")
	if trimmed == "" {
		return nil, true
	}
	parts := strings.Split(trimmed, "/")
	for _, part := range parts {
		if part == "" {
			return nil, false
		}
	}
	return parts, true
}
