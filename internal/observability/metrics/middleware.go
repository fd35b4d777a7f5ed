package metrics

import (
	"bufio"
	"net"
	"net/http"
	"time"
)

// ResponseRecorder wraps an http.ResponseWriter to capture the final status
// code while preserving optional interfaces like Hijacker and Flusher.
type ResponseRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

// NewResponseRecorder constructs a ResponseRecorder defaulting the status code
// to 200 OK when WriteHeader is not invoked by the handler.
func NewResponseRecorder(w http.ResponseWriter) *ResponseRecorder {
	return &ResponseRecorder{ResponseWriter: w, status: http.StatusOK}
}

// Status exposes the status code written to the response.
func (rr *ResponseRecorder) Status() int {
	return rr.status
}

func (rr *ResponseRecorder) WriteHeader(status int) {
	if !rr.wroteHeader {
		rr.status = status
		rr.wroteHeader = true
	}
	rr.ResponseWriter.WriteHeader(status)
}

func (rr *ResponseRecorder) Write(b []byte) (int, error) {
	rr.wroteHeader = true
	return rr.ResponseWriter.Write(b)
}

// Flush flushes the response when supported by the underlying writer.
func (rr *ResponseRecorder) Flush() {
	if flusher, ok := rr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack preserves HTTP/1.1 connection hijacking when available.
func (rr *ResponseRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rr.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rr *ResponseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}

// RouteFunc names the route that served r. It runs after the handler
// returns, so it may read state the handler recorded.
type RouteFunc func(r *http.Request) string

// HTTPMiddleware records request metrics around next, labelled by route. A
// nil recorder means Default and a nil route func labels every request
// "unmatched". The scrape endpoint itself is not counted.
func HTTPMiddleware(recorder *Recorder, route RouteFunc, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorder
		if rec == nil {
			rec = Default()
		}
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}
		rec.httpInFlight.Inc()
		defer rec.httpInFlight.Dec()

		rr := NewResponseRecorder(w)
		start := time.Now()
		next.ServeHTTP(rr, r)
		label := ""
		if route != nil {
			label = route(r)
		}
		rec.ObserveRequest(r.Method, label, rr.Status(), time.Since(start))
	})
}
