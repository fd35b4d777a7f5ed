// Package api hosts the HTTP surface of the library service.
//
// A Dispatcher owns the request lifecycle: it matches the path against the
// static route table, verifies the bearer token for endpoints that declare
// Auth, invokes the endpoint and writes a single JSON response. Endpoints
// never touch the ResponseWriter; they return a Response or an error and the
// dispatcher maps apperr kinds to statuses and the {"error": message}
// envelope.
//
// Handler groups the endpoints for users, books and catalog search and
// receives its credential store, repository, access policy and search
// provider from the caller. Endpoints() and DefaultRoutes() must stay in
// step; NewDispatcher refuses to start when they diverge.
package api
