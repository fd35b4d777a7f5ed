// Package server hosts the shelfshare API from a single HTTP server.
//
// Every request passes through the same middleware chain: request ID
// assignment, request logging, Prometheus metrics and security headers.
// Health and metrics endpoints are answered directly, everything else is
// handed to the API dispatcher.
package server
