// Package api implements the HTTP server (Gin-based) of the escalation
// service: provider callbacks and the read API are mounted by controllers,
// the server itself adds health, metrics and version endpoints.
package api
