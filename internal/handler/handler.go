// Package handler provides HTTP request handlers.
package handler

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Version is reported by the root banner.
const Version = "1.0.0"

// Handler serves the root banner and the JSON fallbacks for unmatched routes.
type Handler struct{}

// New creates a new Handler instance.
func New() *Handler {
	return &Handler{}
}

// Route binds a method and chi pattern to a handler.
type Route struct {
	Method  string
	Pattern string
	Handler http.HandlerFunc
}

// Mount registers every route on r. middlewareFor, when not nil, returns
// the middleware stack wrapping a single route.
func Mount(r chi.Router, routes []Route, middlewareFor func(Route) []func(http.Handler) http.Handler) {
	for _, rt := range routes {
		if middlewareFor != nil {
			r.With(middlewareFor(rt)...).Method(rt.Method, rt.Pattern, rt.Handler)
			continue
		}
		r.Method(rt.Method, rt.Pattern, rt.Handler)
	}
}

// Hello is the service banner.
// GET /
func (h *Handler) Hello(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"message": "HANBAT-BOX API",
		"version": Version,
	}
	writeJSON(w, http.StatusOK, response)
}

// NotFound handles 404 responses.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"error": "resource not found",
	}
	writeJSON(w, http.StatusNotFound, response)
}

// MethodNotAllowed handles 405 responses.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"error": "method not allowed",
	}
	writeJSON(w, http.StatusMethodNotAllowed, response)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// clientIP returns the caller address. chi's RealIP middleware has already
// folded proxy headers into RemoteAddr by the time handlers run.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.Trim(r.RemoteAddr, "[]")
}
