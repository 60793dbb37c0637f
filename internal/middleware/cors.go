// Package middleware provides HTTP middleware for the widget API.
package middleware

import (
	"net/http"
	"slices"

	"github.com/go-chi/cors"
)

const corsMaxAge = 300

// CORS returns middleware that handles CORS headers for the widget API.
// Credentials (the visitor cookie) are only allowed for explicit origins;
// a wildcard origin list never gets Allow-Credentials.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: !slices.Contains(allowedOrigins, "*"),
		MaxAge:           corsMaxAge,
	})
}
