// Package identity provides the anonymous per-browser visitor identity that
// scopes widget sessions.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"time"
)

const (
	VisitorCookieName = "hh_visitor_id"
	visitorCookieAge  = 30 * 24 * time.Hour
)

type contextKey int

const visitorIDKey contextKey = iota

var visitorIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

// VisitorIDFromContext extracts the visitor ID from the request context.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// WithVisitorID returns a context carrying visitorID.
func WithVisitorID(ctx context.Context, visitorID string) context.Context {
	return context.WithValue(ctx, visitorIDKey, visitorID)
}

func generateVisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

// IsValidVisitorID reports whether id has the shape of an issued visitor ID.
func IsValidVisitorID(id string) bool {
	return visitorIDPattern.MatchString(id)
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(VisitorCookieName); err == nil && IsValidVisitorID(c.Value) {
		id = c.Value
	} else {
		if id, err = generateVisitorID(); err != nil {
			return "", err
		}
	}

	// Refresh on every request so active visitors keep their sessions.
	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieAge.Seconds()),
		Expires:  time.Now().Add(visitorCookieAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware injects the anonymous visitor identity, issuing a cookie when the
// request has none.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			visitorID, err := getOrCreateVisitorID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish visitor identity"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithVisitorID(r.Context(), visitorID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
