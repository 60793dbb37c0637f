package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSExplicitOriginAllowsCredentials(t *testing.T) {
	h := CORS([]string{"https://bank.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/widget", nil)
	req.Header.Set("Origin", "https://bank.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://bank.example" {
		t.Errorf("Expected origin to be echoed, got %q", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Expected credentials to be allowed, got %q", got)
	}
}

func TestCORSRejectsUnknownOrigin(t *testing.T) {
	h := CORS([]string{"https://bank.example"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/widget", nil)
	req.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Expected no CORS headers, got origin %q", got)
	}
}

func TestCORSWildcardNeverAllowsCredentials(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("Expected preflight to be answered for wildcard origins")
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "" {
		t.Errorf("Expected no credentials header, got %q", got)
	}
}
