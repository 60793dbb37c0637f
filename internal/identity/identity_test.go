package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func captureVisitor(t *testing.T, req *http.Request) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = VisitorIDFromContext(r.Context())
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return got, w
}

func TestMiddlewareIssuesVisitorCookie(t *testing.T) {
	id, w := captureVisitor(t, httptest.NewRequest(http.MethodGet, "/api/widget", nil))

	if !IsValidVisitorID(id) {
		t.Fatalf("Expected a generated visitor ID, got %q", id)
	}
	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != VisitorCookieName || cookies[0].Value != id {
		t.Fatalf("Expected visitor cookie %q, got %+v", id, cookies)
	}
	if !cookies[0].HttpOnly {
		t.Error("Expected cookie to be HttpOnly")
	}
}

func TestMiddlewareKeepsExistingVisitor(t *testing.T) {
	existing := "anon_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/api/widget", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: existing})

	id, _ := captureVisitor(t, req)
	if id != existing {
		t.Errorf("Expected %q, got %q", existing, id)
	}
}

func TestMiddlewareReplacesMalformedVisitor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/widget", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "../../etc/passwd"})

	id, _ := captureVisitor(t, req)
	if id == "../../etc/passwd" || !IsValidVisitorID(id) {
		t.Errorf("Expected a fresh visitor ID, got %q", id)
	}
}

func TestVisitorIDFromEmptyContext(t *testing.T) {
	if got := VisitorIDFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()); got != "" {
		t.Errorf("Expected empty visitor ID, got %q", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:54321"
	if got := IPFromRequest(req); got != "203.0.113.7" {
		t.Errorf("Expected 203.0.113.7, got %q", got)
	}
}
