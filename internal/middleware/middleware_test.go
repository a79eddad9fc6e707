package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
)

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	rw.WriteHeader(http.StatusTeapot)
	rw.WriteHeader(http.StatusOK) // second call must be ignored

	if rw.statusCode != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected recorder 418, got %d", rec.Code)
	}
}

func TestResponseWriterCountsBytes(t *testing.T) {
	rw := newResponseWriter(httptest.NewRecorder())

	if _, err := rw.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := rw.Write([]byte(" world")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	if rw.bytesWritten != 11 {
		t.Errorf("Expected 11 bytes, got %d", rw.bytesWritten)
	}
	if rw.statusCode != http.StatusOK {
		t.Errorf("Implicit status should be 200, got %d", rw.statusCode)
	}
}

func TestSanitizeLogField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/api/search", "/api/search"},
		{"/x\ninjected", "/x injected"},
		{"/x\r\nfake-line", "/x  fake-line"},
		{"/x\x00null", "/xnull"},
		{"/x\x1b[31mred", "/x[31mred"},
	}

	for _, tt := range tests {
		if got := sanitizeLogField(tt.in); got != tt.want {
			t.Errorf("sanitizeLogField(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetricsMiddlewarePassesThrough(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics)
	r.Use(Logger)
	r.HandleFunc("/api/patients/{id}/locations", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}).Methods("GET")

	srv := httptest.NewServer(r)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/patients/P1/locations")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404 through middleware, got %d", resp.StatusCode)
	}
}

func TestRouteTemplateFallback(t *testing.T) {
	req := httptest.NewRequest("GET", "/a/b/c/d/e/f", nil)
	got := routeTemplate(req)
	if got != "/a/b/c/{path}" {
		t.Errorf("Expected truncated template, got %q", got)
	}

	req = httptest.NewRequest("GET", "/health", nil)
	if got := routeTemplate(req); got != "/health" {
		t.Errorf("Expected raw short path, got %q", got)
	}
}
