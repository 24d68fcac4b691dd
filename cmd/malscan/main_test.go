// ABOUTME: Tests for main application functions.
// ABOUTME: Tests service creation in mock mode, health endpoint, and security middleware.

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func testConfig() *Config {
	return &Config{
		Port:           8080,
		RegistryMode:   "pypi",
		ManifestMethod: "rule_based",
		MockMode:       true,
	}
}

func testService(t *testing.T) *Service {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Minimize test output

	service, err := NewService(context.Background(), testConfig(), logger)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	t.Cleanup(func() { service.scanner.Close() })
	return service
}

func TestNewServiceMockMode(t *testing.T) {
	service := testService(t)

	if service.scanner == nil {
		t.Error("NewService() did not create a scanner")
	}
	if service.navigator == nil {
		t.Error("NewService() did not create a navigator")
	}
	if service.annotator == nil {
		t.Error("NewService() did not create an annotator")
	}
	if service.metrics == nil {
		t.Error("NewService() did not create metrics")
	}
}

func TestHealthHandler(t *testing.T) {
	service := testService(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	service.healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("healthHandler() returned status %d, want %d", w.Code, http.StatusOK)
	}

	expectedBody := `{"status":"ok"}`
	if strings.TrimSpace(w.Body.String()) != expectedBody {
		t.Errorf("healthHandler() returned body %q, want %q", w.Body.String(), expectedBody)
	}

	expectedContentType := "application/json"
	if w.Header().Get("Content-Type") != expectedContentType {
		t.Errorf("healthHandler() returned Content-Type %q, want %q", w.Header().Get("Content-Type"), expectedContentType)
	}
}

func TestSecurityMiddleware(t *testing.T) {
	service := testService(t)

	testHandler := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("test response"))
	}

	tests := []struct {
		name       string
		allowed    string
		method     string
		wantStatus int
	}{
		{"allowed POST", http.MethodPost, http.MethodPost, http.StatusOK},
		{"GET rejected on POST endpoint", http.MethodPost, http.MethodGet, http.StatusMethodNotAllowed},
		{"HEAD allowed on GET endpoint", http.MethodGet, http.MethodHead, http.StatusOK},
		{"DELETE rejected on GET endpoint", http.MethodGet, http.MethodDelete, http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := service.securityMiddleware(testHandler, tt.allowed)

			req := httptest.NewRequest(tt.method, "/test", nil)
			w := httptest.NewRecorder()
			wrapped(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("securityMiddleware() returned status %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestSecurityMiddlewareHeaders(t *testing.T) {
	service := testService(t)

	wrapped := service.securityMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, http.MethodGet)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	wrapped(w, req)

	expectedHeaders := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"X-XSS-Protection":       "1; mode=block",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for header, want := range expectedHeaders {
		if got := w.Header().Get(header); got != want {
			t.Errorf("securityMiddleware() header %s = %q, want %q", header, got, want)
		}
	}
}
