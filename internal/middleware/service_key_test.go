package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestServiceKeyMiddleware(t *testing.T) {
	m := NewServiceKeyMiddleware(ServiceKeyHeader, "edge-key", "rotated-key")
	handler := m.Wrap(okHandler())

	tests := []struct {
		name       string
		header     string
		value      string
		wantStatus int
	}{
		{"missing header", "", "", http.StatusUnauthorized},
		{"wrong key", ServiceKeyHeader, "guess", http.StatusUnauthorized},
		{"case sensitive", ServiceKeyHeader, "EDGE-KEY", http.StatusUnauthorized},
		{"prefix of key", ServiceKeyHeader, "edge", http.StatusUnauthorized},
		{"valid key", ServiceKeyHeader, "edge-key", http.StatusOK},
		{"second key", ServiceKeyHeader, "rotated-key", http.StatusOK},
		{"key in other header", ProviderSecretHeader, "edge-key", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/detections", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
				t.Error("expected JSON error body")
			}
		})
	}
}

func TestServiceKeyMiddleware_DisabledWithoutKeys(t *testing.T) {
	m := NewServiceKeyMiddleware(ProviderSecretHeader, "", "  ")
	if m.IsEnabled() {
		t.Fatal("blank keys must not enable the check")
	}

	rec := httptest.NewRecorder()
	m.WrapFunc(okHandler().ServeHTTP).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/stations", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
