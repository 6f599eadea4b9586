package api

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid heartbeat", `{"responder_id":"r-1","lat":28.61,"lng":77.2}`, ""},
		{"empty body", "", "request body is empty"},
		{"malformed", `{"responder_id" "r-1"}`, "malformed JSON"},
		{"truncated", `{"responder_id":`, "invalid JSON"},
		{"wrong type", `{"responder_id":"r-1","lat":"north"}`, "invalid value for field"},
		{"unknown field", `{"responder_id":"r-1","latitude":28.61}`, "unknown field"},
		{"oversized", `{"name":"` + strings.Repeat("x", MaxBodySize+1) + `"}`, "exceeds maximum size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var dst HeartbeatRequest
			err := DecodeJSON(newRequest(tt.body), &dst)

			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if dst.ResponderID != "r-1" || dst.Lat == nil || *dst.Lat != 28.61 {
					t.Errorf("unexpected decode: %+v", dst)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeJSON_NilBody(t *testing.T) {
	r, _ := http.NewRequest(http.MethodPost, "/api/detections", nil)

	var dst DetectionRequest
	if err := DecodeJSON(r, &dst); !errors.Is(err, ErrEmptyBody) {
		t.Errorf("error = %v, want ErrEmptyBody", err)
	}
}

func TestDecodeOptionalJSON(t *testing.T) {
	var dst CleanupRequest
	if err := DecodeOptionalJSON(newRequest(""), &dst); err != nil {
		t.Fatalf("empty body should be accepted, got %v", err)
	}
	if dst.DryRun {
		t.Error("empty body must leave defaults")
	}

	if err := DecodeOptionalJSON(newRequest(`{"dry_run":true}`), &dst); err != nil || !dst.DryRun {
		t.Errorf("expected dry_run decoded, got %+v %v", dst, err)
	}
	if err := DecodeOptionalJSON(newRequest(`{bad`), &dst); err == nil {
		t.Error("malformed body must still fail")
	}
}

func TestDecodeJSONBytes(t *testing.T) {
	var req DetectionRequest
	err := DecodeJSONBytes([]byte(`{"camera_id":"C1","confidence":0.9,"timestamp":"2026-03-14T12:00:00Z"}`), &req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.CameraID != "C1" || req.Timestamp == nil {
		t.Errorf("unexpected decode: %+v", req)
	}

	if err := DecodeJSONBytes([]byte(`{"camera":"C1"}`), &req); err == nil || !strings.Contains(err.Error(), "unknown field") {
		t.Errorf("expected unknown field error, got %v", err)
	}
}

func TestQueryFloat(t *testing.T) {
	r, _ := http.NewRequest(http.MethodGet, "/test?lat=28.6139&lng=abc", nil)

	if v, err := QueryFloat(r, "lat"); err != nil || v != 28.6139 {
		t.Errorf("lat = %v, %v", v, err)
	}
	if _, err := QueryFloat(r, "lng"); err == nil {
		t.Error("expected error for non-numeric value")
	}
	if _, err := QueryFloat(r, "missing"); err == nil {
		t.Error("expected error for missing value")
	}
	if v, err := QueryFloatOrDefault(r, "radius_km", 10); err != nil || v != 10 {
		t.Errorf("radius_km = %v, %v", v, err)
	}
}

// newRequest creates an http.Request with the given JSON body.
func newRequest(body string) *http.Request {
	r, _ := http.NewRequest(http.MethodPost, "/test", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	return r
}
