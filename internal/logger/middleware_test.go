package logger

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMiddlewareGeneratesRequestID(t *testing.T) {
	handler := Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetRequestID(r.Context()) == "" {
			t.Error("Expected request ID on the context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/operators/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	id := w.Header().Get("X-Request-ID")
	if id == "" {
		t.Fatal("Expected X-Request-ID response header")
	}
	if !strings.HasPrefix(id, "req_") {
		t.Errorf("Expected generated ID with req_ prefix, got %q", id)
	}
}

func TestMiddlewareEchoesClientRequestID(t *testing.T) {
	handler := Middleware(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/operators/me", nil)
	req.Header.Set("X-Request-ID", "req_client_supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req_client_supplied" {
		t.Errorf("Expected client request ID echoed back, got %q", got)
	}
}

func TestMiddlewareLogsCompletionWithStatus(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf)

	handler := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest("GET", "/operators/me/refunds", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	out := buf.String()
	if !strings.Contains(out, "request.started") {
		t.Error("Expected request.started log line")
	}
	if !strings.Contains(out, "request.completed") {
		t.Error("Expected request.completed log line")
	}
	if !strings.Contains(out, `"status":404`) {
		t.Errorf("Expected completion log to carry status 404, got %s", out)
	}
}

func TestGetRemoteAddr(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(*http.Request)
		expected string
	}{
		{
			name: "X-Forwarded-For single hop",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.9")
			},
			expected: "203.0.113.9",
		},
		{
			name: "X-Forwarded-For chain keeps first hop",
			setup: func(r *http.Request) {
				r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2, 10.0.0.3")
			},
			expected: "203.0.113.9",
		},
		{
			name: "X-Real-IP",
			setup: func(r *http.Request) {
				r.Header.Set("X-Real-IP", "198.51.100.4")
			},
			expected: "198.51.100.4",
		},
		{
			name:     "RemoteAddr fallback",
			setup:    func(r *http.Request) {},
			expected: "192.0.2.1:1234",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			tt.setup(req)

			if got := getRemoteAddr(req); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
