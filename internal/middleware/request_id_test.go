package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		header   string
		wantSame bool
	}{
		{"generated when absent", "", false},
		{"reused when valid", "req-abc-123", true},
		{"replaced when too long", strings.Repeat("a", maxIDLength+1), false},
		{"replaced when it has spaces", "req 1", false},
		{"replaced when it has newlines", "req\n1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var seen string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/boxes", nil)
			if tt.header != "" {
				req.Header.Set(RequestIDHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get(RequestIDHeader); got != seen {
				t.Errorf("response header %q differs from context id %q", got, seen)
			}
			if tt.wantSame {
				if seen != tt.header {
					t.Errorf("request id = %q, want %q", seen, tt.header)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Errorf("generated id %q is not a UUID: %v", seen, err)
			}
		})
	}
}

func TestRequestID_TraceID(t *testing.T) {
	t.Parallel()

	var trace string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trace = GetTraceID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(TraceIDHeader, "trace-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if trace != "trace-1" || rec.Header().Get(TraceIDHeader) != "trace-1" {
		t.Errorf("trace id = %q, header = %q", trace, rec.Header().Get(TraceIDHeader))
	}
}
