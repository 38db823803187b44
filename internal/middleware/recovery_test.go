package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRecoverer(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestID(Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/boxes/1", nil)
	req.Header.Set(RequestIDHeader, "req-panic")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"code":"INTERNAL_ERROR"`) {
		t.Errorf("unexpected body %s", body)
	}

	logOutput := buf.String()
	for _, want := range []string{`"panic recovered"`, `"request_id":"req-panic"`, `"panic":"boom"`} {
		if !strings.Contains(logOutput, want) {
			t.Errorf("log output missing %s: %s", want, logOutput)
		}
	}
}

func TestRecoverer_AfterHeadersWritten(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := Recoverer(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		panic("mid-stream")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want the already written 200", rec.Code)
	}
	if rec.Body.String() != "partial" {
		t.Errorf("body = %q", rec.Body.String())
	}
}
