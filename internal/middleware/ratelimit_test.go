package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/galaxy4276/HANBAT-BOX/internal/cache"
)

type fakeLimiter struct {
	result *cache.RateLimitResult
	err    error
	gotIP  string
	calls  int
}

func (f *fakeLimiter) CheckUploadRateLimit(ctx context.Context, ip string, rps, burst int) (*cache.RateLimitResult, error) {
	f.calls++
	f.gotIP = ip
	return f.result, f.err
}

func TestRateLimitUpload(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resetAt := time.Unix(1700000000, 0)

	tests := []struct {
		name           string
		enabled        bool
		limiter        *fakeLimiter
		wantStatus     int
		wantRetryAfter string
		wantRemaining  string
	}{
		{
			name:       "disabled skips limiter",
			enabled:    false,
			limiter:    &fakeLimiter{},
			wantStatus: http.StatusOK,
		},
		{
			name:          "allowed",
			enabled:       true,
			limiter:       &fakeLimiter{result: &cache.RateLimitResult{Allowed: true, Remaining: 4, ResetAt: resetAt}},
			wantStatus:    http.StatusOK,
			wantRemaining: "4",
		},
		{
			name:    "denied",
			enabled: true,
			limiter: &fakeLimiter{result: &cache.RateLimitResult{
				Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: 1200 * time.Millisecond,
			}},
			wantStatus:     http.StatusTooManyRequests,
			wantRetryAfter: "2",
			wantRemaining:  "0",
		},
		{
			name:       "limiter error fails open",
			enabled:    true,
			limiter:    &fakeLimiter{err: errors.New("redis down")},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			mw := RateLimitUpload(RateLimitConfig{
				Logger:  logger,
				Limiter: tt.limiter,
				Enabled: tt.enabled,
				RPS:     2,
				Burst:   5,
			})
			handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/boxes/uploads", nil)
			req.RemoteAddr = "203.0.113.7:5555"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("Retry-After"); got != tt.wantRetryAfter {
				t.Errorf("Retry-After = %q, want %q", got, tt.wantRetryAfter)
			}
			if got := rec.Header().Get("X-RateLimit-Remaining"); got != tt.wantRemaining {
				t.Errorf("X-RateLimit-Remaining = %q, want %q", got, tt.wantRemaining)
			}
			if tt.enabled && tt.limiter.gotIP != "203.0.113.7" {
				t.Errorf("limiter saw ip %q", tt.limiter.gotIP)
			}
			if !tt.enabled && tt.limiter.calls != 0 {
				t.Errorf("disabled limiter called %d times", tt.limiter.calls)
			}
		})
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 1},
		{300 * time.Millisecond, 1},
		{time.Second, 1},
		{1001 * time.Millisecond, 2},
	}

	for _, tt := range tests {
		if got := retryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
