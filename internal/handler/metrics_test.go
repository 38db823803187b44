package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
)

func TestMetricsHandler_Exposition(t *testing.T) {
	t.Parallel()

	recorder := metrics.NewInMemory()
	recorder.IncListCacheHit()
	recorder.IncBoxCreated()
	recorder.IncUploadFailed("storage")
	recorder.ObserveUploadDuration(1500 * time.Millisecond)
	recorder.IncDownloadEventPublished("dropped")
	recorder.SetDownloadQueueDepth(7)

	rec := httptest.NewRecorder()
	NewMetricsHandler(recorder).Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected Content-Type %q", ct)
	}

	body := rec.Body.String()
	for _, line := range []string{
		"hanbat_box_list_cache_hits_total 1",
		"hanbat_box_boxes_created_total 1",
		`hanbat_box_uploads_failed_total{reason="storage"} 1`,
		"hanbat_box_upload_duration_seconds_sum 1.500000",
		`hanbat_box_download_events_published_total{status="dropped"} 1`,
		"hanbat_box_download_queue_depth 7",
	} {
		if !strings.Contains(body, line+"\n") {
			t.Errorf("metrics output missing %q", line)
		}
	}
}

func TestMetricsHandler_NoSnapshotter(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewMetricsHandler(nil).Metrics(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", rec.Code)
	}
}
