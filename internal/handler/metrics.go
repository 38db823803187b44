package handler

import (
	"fmt"
	"io"
	"net/http"
	"sort"

	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
//
// GET /metrics
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "hanbat_box_list_cache_hits_total %d\n", snap.ListCacheHits)
	writeMetric(w, "hanbat_box_list_cache_misses_total %d\n", snap.ListCacheMisses)
	writeMetric(w, "hanbat_box_list_duration_seconds_count %d\n", snap.ListDurationCount)
	writeMetric(w, "hanbat_box_list_duration_seconds_sum %.6f\n", float64(snap.ListDurationTotalNs)/1e9)

	writeMetric(w, "hanbat_box_boxes_created_total %d\n", snap.BoxesCreated)
	reasons := make([]string, 0, len(snap.UploadsFailed))
	for reason := range snap.UploadsFailed {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		writeMetric(w, "hanbat_box_uploads_failed_total{reason=%q} %d\n", reason, snap.UploadsFailed[reason])
	}
	writeMetric(w, "hanbat_box_upload_duration_seconds_count %d\n", snap.UploadDurationCount)
	writeMetric(w, "hanbat_box_upload_duration_seconds_sum %.6f\n", float64(snap.UploadDurationTotalNs)/1e9)
	writeMetric(w, "hanbat_box_upload_bytes_total %d\n", snap.UploadBytesTotal)

	writeMetric(w, "hanbat_box_download_events_published_total{status=\"success\"} %d\n", snap.DownloadEventsPublished)
	writeMetric(w, "hanbat_box_download_events_published_total{status=\"dropped\"} %d\n", snap.DownloadEventsDropped)

	writeMetric(w, "hanbat_box_download_events_processed_total{status=\"success\"} %d\n", snap.DownloadEventsProcessed)
	writeMetric(w, "hanbat_box_download_events_processed_total{status=\"failed\"} %d\n", snap.DownloadEventsFailed)
	writeMetric(w, "hanbat_box_download_events_processed_total{status=\"dead_lettered\"} %d\n", snap.DownloadEventsDeadLettered)

	writeMetric(w, "hanbat_box_download_batches_total %d\n", snap.DownloadBatchCount)
	writeMetric(w, "hanbat_box_download_batch_events_total %d\n", snap.DownloadBatchEventsTotal)
	writeMetric(w, "hanbat_box_download_queue_depth %d\n", snap.DownloadQueueDepth)
}

func writeMetric(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
