// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Recorder captures metric events for the application.
// Implementations can expose these to Prometheus, StatsD, etc.
type Recorder interface {
	// Listing metrics
	IncListCacheHit()
	IncListCacheMiss()
	ObserveListDuration(duration time.Duration)

	// Upload metrics
	IncBoxCreated()
	IncUploadFailed(reason string) // reason: "storage", "database", "validation"
	ObserveUploadDuration(duration time.Duration)
	ObserveUploadBytes(bytes int64)

	// Download analytics pipeline metrics
	IncDownloadEventPublished(status string) // status: "success" or "dropped"
	IncDownloadEventProcessed(status string) // status: "success", "failed", "dead_lettered"
	ObserveDownloadBatchSize(size int)
	SetDownloadQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
