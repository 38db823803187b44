package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	ListCacheHits       uint64
	ListCacheMisses     uint64
	ListDurationCount   uint64
	ListDurationTotalNs int64

	BoxesCreated          uint64
	UploadsFailed         map[string]uint64
	UploadDurationCount   uint64
	UploadDurationTotalNs int64
	UploadBytesTotal      int64

	DownloadEventsPublished    uint64
	DownloadEventsDropped      uint64
	DownloadEventsProcessed    uint64
	DownloadEventsFailed       uint64
	DownloadEventsDeadLettered uint64
	DownloadBatchCount         uint64
	DownloadBatchEventsTotal   uint64
	DownloadQueueDepth         int64
}

// InMemoryRecorder stores metrics in memory. It backs the /metrics endpoint and tests.
type InMemoryRecorder struct {
	listCacheHits       atomic.Uint64
	listCacheMisses     atomic.Uint64
	listDurationCount   atomic.Uint64
	listDurationTotalNs atomic.Int64

	boxesCreated          atomic.Uint64
	uploadsFailedStorage  atomic.Uint64
	uploadsFailedDatabase atomic.Uint64
	uploadsFailedOther    atomic.Uint64
	uploadDurationCount   atomic.Uint64
	uploadDurationTotalNs atomic.Int64
	uploadBytesTotal      atomic.Int64

	downloadPublished    atomic.Uint64
	downloadDropped      atomic.Uint64
	downloadProcessed    atomic.Uint64
	downloadFailed       atomic.Uint64
	downloadDeadLettered atomic.Uint64
	downloadBatchCount   atomic.Uint64
	downloadBatchEvents  atomic.Uint64
	downloadQueueDepth   atomic.Int64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		ListCacheHits:       m.listCacheHits.Load(),
		ListCacheMisses:     m.listCacheMisses.Load(),
		ListDurationCount:   m.listDurationCount.Load(),
		ListDurationTotalNs: m.listDurationTotalNs.Load(),

		BoxesCreated: m.boxesCreated.Load(),
		UploadsFailed: map[string]uint64{
			"storage":  m.uploadsFailedStorage.Load(),
			"database": m.uploadsFailedDatabase.Load(),
			"other":    m.uploadsFailedOther.Load(),
		},
		UploadDurationCount:   m.uploadDurationCount.Load(),
		UploadDurationTotalNs: m.uploadDurationTotalNs.Load(),
		UploadBytesTotal:      m.uploadBytesTotal.Load(),

		DownloadEventsPublished:    m.downloadPublished.Load(),
		DownloadEventsDropped:      m.downloadDropped.Load(),
		DownloadEventsProcessed:    m.downloadProcessed.Load(),
		DownloadEventsFailed:       m.downloadFailed.Load(),
		DownloadEventsDeadLettered: m.downloadDeadLettered.Load(),
		DownloadBatchCount:         m.downloadBatchCount.Load(),
		DownloadBatchEventsTotal:   m.downloadBatchEvents.Load(),
		DownloadQueueDepth:         m.downloadQueueDepth.Load(),
	}
}

// IncListCacheHit increments the list cache hit counter.
func (m *InMemoryRecorder) IncListCacheHit() {
	m.listCacheHits.Add(1)
}

// IncListCacheMiss increments the list cache miss counter.
func (m *InMemoryRecorder) IncListCacheMiss() {
	m.listCacheMisses.Add(1)
}

// ObserveListDuration records how long a search took.
func (m *InMemoryRecorder) ObserveListDuration(duration time.Duration) {
	m.listDurationCount.Add(1)
	m.listDurationTotalNs.Add(duration.Nanoseconds())
}

// IncBoxCreated increments the created boxes counter.
func (m *InMemoryRecorder) IncBoxCreated() {
	m.boxesCreated.Add(1)
}

// IncUploadFailed increments the failed upload counter for reason.
func (m *InMemoryRecorder) IncUploadFailed(reason string) {
	switch reason {
	case "storage":
		m.uploadsFailedStorage.Add(1)
	case "database":
		m.uploadsFailedDatabase.Add(1)
	default:
		m.uploadsFailedOther.Add(1)
	}
}

// ObserveUploadDuration records upload duration.
func (m *InMemoryRecorder) ObserveUploadDuration(duration time.Duration) {
	m.uploadDurationCount.Add(1)
	m.uploadDurationTotalNs.Add(duration.Nanoseconds())
}

// ObserveUploadBytes adds to the total of persisted attachment bytes.
func (m *InMemoryRecorder) ObserveUploadBytes(bytes int64) {
	m.uploadBytesTotal.Add(bytes)
}

// IncDownloadEventPublished counts publish outcomes.
func (m *InMemoryRecorder) IncDownloadEventPublished(status string) {
	if status == "success" {
		m.downloadPublished.Add(1)
		return
	}
	m.downloadDropped.Add(1)
}

// IncDownloadEventProcessed counts worker outcomes.
func (m *InMemoryRecorder) IncDownloadEventProcessed(status string) {
	switch status {
	case "success":
		m.downloadProcessed.Add(1)
	case "dead_lettered":
		m.downloadDeadLettered.Add(1)
	default:
		m.downloadFailed.Add(1)
	}
}

// ObserveDownloadBatchSize records a processed batch.
func (m *InMemoryRecorder) ObserveDownloadBatchSize(size int) {
	m.downloadBatchCount.Add(1)
	m.downloadBatchEvents.Add(uint64(size))
}

// SetDownloadQueueDepth stores the latest pending+lag reading.
func (m *InMemoryRecorder) SetDownloadQueueDepth(depth int64) {
	m.downloadQueueDepth.Store(depth)
}
