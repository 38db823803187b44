package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncListCacheHit()                           {}
func (n *NoopRecorder) IncListCacheMiss()                          {}
func (n *NoopRecorder) ObserveListDuration(duration time.Duration) {}

func (n *NoopRecorder) IncBoxCreated()                               {}
func (n *NoopRecorder) IncUploadFailed(reason string)                {}
func (n *NoopRecorder) ObserveUploadDuration(duration time.Duration) {}
func (n *NoopRecorder) ObserveUploadBytes(bytes int64)               {}

func (n *NoopRecorder) IncDownloadEventPublished(status string) {}
func (n *NoopRecorder) IncDownloadEventProcessed(status string) {}
func (n *NoopRecorder) ObserveDownloadBatchSize(size int)       {}
func (n *NoopRecorder) SetDownloadQueueDepth(depth int64)       {}
