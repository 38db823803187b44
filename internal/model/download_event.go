package model

import "time"

// DownloadEvent represents a single attachment download persisted for analytics.
type DownloadEvent struct {
	ID           string    `json:"id"`
	EventID      string    `json:"event_id"` // Redis stream ID, idempotency key
	BoxID        int64     `json:"box_id"`
	ItemID       int64     `json:"item_id"`
	VisitorHash  string    `json:"visitor_hash"`
	DownloadedAt time.Time `json:"downloaded_at"`
}
