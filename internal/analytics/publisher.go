// Package analytics captures attachment downloads and folds them into per-item counts.
package analytics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
)

const (
	// StreamKey is the Redis stream for download events.
	StreamKey = "stream:download_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:download_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// DownloadEventPayload is the compact event format stored in the stream.
type DownloadEventPayload struct {
	BoxID        int64  `json:"bid"`
	ItemID       int64  `json:"iid"`
	VisitorHash  string `json:"vh"`
	DownloadedAt int64  `json:"t"` // Unix milliseconds
}

// NewDownloadEvent builds the payload for a download that happened at downloadedAt.
func NewDownloadEvent(boxID, itemID int64, ip, userAgent string, downloadedAt time.Time) DownloadEventPayload {
	return DownloadEventPayload{
		BoxID:        boxID,
		ItemID:       itemID,
		VisitorHash:  GenerateVisitorHash(ip, userAgent, downloadedAt),
		DownloadedAt: downloadedAt.UnixMilli(),
	}
}

// Publisher enqueues download events to a Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new download event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "analytics.publisher"),
		metrics: recorder,
	}
}

// Publish adds a download event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event DownloadEventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]any{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged and counted, never returned.
func (p *Publisher) PublishAsync(event DownloadEventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish download event",
				"box_id", event.BoxID,
				"item_id", event.ItemID,
				"error", err,
			)
			p.metrics.IncDownloadEventPublished("dropped")
			return
		}

		p.logger.Debug("download event published",
			"item_id", event.ItemID,
			"stream_id", streamID,
		)
		p.metrics.IncDownloadEventPublished("success")
	}()
}

// GenerateVisitorHash creates a privacy-safe visitor identifier.
// Uses SHA256(IP + UserAgent + daily_salt) truncated to 16 hex chars.
func GenerateVisitorHash(ip, userAgent string, at time.Time) string {
	// Daily salt rotates at midnight UTC
	dailySalt := fmt.Sprintf("hanbat-box:%s", at.UTC().Format("2006-01-02"))

	hash := sha256.Sum256([]byte(ip + userAgent + dailySalt))
	return hex.EncodeToString(hash[:])[:16]
}
