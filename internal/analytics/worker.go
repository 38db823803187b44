package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
	"github.com/galaxy4276/HANBAT-BOX/internal/model"
)

// ConsumerGroup is the Redis consumer group that folds download events into box_items.
const ConsumerGroup = "download_workers"

const (
	defaultBatchSize    = 500
	defaultBlockTimeout = 5 * time.Second
	defaultRetryBase    = time.Second
	defaultClaimIdle    = 30 * time.Second

	maxAttempts     = 3
	claimEvery      = 10 * time.Second
	queueDepthEvery = 5 * time.Second
	deadLetterCap   = 10000
)

// Dead-letter reasons, also used as the DLQ "reason" field.
const (
	reasonInvalidFormat = "invalid_format"
	reasonUnmarshal     = "unmarshal_error"
	reasonValidation    = "validation_error"
)

// WorkerConfig tunes the download worker. Zero values use the defaults.
type WorkerConfig struct {
	BatchSize    int
	BlockTimeout time.Duration
	RetryBase    time.Duration
	ClaimIdle    time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = defaultBlockTimeout
	}
	if c.RetryBase <= 0 {
		c.RetryBase = defaultRetryBase
	}
	if c.ClaimIdle <= 0 {
		c.ClaimIdle = defaultClaimIdle
	}
	return c
}

// Repository persists download events.
type Repository interface {
	Ingest(ctx context.Context, events []*model.DownloadEvent) (int64, error)
}

// Worker reads download events from the stream and records them.
// Messages stay pending until their batch is ingested, so a crash replays them
// and Ingest deduplicates by stream id.
type Worker struct {
	redis      *redis.Client
	repo       Repository
	logger     *slog.Logger
	metrics    metrics.Recorder
	consumerID string
	cfg        WorkerConfig

	claimCursor   string
	nextClaim     time.Time
	nextDepthRead time.Time

	mu      sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

// NewWorker creates a download event worker for one consumer in ConsumerGroup.
func NewWorker(client *redis.Client, repo Repository, logger *slog.Logger, consumerID string, cfg WorkerConfig, recorder metrics.Recorder) *Worker {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Worker{
		redis:       client,
		repo:        repo,
		logger:      logger.With("component", "analytics.worker", "consumer_id", consumerID),
		metrics:     recorder,
		consumerID:  consumerID,
		cfg:         cfg.withDefaults(),
		claimCursor: "0-0",
	}
}

// Run consumes the stream until ctx is cancelled or Shutdown is called.
func (w *Worker) Run(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("worker already started")
	}
	w.running = true
	ctx, w.stop = context.WithCancel(ctx)
	w.done = make(chan struct{})
	done := w.done
	w.mu.Unlock()

	defer close(done)

	err := w.redis.XGroupCreateMkStream(ctx, StreamKey, ConsumerGroup, "0").Err()
	if err != nil && !isConsumerGroupExistsError(err) {
		return fmt.Errorf("ensure consumer group: %w", err)
	}

	w.logger.Info("download worker started", "batch_size", w.cfg.BatchSize)

	for ctx.Err() == nil {
		if err := w.step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("download worker step failed", "error", err)
			sleepCtx(ctx, time.Second)
		}
	}

	w.logger.Info("download worker stopped")
	return nil
}

// Shutdown cancels Run and waits for the in-flight batch or for ctx.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	stop, done := w.stop, w.done
	w.mu.Unlock()

	if done == nil {
		return nil
	}
	stop()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		w.logger.Warn("download worker shutdown timed out")
		return ctx.Err()
	}
}

// step handles one batch: reclaimed messages first, then new ones.
func (w *Worker) step(ctx context.Context) error {
	w.refreshQueueDepth(ctx)

	messages, err := w.claimStale(ctx)
	if err != nil {
		w.logger.Warn("reclaiming pending download events failed", "error", err)
	}
	if len(messages) == 0 {
		if messages, err = w.read(ctx); err != nil {
			return err
		}
	}
	if len(messages) == 0 {
		return nil
	}

	events, ids := w.decodeBatch(ctx, messages)
	if len(events) > 0 {
		if err := w.ingest(ctx, events); err != nil {
			// Unacked messages are picked up again by XAUTOCLAIM.
			return fmt.Errorf("ingest %d download events: %w", len(events), err)
		}
	}

	if err := w.redis.XAck(ctx, StreamKey, ConsumerGroup, ids...).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	return nil
}

func (w *Worker) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := w.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		Streams:  []string{StreamKey, ">"},
		Count:    int64(w.cfg.BatchSize),
		Block:    w.cfg.BlockTimeout,
	}).Result()
	switch {
	case errors.Is(err, redis.Nil):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("xreadgroup: %w", err)
	case len(streams) == 0:
		return nil, nil
	}
	return streams[0].Messages, nil
}

// claimStale takes over messages another consumer read but never acked.
func (w *Worker) claimStale(ctx context.Context) ([]redis.XMessage, error) {
	now := time.Now()
	if now.Before(w.nextClaim) {
		return nil, nil
	}
	w.nextClaim = now.Add(claimEvery)

	messages, cursor, err := w.redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKey,
		Group:    ConsumerGroup,
		Consumer: w.consumerID,
		MinIdle:  w.cfg.ClaimIdle,
		Start:    w.claimCursor,
		Count:    int64(w.cfg.BatchSize),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	if cursor != "" {
		w.claimCursor = cursor
	}
	return messages, nil
}

func (w *Worker) refreshQueueDepth(ctx context.Context) {
	now := time.Now()
	if now.Before(w.nextDepthRead) {
		return
	}
	w.nextDepthRead = now.Add(queueDepthEvery)

	groups, err := w.redis.XInfoGroups(ctx, StreamKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			w.logger.Warn("reading download stream groups failed", "error", err)
		}
		return
	}
	for _, g := range groups {
		if g.Name == ConsumerGroup {
			w.metrics.SetDownloadQueueDepth(g.Pending + g.Lag)
			return
		}
	}
}

// decodeBatch returns the valid events and the ids of every message in the batch.
// Undecodable messages go to the dead-letter stream and are acked with the rest.
func (w *Worker) decodeBatch(ctx context.Context, messages []redis.XMessage) ([]*model.DownloadEvent, []string) {
	events := make([]*model.DownloadEvent, 0, len(messages))
	ids := make([]string, len(messages))

	for i, msg := range messages {
		ids[i] = msg.ID
		event, reason, err := decodeMessage(msg)
		if err != nil {
			w.deadLetter(ctx, msg, reason, err)
			continue
		}
		events = append(events, event)
	}
	return events, ids
}

func decodeMessage(msg redis.XMessage) (*model.DownloadEvent, string, error) {
	raw, ok := msg.Values["payload"].(string)
	if !ok {
		return nil, reasonInvalidFormat, errors.New("payload field missing or not a string")
	}

	var payload DownloadEventPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, reasonUnmarshal, err
	}
	if err := ValidateDownloadEventPayload(payload); err != nil {
		return nil, reasonValidation, err
	}

	return &model.DownloadEvent{
		ID:           ulid.Make().String(),
		EventID:      msg.ID,
		BoxID:        payload.BoxID,
		ItemID:       payload.ItemID,
		VisitorHash:  payload.VisitorHash,
		DownloadedAt: time.UnixMilli(payload.DownloadedAt).UTC(),
	}, "", nil
}

func (w *Worker) deadLetter(ctx context.Context, msg redis.XMessage, reason string, cause error) {
	w.logger.Warn("dead-lettering download event",
		"message_id", msg.ID,
		"reason", reason,
		"error", cause,
	)
	w.metrics.IncDownloadEventProcessed("dead_lettered")

	err := w.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStreamKey,
		MaxLen: deadLetterCap,
		Approx: true,
		Values: map[string]any{
			"original_id":      msg.ID,
			"original_stream":  StreamKey,
			"reason":           reason,
			"detail":           cause.Error(),
			"payload":          fmt.Sprint(msg.Values["payload"]),
			"dead_lettered_at": time.Now().UTC().Format(time.RFC3339),
		},
	}).Err()
	if err != nil {
		w.logger.Error("writing download event to dead-letter stream failed",
			"message_id", msg.ID,
			"error", err,
		)
	}
}

// ingest records a batch, retrying with exponential backoff.
func (w *Worker) ingest(ctx context.Context, events []*model.DownloadEvent) error {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		start := time.Now()
		var recorded int64
		if recorded, err = w.repo.Ingest(ctx, events); err == nil {
			w.logger.Info("download events recorded",
				"events", len(events),
				"new", recorded,
				"duration_ms", float64(time.Since(start).Microseconds())/1000,
			)
			w.metrics.ObserveDownloadBatchSize(len(events))
			for range events {
				w.metrics.IncDownloadEventProcessed("success")
			}
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		backoff := w.cfg.RetryBase << attempt
		w.logger.Warn("recording download events failed, retrying",
			"attempt", attempt,
			"backoff", backoff,
			"error", err,
		)
		if !sleepCtx(ctx, backoff) {
			return ctx.Err()
		}
	}

	for range events {
		w.metrics.IncDownloadEventProcessed("failed")
	}
	return err
}

// isConsumerGroupExistsError reports a BUSYGROUP reply.
func isConsumerGroupExistsError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}

// sleepCtx waits for d or until ctx is done. It reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
