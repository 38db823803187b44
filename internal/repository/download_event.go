package repository

import (
	"context"
	"fmt"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/lib/pq"
)

// DownloadEventRepository provides database access for download events.
type DownloadEventRepository struct {
	repo *Repository
}

// NewDownloadEventRepository creates a new DownloadEventRepository.
func NewDownloadEventRepository(repo *Repository) *DownloadEventRepository {
	return &DownloadEventRepository{repo: repo}
}

// Ingest records a batch of download events and folds them into box_items.download_count.
// Events are keyed by event_id, so a redelivered batch is counted once.
// Events for items that no longer exist are dropped. Returns the number of newly recorded events.
func (r *DownloadEventRepository) Ingest(ctx context.Context, events []*model.DownloadEvent) (int64, error) {
	if len(events) == 0 {
		return 0, nil
	}

	n := len(events)
	ids := make([]string, n)
	eventIDs := make([]string, n)
	boxIDs := make([]int64, n)
	itemIDs := make([]int64, n)
	visitors := make([]string, n)
	millis := make([]int64, n)

	for i, e := range events {
		ids[i] = e.ID
		eventIDs[i] = e.EventID
		boxIDs[i] = e.BoxID
		itemIDs[i] = e.ItemID
		visitors[i] = e.VisitorHash
		millis[i] = e.DownloadedAt.UnixMilli()
	}

	query := `
		WITH input AS (
			SELECT *
			FROM unnest($1::text[], $2::text[], $3::bigint[], $4::bigint[], $5::text[], $6::bigint[])
				AS u(id, event_id, box_id, item_id, visitor_hash, ms)
		), inserted AS (
			INSERT INTO download_events (id, event_id, box_id, item_id, visitor_hash, downloaded_at)
			SELECT src.id, src.event_id, src.box_id, src.item_id, src.visitor_hash, to_timestamp(src.ms / 1000.0)
			FROM input src
			JOIN box_items bi ON bi.id = src.item_id
			ON CONFLICT (event_id) DO NOTHING
			RETURNING item_id
		), counts AS (
			SELECT item_id, COUNT(*) AS n
			FROM inserted
			GROUP BY item_id
		), bumped AS (
			UPDATE box_items b
			SET download_count = b.download_count + c.n
			FROM counts c
			WHERE b.id = c.item_id
			RETURNING b.id
		)
		SELECT COALESCE(SUM(n), 0)::bigint FROM counts
	`

	var recorded int64
	err := r.repo.pool.QueryRow(ctx, query,
		pq.Array(ids),
		pq.Array(eventIDs),
		pq.Array(boxIDs),
		pq.Array(itemIDs),
		pq.Array(visitors),
		pq.Array(millis),
	).Scan(&recorded)
	if err != nil {
		return 0, fmt.Errorf("ingest download events: %w", err)
	}

	return recorded, nil
}

// CountForItem returns how many download events are stored for an item.
func (r *DownloadEventRepository) CountForItem(ctx context.Context, itemID int64) (int64, error) {
	var count int64
	err := r.repo.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM download_events WHERE item_id = $1`, itemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count download events: %w", err)
	}
	return count, nil
}
