package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

// Common errors for box repository operations.
var (
	ErrBoxNotFound      = errors.New("box not found")
	ErrItemNotFound     = errors.New("box item not found")
	ErrDuplicateStorage = errors.New("storage key already in use")
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern turns a keyword into a substring ILIKE pattern with wildcards escaped.
func likePattern(keyword string) string {
	return "%" + likeEscaper.Replace(keyword) + "%"
}

// CreateBoxWithItems inserts a box and all of its items in one transaction.
// On success box.ID, box.CreatedAt and every item's ID, BoxID and CreatedAt are set.
func (r *Repository) CreateBoxWithItems(ctx context.Context, box *model.Box) error {
	_, err := withTx(ctx, r.pool, func(tx pgx.Tx) (struct{}, error) {
		err := tx.QueryRow(ctx, `
			INSERT INTO boxes (name, type, description, uploader)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at
		`, box.Name, box.Type, box.Description, box.Uploader).Scan(&box.ID, &box.CreatedAt)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to insert box: %w", err)
		}

		if len(box.Items) == 0 {
			return struct{}{}, nil
		}

		if err := insertItems(ctx, tx, box); err != nil {
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	return err
}

func insertItems(ctx context.Context, tx pgx.Tx, box *model.Box) error {
	n := len(box.Items)
	positions := make([]int64, n)
	names := make([]string, n)
	types := make([]string, n)
	sizes := make([]int64, n)
	checksums := make([]string, n)
	pages := make([]sql.NullInt64, n)
	keys := make([]string, n)

	byPosition := make(map[int]*model.BoxItem, n)
	for i, item := range box.Items {
		positions[i] = int64(item.Position)
		names[i] = item.FileName
		types[i] = item.ContentType
		sizes[i] = item.SizeBytes
		checksums[i] = item.Checksum
		if item.PageCount != nil {
			pages[i] = sql.NullInt64{Int64: int64(*item.PageCount), Valid: true}
		}
		keys[i] = item.StorageKey
		byPosition[item.Position] = item
	}

	rows, err := tx.Query(ctx, `
		INSERT INTO box_items (box_id, position, file_name, content_type, size_bytes, checksum, page_count, storage_key)
		SELECT $1, u.position, u.file_name, u.content_type, u.size_bytes, u.checksum, u.page_count, u.storage_key
		FROM unnest($2::int[], $3::text[], $4::text[], $5::bigint[], $6::text[], $7::int[], $8::text[])
			AS u(position, file_name, content_type, size_bytes, checksum, page_count, storage_key)
		RETURNING id, position, created_at
	`,
		box.ID,
		pq.Array(positions),
		pq.Array(names),
		pq.Array(types),
		pq.Array(sizes),
		pq.Array(checksums),
		pq.Array(pages),
		pq.Array(keys),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStorage
		}
		return fmt.Errorf("failed to insert box items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        int64
			position  int
			createdAt time.Time
		)
		if err := rows.Scan(&id, &position, &createdAt); err != nil {
			return fmt.Errorf("failed to scan box item: %w", err)
		}
		if target, ok := byPosition[position]; ok {
			target.ID = id
			target.BoxID = box.ID
			target.CreatedAt = createdAt
		}
	}
	if err := rows.Err(); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateStorage
		}
		return fmt.Errorf("failed to insert box items: %w", err)
	}
	return nil
}

// SearchBoxes returns one page of box summaries ordered by id descending.
// cursor is the last id seen on the previous page, 0 for the first page.
// The returned next cursor is 0 when no further page exists.
func (r *Repository) SearchBoxes(ctx context.Context, filter model.BoxFilter, cursor int64, limit int) ([]*model.BoxSummary, int64, error) {
	query := `
		SELECT b.id, b.name, b.type, b.description, b.uploader, b.created_at,
		       COUNT(i.id), COALESCE(SUM(i.size_bytes), 0),
		       COALESCE(MIN(i.file_name) FILTER (WHERE i.position = 0), '')
		FROM boxes b
		LEFT JOIN box_items i ON i.box_id = b.id
		WHERE TRUE
	`
	args := []any{}
	argIndex := 1

	if cursor > 0 {
		query += fmt.Sprintf(" AND b.id < $%d", argIndex)
		args = append(args, cursor)
		argIndex++
	}

	if filter.Keyword != "" {
		query += fmt.Sprintf(` AND (b.name ILIKE $%d ESCAPE '\' OR b.description ILIKE $%d ESCAPE '\')`, argIndex, argIndex)
		args = append(args, likePattern(filter.Keyword))
		argIndex++
	}

	if filter.Type != "" {
		query += fmt.Sprintf(" AND b.type = $%d", argIndex)
		args = append(args, filter.Type)
		argIndex++
	}

	query += fmt.Sprintf(" GROUP BY b.id ORDER BY b.id DESC LIMIT $%d", argIndex)
	args = append(args, limit+1) // Fetch one extra to determine hasMore

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to search boxes: %w", err)
	}
	defer rows.Close()

	summaries := make([]*model.BoxSummary, 0, limit)
	for rows.Next() {
		var s model.BoxSummary
		if err := rows.Scan(
			&s.ID,
			&s.Name,
			&s.Type,
			&s.Description,
			&s.Uploader,
			&s.CreatedAt,
			&s.ItemCount,
			&s.TotalSize,
			&s.Thumbnail,
		); err != nil {
			return nil, 0, fmt.Errorf("failed to scan box summary: %w", err)
		}
		summaries = append(summaries, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating boxes: %w", err)
	}

	var next int64
	if len(summaries) > limit {
		summaries = summaries[:limit]
		next = summaries[len(summaries)-1].ID
	}

	return summaries, next, nil
}

// GetBox retrieves a box with its items in position order.
func (r *Repository) GetBox(ctx context.Context, id int64) (*model.Box, error) {
	var box model.Box
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, type, description, uploader, created_at
		FROM boxes
		WHERE id = $1
	`, id).Scan(&box.ID, &box.Name, &box.Type, &box.Description, &box.Uploader, &box.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBoxNotFound
		}
		return nil, fmt.Errorf("failed to get box: %w", err)
	}

	rows, err := r.pool.Query(ctx, itemColumns+`
		FROM box_items
		WHERE box_id = $1
		ORDER BY position
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list box items: %w", err)
	}
	defer rows.Close()

	box.Items = make([]*model.BoxItem, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan box item: %w", err)
		}
		box.Items = append(box.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating box items: %w", err)
	}

	return &box, nil
}

// GetItem retrieves a single item belonging to boxID.
func (r *Repository) GetItem(ctx context.Context, boxID, itemID int64) (*model.BoxItem, error) {
	item, err := scanItem(r.pool.QueryRow(ctx, itemColumns+`
		FROM box_items
		WHERE box_id = $1 AND id = $2
	`, boxID, itemID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to get box item: %w", err)
	}
	return item, nil
}

const itemColumns = `
	SELECT id, box_id, position, file_name, content_type, size_bytes, checksum,
	       page_count, download_count, storage_key, created_at`

func scanItem(row pgx.Row) (*model.BoxItem, error) {
	var (
		item  model.BoxItem
		pages *int32
	)
	err := row.Scan(
		&item.ID,
		&item.BoxID,
		&item.Position,
		&item.FileName,
		&item.ContentType,
		&item.SizeBytes,
		&item.Checksum,
		&pages,
		&item.DownloadCount,
		&item.StorageKey,
		&item.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if pages != nil {
		n := int(*pages)
		item.PageCount = &n
	}
	return &item, nil
}
