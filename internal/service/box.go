// Package service provides business logic for the application.
package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/oklog/ulid/v2"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/galaxy4276/HANBAT-BOX/internal/cache"
	"github.com/galaxy4276/HANBAT-BOX/internal/metrics"
	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/galaxy4276/HANBAT-BOX/internal/repository"
	"github.com/galaxy4276/HANBAT-BOX/internal/storage"
)

// Service errors.
var (
	ErrInvalidMetadata = errors.New("invalid box metadata")
	ErrInvalidCursor   = errors.New("invalid cursor")
	ErrBoxNotFound     = errors.New("box not found")
	ErrItemNotFound    = errors.New("box item not found")
	ErrPartialWrite    = errors.New("attachment write failed")
)

// Column limits for box metadata.
const (
	maxNameLength     = 200
	maxTypeLength     = 32
	maxUploaderLength = 64
	maxFileNameLength = 255

	cleanupTimeout = 30 * time.Second
)

// BoxStore is the persistence the box service needs.
type BoxStore interface {
	CreateBoxWithItems(ctx context.Context, box *model.Box) error
	SearchBoxes(ctx context.Context, filter model.BoxFilter, cursor int64, limit int) ([]*model.BoxSummary, int64, error)
	GetBox(ctx context.Context, id int64) (*model.Box, error)
	GetItem(ctx context.Context, boxID, itemID int64) (*model.BoxItem, error)
}

// ListCache caches listing pages.
type ListCache interface {
	GetBoxPage(ctx context.Context, filter model.BoxFilter, cursor int64, limit int) (*model.BoxPage, int64, error)
	SetBoxPage(ctx context.Context, gen int64, filter model.BoxFilter, cursor int64, limit int, page *model.BoxPage, ttl time.Duration) error
	InvalidateBoxLists(ctx context.Context) error
}

// BoxServiceConfig tunes the box service.
type BoxServiceConfig struct {
	PageSize          int
	ListCacheTTL      time.Duration
	UploadConcurrency int
}

// BoxService handles box listing, upload and retrieval.
type BoxService struct {
	store   BoxStore
	cache   ListCache
	blobs   storage.System
	cfg     BoxServiceConfig
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewBoxService creates a new BoxService. cache may be nil to disable list caching.
func NewBoxService(store BoxStore, listCache ListCache, blobs storage.System, cfg BoxServiceConfig, logger *slog.Logger, recorder metrics.Recorder) *BoxService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 20
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}
	return &BoxService{
		store:   store,
		cache:   listCache,
		blobs:   blobs,
		cfg:     cfg,
		logger:  logger.With("component", "service.box"),
		metrics: recorder,
	}
}

// SearchBoxes returns one page of summaries, newest first.
// cursor is the last id of the previous page, 0 for the first page.
// A cursor past the last box yields an empty page.
func (s *BoxService) SearchBoxes(ctx context.Context, keyword, boxType string, cursor int64) (*model.BoxPage, error) {
	if cursor < 0 {
		return nil, ErrInvalidCursor
	}

	start := time.Now()
	defer func() { s.metrics.ObserveListDuration(time.Since(start)) }()

	filter := model.BoxFilter{
		Keyword: strings.TrimSpace(keyword),
		Type:    strings.TrimSpace(boxType),
	}
	limit := s.cfg.PageSize

	// The page is only written back under the generation seen before the query.
	var (
		gen       int64
		cacheable bool
	)
	if s.cache != nil {
		page, g, err := s.cache.GetBoxPage(ctx, filter, cursor, limit)
		switch {
		case err == nil:
			s.metrics.IncListCacheHit()
			return page, nil
		case errors.Is(err, cache.ErrCacheMiss):
			gen, cacheable = g, true
		default:
			s.logger.Warn("list cache read failed", "error", err)
		}
		s.metrics.IncListCacheMiss()
	}

	items, next, err := s.store.SearchBoxes(ctx, filter, cursor, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search boxes: %w", err)
	}

	page := &model.BoxPage{Items: items, NextCursor: next}

	if cacheable && s.cfg.ListCacheTTL > 0 {
		if err := s.cache.SetBoxPage(ctx, gen, filter, cursor, limit, page, s.cfg.ListCacheTTL); err != nil {
			s.logger.Warn("list cache write failed", "error", err)
		}
	}

	return page, nil
}

// SaveBoxWithItems stores every attachment and then the box with its items.
// Either everything is persisted or nothing is: blobs written before a failure are deleted.
func (s *BoxService) SaveBoxWithItems(ctx context.Context, req model.BoxCreateRequest, files []model.Attachment) (int64, error) {
	start := time.Now()

	req, err := normalizeRequest(req)
	if err != nil {
		s.metrics.IncUploadFailed("validation")
		return 0, err
	}
	for i, f := range files {
		if f.Open == nil {
			s.metrics.IncUploadFailed("validation")
			return 0, fmt.Errorf("%w: file %d has no content", ErrInvalidMetadata, i)
		}
	}

	prefix := ulid.Make().String()
	items, keys, err := s.storeAttachments(ctx, prefix, files)
	if err != nil {
		s.deleteBlobs(ctx, keys)
		s.metrics.IncUploadFailed("storage")
		s.logger.Error("attachment write failed", "prefix", prefix, "error", err)
		return 0, fmt.Errorf("%w: %w", ErrPartialWrite, err)
	}

	box := &model.Box{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Uploader:    req.Uploader,
		Items:       items,
	}

	if err := s.store.CreateBoxWithItems(ctx, box); err != nil {
		s.deleteBlobs(ctx, keys)
		s.metrics.IncUploadFailed("database")
		return 0, fmt.Errorf("failed to save box: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.InvalidateBoxLists(ctx); err != nil {
			s.logger.Warn("list cache invalidation failed", "box_id", box.ID, "error", err)
		}
	}

	var total int64
	for _, item := range items {
		total += item.SizeBytes
	}
	s.metrics.IncBoxCreated()
	s.metrics.ObserveUploadBytes(total)
	elapsed := time.Since(start)
	s.metrics.ObserveUploadDuration(elapsed)

	s.logger.Info("box created",
		"box_id", box.ID,
		"items", len(items),
		"bytes", total,
		"duration_ms", float64(elapsed.Microseconds())/1000,
	)

	return box.ID, nil
}

// GetBox returns a box with its items.
func (s *BoxService) GetBox(ctx context.Context, id int64) (*model.Box, error) {
	if id <= 0 {
		return nil, ErrBoxNotFound
	}

	box, err := s.store.GetBox(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrBoxNotFound) {
			return nil, ErrBoxNotFound
		}
		return nil, fmt.Errorf("failed to get box: %w", err)
	}
	return box, nil
}

// OpenItem returns an item and a reader for its content. The caller must close the reader.
func (s *BoxService) OpenItem(ctx context.Context, boxID, itemID int64) (*model.BoxItem, io.ReadCloser, error) {
	if boxID <= 0 || itemID <= 0 {
		return nil, nil, ErrItemNotFound
	}

	item, err := s.store.GetItem(ctx, boxID, itemID)
	if err != nil {
		if errors.Is(err, repository.ErrItemNotFound) {
			return nil, nil, ErrItemNotFound
		}
		return nil, nil, fmt.Errorf("failed to get item: %w", err)
	}

	rc, err := s.blobs.Download(ctx, item.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("item blob missing", "box_id", boxID, "item_id", itemID, "key", item.StorageKey)
			return nil, nil, ErrItemNotFound
		}
		return nil, nil, fmt.Errorf("failed to open item: %w", err)
	}
	return item, rc, nil
}

// normalizeRequest trims metadata and checks it fits the box columns.
func normalizeRequest(req model.BoxCreateRequest) (model.BoxCreateRequest, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Type = strings.TrimSpace(req.Type)
	req.Uploader = strings.TrimSpace(req.Uploader)

	switch {
	case req.Name == "":
		return req, fmt.Errorf("%w: name is required", ErrInvalidMetadata)
	case utf8.RuneCountInString(req.Name) > maxNameLength:
		return req, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidMetadata, maxNameLength)
	case utf8.RuneCountInString(req.Type) > maxTypeLength:
		return req, fmt.Errorf("%w: type exceeds %d characters", ErrInvalidMetadata, maxTypeLength)
	case utf8.RuneCountInString(req.Uploader) > maxUploaderLength:
		return req, fmt.Errorf("%w: uploader exceeds %d characters", ErrInvalidMetadata, maxUploaderLength)
	}
	return req, nil
}

// storeAttachments writes files concurrently under prefix.
// keys lists every key a write was attempted for, including on error.
func (s *BoxService) storeAttachments(ctx context.Context, prefix string, files []model.Attachment) ([]*model.BoxItem, []string, error) {
	items := make([]*model.BoxItem, len(files))
	keys := make([]string, 0, len(files))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)

	for i, f := range files {
		key := storage.ObjectKey(prefix, i, f.FileName)

		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			keys = append(keys, key)
			mu.Unlock()

			item, err := s.storeAttachment(gctx, key, i, f)
			if err != nil {
				return fmt.Errorf("file %d (%s): %w", i, f.FileName, err)
			}
			items[i] = item
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, keys, err
	}
	return items, keys, nil
}

// storeAttachment sniffs, digests and uploads one file.
func (s *BoxService) storeAttachment(ctx context.Context, key string, position int, f model.Attachment) (*model.BoxItem, error) {
	r, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer r.Close()

	mime, err := mimetype.DetectReader(r)
	if err != nil {
		return nil, fmt.Errorf("detect content type: %w", err)
	}
	contentType := mime.String()
	if mime.Is("application/octet-stream") && f.ContentType != "" {
		contentType = f.ContentType
	}

	var pageCount *int
	if mime.Is("application/pdf") {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewind: %w", err)
		}
		if n, err := api.PageCount(r, nil); err == nil {
			pageCount = &n
		} else {
			s.logger.Debug("pdf page count unavailable", "key", key, "error", err)
		}
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind: %w", err)
	}

	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("init checksum: %w", err)
	}

	size, err := s.blobs.Upload(ctx, key, io.TeeReader(r, hasher), contentType)
	if err != nil {
		return nil, err
	}

	fileName := strings.TrimSpace(f.FileName)
	if fileName == "" {
		fileName = storage.SanitizeFileName("")
	}

	return &model.BoxItem{
		Position:    position,
		FileName:    truncateRunes(fileName, maxFileNameLength),
		ContentType: contentType,
		SizeBytes:   size,
		Checksum:    hex.EncodeToString(hasher.Sum(nil)),
		PageCount:   pageCount,
		StorageKey:  key,
	}, nil
}

// deleteBlobs removes keys, ignoring cancellation of the request context.
func (s *BoxService) deleteBlobs(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			s.logger.Error("failed to delete orphaned blob", "key", key, "error", err)
		}
	}
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
