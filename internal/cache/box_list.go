package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
)

// Cache keys for box listing pages.
const (
	listKeyPrefix     = "boxes:list:"
	listGenerationKey = "boxes:list:gen"
)

// listPageKey builds the cache key for one listing page under generation gen.
func listPageKey(gen int64, filter model.BoxFilter, cursor int64, limit int) string {
	h := sha256.New()
	fmt.Fprintf(h, "k=%s\x00t=%s\x00c=%d\x00l=%d", filter.Keyword, filter.Type, cursor, limit)
	return listKeyPrefix + strconv.FormatInt(gen, 10) + ":" + hex.EncodeToString(h.Sum(nil)[:8])
}

// listGeneration returns the current listing generation, 0 if never bumped.
func (c *Cache) listGeneration(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, listGenerationKey).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis get generation failed: %w", err)
	}
	return gen, nil
}

// GetBoxPage returns a cached listing page and the generation it was looked up under.
// On ErrCacheMiss the generation is still returned; pass it to SetBoxPage so a page read
// before an upload is never stored under the generation that upload started.
func (c *Cache) GetBoxPage(ctx context.Context, filter model.BoxFilter, cursor int64, limit int) (*model.BoxPage, int64, error) {
	gen, err := c.listGeneration(ctx)
	if err != nil {
		return nil, 0, err
	}

	data, err := c.client.Get(ctx, listPageKey(gen, filter, cursor, limit)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, gen, ErrCacheMiss
		}
		return nil, gen, fmt.Errorf("redis get page failed: %w", err)
	}

	var page model.BoxPage
	if err := json.Unmarshal(data, &page); err != nil {
		return nil, gen, fmt.Errorf("decode cached page: %w", err)
	}
	if page.Items == nil {
		page.Items = []*model.BoxSummary{}
	}
	return &page, gen, nil
}

// SetBoxPage stores a listing page under generation gen, as returned by GetBoxPage.
func (c *Cache) SetBoxPage(ctx context.Context, gen int64, filter model.BoxFilter, cursor int64, limit int, page *model.BoxPage, ttl time.Duration) error {
	data, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode page: %w", err)
	}

	if err := c.client.Set(ctx, listPageKey(gen, filter, cursor, limit), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set page failed: %w", err)
	}
	return nil
}

// InvalidateBoxLists moves listing to a new generation.
// Pages cached under older generations are never read again and expire by TTL.
func (c *Cache) InvalidateBoxLists(ctx context.Context) error {
	if err := c.client.Incr(ctx, listGenerationKey).Err(); err != nil {
		return fmt.Errorf("redis incr generation failed: %w", err)
	}
	return nil
}
