package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/galaxy4276/HANBAT-BOX/internal/testutil"
)

func newTestCache(t *testing.T) (context.Context, *Cache) {
	t.Helper()

	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	c, err := New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}
	return ctx, c
}

func TestCache_BoxPageRoundTripAndInvalidate(t *testing.T) {
	ctx, c := newTestCache(t)

	filter := model.BoxFilter{Keyword: "box"}
	page := &model.BoxPage{
		Items:      []*model.BoxSummary{{ID: 7, Name: "Box A", ItemCount: 2}},
		NextCursor: 7,
	}

	_, gen, err := c.GetBoxPage(ctx, filter, 0, 20)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss before set, got %v", err)
	}

	if err := c.SetBoxPage(ctx, gen, filter, 0, 20, page, time.Minute); err != nil {
		t.Fatalf("set page: %v", err)
	}

	got, _, err := c.GetBoxPage(ctx, filter, 0, 20)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].ID != 7 || got.NextCursor != 7 {
		t.Fatalf("unexpected cached page: %+v", got)
	}

	if err := c.InvalidateBoxLists(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, _, err := c.GetBoxPage(ctx, filter, 0, 20); !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss after invalidate, got %v", err)
	}
}

func TestCache_InvalidateBetweenMissAndSet(t *testing.T) {
	ctx, c := newTestCache(t)

	filter := model.BoxFilter{Keyword: "Box A"}

	_, gen, err := c.GetBoxPage(ctx, filter, 0, 20)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("expected ErrCacheMiss, got %v", err)
	}

	// An upload commits while the reader is still querying the database.
	if err := c.InvalidateBoxLists(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	preUpload := &model.BoxPage{Items: []*model.BoxSummary{}}
	if err := c.SetBoxPage(ctx, gen, filter, 0, 20, preUpload, time.Minute); err != nil {
		t.Fatalf("set page: %v", err)
	}

	page, newGen, err := c.GetBoxPage(ctx, filter, 0, 20)
	if !errors.Is(err, ErrCacheMiss) {
		t.Fatalf("pre-upload page served after invalidation: %+v (err %v)", page, err)
	}
	if newGen != gen+1 {
		t.Errorf("generation = %d, want %d", newGen, gen+1)
	}
}

func TestCache_EmptyPageDecodesToEmptySlice(t *testing.T) {
	ctx, c := newTestCache(t)

	if err := c.SetBoxPage(ctx, 0, model.BoxFilter{}, 0, 20, &model.BoxPage{}, time.Minute); err != nil {
		t.Fatalf("set page: %v", err)
	}
	got, _, err := c.GetBoxPage(ctx, model.BoxFilter{}, 0, 20)
	if err != nil {
		t.Fatalf("get page: %v", err)
	}
	if got.Items == nil || len(got.Items) != 0 {
		t.Fatalf("expected empty non-nil items, got %#v", got.Items)
	}
}

func TestCache_UploadRateLimit(t *testing.T) {
	ctx, c := newTestCache(t)

	ip := "203.0.113.7"
	allowed := 0
	var denied *RateLimitResult
	for i := 0; i < 10; i++ {
		res, err := c.CheckUploadRateLimit(ctx, ip, 1, 3)
		if err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		if res.Allowed {
			allowed++
		} else if denied == nil {
			denied = res
		}
	}

	// Burst of 3 plus at most one refill if a second boundary passes.
	if allowed < 3 || allowed > 4 {
		t.Fatalf("allowed = %d, want 3 or 4", allowed)
	}
	if denied == nil || denied.RetryAfter <= 0 {
		t.Errorf("expected a denied result with RetryAfter > 0, got %+v", denied)
	}

	other, err := c.CheckUploadRateLimit(ctx, "198.51.100.1", 1, 3)
	if err != nil {
		t.Fatalf("check other ip: %v", err)
	}
	if !other.Allowed {
		t.Error("a different IP should have its own bucket")
	}
}
