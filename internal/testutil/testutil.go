// Package testutil holds helpers shared by database and Redis backed tests.
package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/galaxy4276/HANBAT-BOX/internal/model"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// migrationSteps lists the migrations in apply order.
var migrationSteps = []string{
	"000001_boxes",
	"000002_download_events",
}

// ResetSchema drops every table and reapplies all up migrations.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for i := len(migrationSteps) - 1; i >= 0; i-- {
		if err := ApplyMigration(ctx, pool, migrationSteps[i], "down"); err != nil {
			return err
		}
	}
	for _, step := range migrationSteps {
		if err := ApplyMigration(ctx, pool, step, "up"); err != nil {
			return err
		}
	}
	return nil
}

// ApplyMigration executes migrations/{name}.{direction}.sql against pool.
func ApplyMigration(ctx context.Context, pool *pgxpool.Pool, name, direction string) error {
	root, err := ProjectRoot()
	if err != nil {
		return err
	}

	path := filepath.Join(root, "migrations", fmt.Sprintf("%s.%s.sql", name, direction))
	sqlText, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s migration %s: %w", direction, name, err)
	}
	if _, err := pool.Exec(ctx, string(sqlText)); err != nil {
		return fmt.Errorf("apply %s migration %s: %w", direction, name, err)
	}
	return nil
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// NewTestBox creates an unsaved box with itemCount items.
func NewTestBox(t testing.TB, name string, itemCount int) *model.Box {
	t.Helper()
	prefix := UniqueID("box")
	box := &model.Box{
		Name:        name,
		Type:        "notes",
		Description: "test box " + name,
		Uploader:    "tester",
		Items:       make([]*model.BoxItem, 0, itemCount),
	}
	for i := 0; i < itemCount; i++ {
		box.Items = append(box.Items, &model.BoxItem{
			Position:    i,
			FileName:    fmt.Sprintf("file-%d.txt", i),
			ContentType: "text/plain; charset=utf-8",
			SizeBytes:   int64(10 * (i + 1)),
			Checksum:    fmt.Sprintf("%064x", i+1),
			StorageKey:  fmt.Sprintf("boxes/%s/%d-file-%d.txt", prefix, i, i),
		})
	}
	return box
}

// UniqueName generates a unique display name for tests.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s %d", prefix, time.Now().UnixNano())
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
