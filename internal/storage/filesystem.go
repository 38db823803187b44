package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// filesystem implements System using the local filesystem.
// Keys map directly to relative file paths under basePath.
type filesystem struct {
	basePath string
	logger   *slog.Logger
}

// NewFilesystem creates a filesystem storage system rooted at basePath.
// The directory is created by Init.
func NewFilesystem(basePath string, logger *slog.Logger) (System, error) {
	if basePath == "" {
		return nil, errors.New("storage: base path required")
	}

	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}

	return &filesystem{
		basePath: absPath,
		logger:   logger.With("component", "storage", "backend", "filesystem"),
	}, nil
}

func (f *filesystem) Init(ctx context.Context) error {
	if err := os.MkdirAll(f.basePath, 0o755); err != nil {
		return fmt.Errorf("create base path: %w", err)
	}
	f.logger.Info("storage directory ready", "base_path", f.basePath)
	return nil
}

func (f *filesystem) Upload(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	p, err := f.fullPath(key)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, &ctxReader{ctx: ctx, r: r})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, p); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("rename temp file: %w", err)
	}

	return n, nil
}

func (f *filesystem) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := f.fullPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	return file, nil
}

func (f *filesystem) Delete(ctx context.Context, key string) error {
	p, err := f.fullPath(key)
	if err != nil {
		return err
	}

	if err := os.Remove(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("remove file: %w", err)
	}

	// Remove the per-box directory once its last file is gone.
	dir := filepath.Dir(p)
	if dir != f.basePath && strings.HasPrefix(dir, f.basePath) {
		entries, err := os.ReadDir(dir)
		if err != nil {
			f.logger.Warn("failed to read directory for cleanup", "dir", dir, "error", err)
			return nil
		}
		if len(entries) == 0 {
			if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
				f.logger.Warn("failed to remove empty directory", "dir", dir, "error", err)
			}
		}
	}

	return nil
}

func (f *filesystem) Exists(ctx context.Context, key string) (bool, error) {
	p, err := f.fullPath(key)
	if err != nil {
		return false, err
	}

	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat file: %w", err)
	}
	return true, nil
}

func (f *filesystem) fullPath(key string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}

	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) || strings.HasPrefix(cleaned, "..") {
		return "", ErrInvalidKey
	}

	full := filepath.Join(f.basePath, cleaned)
	if !strings.HasPrefix(full, f.basePath+string(filepath.Separator)) {
		return "", ErrInvalidKey
	}
	return full, nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
