// Package storage provides blob storage for box attachments.
// The System interface has a local filesystem implementation for development and
// single-node deployments and an Azure Blob Storage implementation.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode"
)

// Storage errors returned by System implementations.
var (
	// ErrNotFound indicates the requested key does not exist in storage.
	ErrNotFound = errors.New("storage: key not found")

	// ErrEmptyKey indicates an empty storage key was provided.
	ErrEmptyKey = errors.New("storage: key must not be empty")

	// ErrInvalidKey indicates the key is absolute or contains a path traversal segment.
	ErrInvalidKey = errors.New("storage: invalid key")
)

// System defines blob storage operations.
type System interface {
	// Init prepares the backend (base directory or container).
	Init(ctx context.Context) error

	// Upload streams data to the blob at key and returns the number of bytes written.
	// An existing blob is overwritten.
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)

	// Download returns a stream for the blob at key. The caller must close it.
	// Returns ErrNotFound if the blob does not exist.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the blob at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether a blob exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}

const maxFileNameRunes = 120

// ObjectKey builds the key an attachment is stored under:
// boxes/{prefix}/{position}-{sanitized file name}.
func ObjectKey(prefix string, position int, fileName string) string {
	return path.Join("boxes", prefix, fmt.Sprintf("%d-%s", position, SanitizeFileName(fileName)))
}

// SanitizeFileName reduces a client supplied file name to a safe single path segment.
// Letters and digits of any script are kept; '.', '-' and '_' are kept; everything
// else becomes '_'.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		name = ""
	}

	var b strings.Builder
	n := 0
	for _, r := range name {
		if n == maxFileNameRunes {
			break
		}
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
		n++
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func validateKey(key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	if strings.HasPrefix(key, "/") || strings.HasPrefix(key, "\\") {
		return ErrInvalidKey
	}
	for _, seg := range strings.FieldsFunc(key, func(r rune) bool { return r == '/' || r == '\\' }) {
		if seg == ".." {
			return ErrInvalidKey
		}
	}
	return nil
}
