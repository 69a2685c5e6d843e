// Package storage holds uploaded PDFs and the preview images derived from them.
// Keys are slash separated and relative to the store root, e.g. "pdf-images/a_b_page0.png".
package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"strings"

	"github.com/drummonds/pdfcarousel/config"
)

// Logger is global since we will need it everywhere
var Logger *slog.Logger

var (
	// ErrNotExist is returned by Get and Size for a missing object
	ErrNotExist = errors.New("object does not exist")
	// ErrInvalidKey is returned for keys that are empty or escape the store root
	ErrInvalidKey = errors.New("invalid storage key")
)

// Store is the artifact storage primitive used by the conversion pipeline
type Store interface {
	// EnsurePrefix makes sure a prefix can be written to, an existing prefix is not an error
	EnsurePrefix(ctx context.Context, prefix string) error
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Size(ctx context.Context, key string) (int64, error)
	// Delete removes an object, deleting a missing object is not an error
	Delete(ctx context.Context, key string) error
}

// New builds the store selected by STORAGE_DRIVER
func New(ctx context.Context, cfg config.ServerConfig) (Store, error) {
	switch cfg.StorageDriver {
	case "", "local":
		return NewLocalStore(cfg.StoragePath), nil
	case "s3":
		return NewS3Store(ctx, cfg.StorageConfig)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}

// CleanKey normalises a key and rejects anything that would leave the store root
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(key, "\\", "/")
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}

// ContentType guesses the MIME type of a key from its extension
func ContentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func logger() *slog.Logger {
	if Logger == nil {
		return slog.Default()
	}
	return Logger
}
