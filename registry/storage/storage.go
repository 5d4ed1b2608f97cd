package storage

import (
	"context"
	"errors"
	"io"
)

var (
	// ErrObjectNotFound indicates the key does not exist in the store.
	ErrObjectNotFound = errors.New("object not found in storage")
	// ErrStorageUnavailable indicates the backing store could not be
	// reached or the operation failed; retryable by the caller.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

type UsageStats struct {
	TotalBytes uint64
	FreeBytes  uint64
}

// Storage is the object-store collaborator of the registry. Keys are opaque
// to callers; a committed asset version always refers to a key whose put has
// already completed (storage-then-commit ordering).
type Storage interface {
	Put(ctx context.Context, key string, data io.Reader) error

	Get(ctx context.Context, key string) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	Exists(ctx context.Context, key string) (bool, error)

	Usage() (UsageStats, error)

	Location() string
}
