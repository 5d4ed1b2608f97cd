package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

type SharedDiskStorage struct {
	basepath string
}

func NewSharedDisk(basepath string) Storage {
	slog.Info("creating new shared disk storage", "basepath", basepath)
	return &SharedDiskStorage{basepath: basepath}
}

func (s *SharedDiskStorage) fullpath(key string) string {
	return filepath.Join(s.basepath, key)
}

// contextReader cancels an in-flight copy when the request is aborted so
// that a partial upload never reaches the commit path.
type contextReader struct {
	ctx  context.Context
	data io.Reader
}

func (r *contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.data.Read(p)
}

func (s *SharedDiskStorage) Put(ctx context.Context, key string, data io.Reader) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("put %v aborted: %w", key, err)
	}

	fullpath := s.fullpath(key)

	err := os.MkdirAll(filepath.Dir(fullpath), 0777)
	if err != nil {
		slog.Error("error creating parent directory", "key", key, "error", err)
		return fmt.Errorf("error creating parent directory for %v: %w", key, ErrStorageUnavailable)
	}

	file, err := os.OpenFile(fullpath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		slog.Error("error opening file for writing", "key", key, "error", err)
		return fmt.Errorf("error opening object %v: %w", key, ErrStorageUnavailable)
	}
	defer file.Close()

	_, err = io.Copy(file, &contextReader{ctx: ctx, data: data})
	if err != nil {
		slog.Error("error writing object", "key", key, "error", err)
		// remove the partial write so a retry starts clean
		if rmErr := os.Remove(fullpath); rmErr != nil {
			slog.Error("error removing partial object", "key", key, "error", rmErr)
		}
		return fmt.Errorf("error writing object %v: %w", key, ErrStorageUnavailable)
	}

	return nil
}

func (s *SharedDiskStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get %v aborted: %w", key, err)
	}

	fullpath := s.fullpath(key)
	file, err := os.Open(fullpath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("object %v: %w", key, ErrObjectNotFound)
		}
		slog.Error("error opening object for read", "key", key, "error", err)
		return nil, fmt.Errorf("error reading object %v: %w", key, ErrStorageUnavailable)
	}

	return file, nil
}

func (s *SharedDiskStorage) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete %v aborted: %w", key, err)
	}

	fullpath := s.fullpath(key)
	err := os.RemoveAll(fullpath)
	if err != nil {
		slog.Error("error deleting object", "key", key, "error", err)
		return fmt.Errorf("error deleting object %v: %w", key, ErrStorageUnavailable)
	}
	return nil
}

func (s *SharedDiskStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("exists %v aborted: %w", key, err)
	}

	fullpath := s.fullpath(key)
	_, err := os.Stat(fullpath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	slog.Error("error checking if object exists", "key", key, "error", err)
	return false, fmt.Errorf("error checking object %v: %w", key, ErrStorageUnavailable)
}

func (s *SharedDiskStorage) Usage() (UsageStats, error) {
	var stat unix.Statfs_t

	err := unix.Statfs(s.basepath, &stat)
	if err != nil {
		slog.Error("error getting disk usage for shared storage", "path", s.basepath, "error", err)
		return UsageStats{}, fmt.Errorf("error getting disk usage stats: %w", err)
	}

	return UsageStats{
		TotalBytes: stat.Blocks * uint64(stat.Bsize),
		FreeBytes:  stat.Bfree * uint64(stat.Bsize),
	}, nil
}

func (s *SharedDiskStorage) Location() string {
	return s.basepath
}
