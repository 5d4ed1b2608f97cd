package services

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"metro_platform/registry/metrics"
	"metro_platform/registry/schema"
	"metro_platform/registry/storage"
)

type codedError struct {
	err  error
	code int
}

func (e *codedError) Error() string {
	return e.err.Error()
}

func (e *codedError) Unwrap() error {
	return e.err
}

func CodedError(err error, code int) error {
	return &codedError{err: err, code: code}
}

func GetResponseCode(err error) int {
	var cerr *codedError
	if errors.As(err, &cerr) {
		return cerr.code
	}
	slog.Error("non coded error passed to GetResponseCode", "error", err)
	return http.StatusInternalServerError
}

// dbError classifies schema lookup failures into response codes.
func dbError(err error) error {
	switch {
	case errors.Is(err, schema.ErrAssetNotFound),
		errors.Is(err, schema.ErrVersionNotFound),
		errors.Is(err, schema.ErrTagNotFound):
		return CodedError(err, http.StatusNotFound)
	default:
		return CodedError(err, http.StatusInternalServerError)
	}
}

// storageError classifies storage failures into response codes. Unavailable
// stores return 503 so clients know the request may be retried.
func storageError(err error) error {
	metrics.StorageError()
	if errors.Is(err, storage.ErrObjectNotFound) {
		return CodedError(err, http.StatusNotFound)
	}
	return CodedError(err, http.StatusServiceUnavailable)
}

func checkDiskUsage(store storage.Storage, minFreeBytes uint64) error {
	usage, err := store.Usage()
	if err != nil {
		return CodedError(fmt.Errorf("error checking storage usage: %w", err), http.StatusServiceUnavailable)
	}

	metrics.RecordStorageFreeBytes(usage.FreeBytes)

	if usage.FreeBytes < minFreeBytes {
		return CodedError(
			fmt.Errorf("insufficient free storage: %v bytes free, %v required", usage.FreeBytes, minFreeBytes),
			http.StatusServiceUnavailable,
		)
	}
	return nil
}

func checkSufficientStorage(store storage.Storage, minFreeBytes uint64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			if err := checkDiskUsage(store, minFreeBytes); err != nil {
				slog.Error(err.Error())
				http.Error(w, err.Error(), GetResponseCode(err))
				return
			}
			next.ServeHTTP(w, r)
		}

		return http.HandlerFunc(handler)
	}
}
