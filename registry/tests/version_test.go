package tests

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"testing"

	"metro_platform/registry/storage"
)

func TestVersionChainIsGapFreeAndOrdered(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("evolving-model"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	for i := 2; i <= 4; i++ {
		version, err := user.createVersion(created.AssetId.String(), fmt.Sprintf("revision %v", i), cubeObj)
		if err != nil {
			t.Fatal(err)
		}
		if version.VersionNumber != i {
			t.Fatalf("expected version number %v, got %v", i, version.VersionNumber)
		}
	}

	versions, err := user.listVersions(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 4 {
		t.Fatalf("expected 4 versions, got %v", len(versions))
	}
	for i, version := range versions {
		if version.VersionNumber != i+1 {
			t.Fatalf("version chain has gap or misorder: %v", versions)
		}
	}

	active, err := user.activeVersion(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if active.VersionNumber != 4 {
		t.Fatalf("expected active version 4, got %v", active.VersionNumber)
	}

	// reading a fixed version twice returns the identical record
	for range [2]struct{}{} {
		var version map[string]interface{}
		err := user.Get(fmt.Sprintf("/assets/%v/versions/2", created.AssetId)).Do(&version)
		if err != nil {
			t.Fatal(err)
		}
		if version["version_number"].(float64) != 2 || version["changes"] != "revision 2" {
			t.Fatalf("invalid version record %v", version)
		}
	}
}

func TestVersionNotFound(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("single-version"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	_, err = user.Get(fmt.Sprintf("/assets/%v/versions/99", created.AssetId)).DoRaw()
	if statusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 for missing version, got %v", err)
	}
}

func TestDownloadReturnsStoredBytes(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("downloadable"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	res, err := user.Get(fmt.Sprintf("/assets/%v/versions/1/download", created.AssetId)).DoRaw()
	if err != nil {
		t.Fatal(err)
	}
	if res.Body.String() != string(cubeObj) {
		t.Fatal("downloaded bytes do not match uploaded file")
	}
	if res.Header().Get("X-Checksum-Sha256") == "" {
		t.Fatal("missing checksum header on download")
	}
}

type flakyStorage struct {
	storage.Storage
	failPuts    atomic.Bool
	failDeletes atomic.Bool
}

func (s *flakyStorage) Put(ctx context.Context, key string, data io.Reader) error {
	if s.failPuts.Load() {
		return fmt.Errorf("object %v: %w", key, storage.ErrStorageUnavailable)
	}
	return s.Storage.Put(ctx, key, data)
}

func (s *flakyStorage) Delete(ctx context.Context, key string) error {
	if s.failDeletes.Load() {
		return fmt.Errorf("object %v: %w", key, storage.ErrStorageUnavailable)
	}
	return s.Storage.Delete(ctx, key)
}

func TestFailedUploadLeavesVersionChainUnchanged(t *testing.T) {
	flaky := &flakyStorage{}
	env := setupTestEnvWithStorage(t, func(s storage.Storage) storage.Storage {
		flaky.Storage = s
		return flaky
	})
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("stable"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	flaky.failPuts.Store(true)
	_, err = user.createVersion(created.AssetId.String(), "doomed", cubeObj)
	if statusCode(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when storage is down, got %v", err)
	}
	flaky.failPuts.Store(false)

	versions, err := user.listVersions(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 {
		t.Fatalf("failed upload should not create version rows: %v", versions)
	}

	info, err := user.assetInfo(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if info.ActiveVersion != 1 {
		t.Fatalf("failed upload should not move active version, got %v", info.ActiveVersion)
	}
}
