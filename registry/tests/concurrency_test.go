package tests

import (
	"fmt"
	"sync"
	"testing"
)

func TestConcurrentVersionCommitsSerialize(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("contended"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	const writers = 8

	var wg sync.WaitGroup
	errs := make([]error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = user.createVersion(created.AssetId.String(), fmt.Sprintf("writer %v", i), cubeObj)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %v failed: %v", i, err)
		}
	}

	versions, err := user.listVersions(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != writers+1 {
		t.Fatalf("expected %v versions, got %v", writers+1, len(versions))
	}
	for i, version := range versions {
		if version.VersionNumber != i+1 {
			t.Fatalf("version chain has gap after concurrent commits: %v", versions)
		}
	}

	active, err := user.activeVersion(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if active.VersionNumber != writers+1 {
		t.Fatalf("expected active version %v, got %v", writers+1, active.VersionNumber)
	}
}

func TestCommitsOnDifferentAssetsDoNotInterfere(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	const assets = 4

	ids := make([]string, assets)
	for i := 0; i < assets; i++ {
		created, err := user.createAsset(defaultAssetRequest(fmt.Sprintf("asset-%v", i)), cubeObj)
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = created.AssetId.String()
	}

	var wg sync.WaitGroup
	errs := make([]error, assets)

	for i := 0; i < assets; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = user.createVersion(ids[i], "parallel", cubeObj)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("commit on asset %v failed: %v", i, err)
		}
	}

	for _, id := range ids {
		info, err := user.assetInfo(id)
		if err != nil {
			t.Fatal(err)
		}
		if info.ActiveVersion != 2 {
			t.Fatalf("expected active version 2 on asset %v, got %v", id, info.ActiveVersion)
		}
	}
}
