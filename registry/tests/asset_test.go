package tests

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"metro_platform/registry/schema"
	"metro_platform/registry/services"
	"metro_platform/registry/storage"
)

var cubeObj = []byte(`v 0 0 0
v 1 0 0
v 1 1 0
v 0 1 0
v 0 0 1
v 1 0 1
v 1 1 1
v 0 1 1
f 1 2 3 4
f 5 6 7 8
`)

func defaultAssetRequest(name string) services.CreateAssetRequest {
	return services.CreateAssetRequest{
		Name:             name,
		Description:      "a test asset",
		Format:           "obj",
		ScientificDomain: "archaeology",
		Tags:             []string{"photogrammetry", "education"},
	}
}

func TestCreateAssetAndInfo(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("temple-column"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	info, err := user.assetInfo(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}

	if info.Name != "temple-column" || info.Format != "obj" || info.AccessLevel != "private" {
		t.Fatalf("invalid asset info %v", info)
	}
	if info.OwnerId != "researcher-1" || info.OwnerInstitution != testInstitution {
		t.Fatalf("invalid asset ownership %v", info)
	}
	if info.ActiveVersion != 1 {
		t.Fatalf("expected active version 1, got %v", info.ActiveVersion)
	}
	if len(info.Tags) != 2 {
		t.Fatalf("expected 2 tags, got %v", info.Tags)
	}

	versions, err := user.listVersions(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0].VersionNumber != 1 {
		t.Fatalf("invalid version list %v", versions)
	}
	if versions[0].FileSize != int64(len(cubeObj)) || len(versions[0].Checksum) != 64 {
		t.Fatalf("invalid version record %v", versions[0])
	}

	if versions[0].ExtractedMetadata == nil {
		t.Fatal("expected extracted metadata for valid obj file")
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(*versions[0].ExtractedMetadata, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["vertex_count"].(float64) != 8 || meta["tri_count"].(float64) != 4 {
		t.Fatalf("invalid extracted metadata %v", meta)
	}
}

func TestCreateAssetValidation(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	invalid := []services.CreateAssetRequest{
		{Name: "", Format: "obj"},
		{Name: "ok", Format: "exe"},
		{Name: "ok", Format: "obj", AccessLevel: "everyone"},
	}

	for _, params := range invalid {
		_, err := user.createAsset(params, cubeObj)
		if statusCode(err) != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for request %+v, got error %v", params, err)
		}
	}
}

func TestUploadCommitsWithoutMetadataWhenExtractionFails(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	params := defaultAssetRequest("broken-scan")
	params.Format = "stl"

	// not a valid stl file in either encoding
	created, err := user.createAsset(params, []byte("not an stl file at all"))
	if err != nil {
		t.Fatal(err)
	}

	versions, err := user.listVersions(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 {
		t.Fatalf("expected 1 version, got %v", len(versions))
	}
	if versions[0].ExtractedMetadata != nil {
		t.Fatalf("expected null metadata after degraded extraction, got %v", string(*versions[0].ExtractedMetadata))
	}
}

func TestDeleteAssetRemovesVersionsAndObjects(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("to-delete"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := user.createVersion(created.AssetId.String(), "second pass", cubeObj); err != nil {
		t.Fatal(err)
	}

	rows, err := schema.ListVersions(created.AssetId, env.db)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 version rows, got %v", len(rows))
	}

	if err := user.Delete(fmt.Sprintf("/assets/%v", created.AssetId)).Do(nil); err != nil {
		t.Fatal(err)
	}

	_, err = user.assetInfo(created.AssetId.String())
	if statusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %v", err)
	}

	for _, row := range rows {
		exists, err := env.storage.Exists(context.Background(), row.StorageKey)
		if err != nil {
			t.Fatal(err)
		}
		if exists {
			t.Fatalf("object %v still present after delete", row.StorageKey)
		}
	}
}

func TestDeleteSucceedsWhenObjectRemovalFails(t *testing.T) {
	flaky := &flakyStorage{}
	env := setupTestEnvWithStorage(t, func(s storage.Storage) storage.Storage {
		flaky.Storage = s
		return flaky
	})
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("stuck-objects"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}
	for i := 2; i <= 3; i++ {
		if _, err := user.createVersion(created.AssetId.String(), fmt.Sprintf("revision %v", i), cubeObj); err != nil {
			t.Fatal(err)
		}
	}

	// The rows must go even when the store refuses to release the objects; a
	// failed removal only leaks unreachable blobs.
	flaky.failDeletes.Store(true)
	if err := user.Delete(fmt.Sprintf("/assets/%v", created.AssetId)).Do(nil); err != nil {
		t.Fatalf("delete should succeed despite object removal failures, got %v", err)
	}

	_, err = user.assetInfo(created.AssetId.String())
	if statusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %v", err)
	}

	rows, err := schema.ListVersions(created.AssetId, env.db)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no version rows after delete, got %v", len(rows))
	}
}

func TestUpdateMetadata(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("old-name"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	newName := "new-name"
	newTags := []string{"medical", "simulation"}
	update := services.UpdateMetadataRequest{Name: &newName, Tags: &newTags}
	if err := user.Post(fmt.Sprintf("/assets/%v/metadata", created.AssetId)).Json(update).Do(nil); err != nil {
		t.Fatal(err)
	}

	info, err := user.assetInfo(created.AssetId.String())
	if err != nil {
		t.Fatal(err)
	}
	if info.Name != "new-name" {
		t.Fatalf("expected updated name, got %v", info.Name)
	}
	if len(info.Tags) != 2 || info.Tags[0] == "photogrammetry" || info.Tags[1] == "photogrammetry" {
		t.Fatalf("expected replaced tags, got %v", info.Tags)
	}

	var tags []services.TagInfo
	if err := user.Get("/tags/list").Do(&tags); err != nil {
		t.Fatal(err)
	}
	for _, tag := range tags {
		if tag.Name == "medical" && tag.Category != "domain" {
			t.Fatalf("expected domain category for medical tag, got %v", tag.Category)
		}
		if tag.Name == "photogrammetry" {
			t.Fatalf("released tag should not be listed: %v", tag)
		}
	}
}

func TestJsonLdDocument(t *testing.T) {
	env := setupTestEnv(t)
	user := env.newUser(t, "researcher-1")

	created, err := user.createAsset(defaultAssetRequest("linked-data"), cubeObj)
	if err != nil {
		t.Fatal(err)
	}

	var doc map[string]interface{}
	if err := user.Get(fmt.Sprintf("/assets/%v/jsonld", created.AssetId)).Do(&doc); err != nil {
		t.Fatal(err)
	}

	if doc["@context"] == nil || doc["dct:title"] != "linked-data" {
		t.Fatalf("invalid jsonld document %v", doc)
	}
	dist, ok := doc["dcat:distribution"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing distribution in jsonld document %v", doc)
	}
	if dist["metro:version"].(float64) != 1 {
		t.Fatalf("invalid distribution %v", dist)
	}
}
