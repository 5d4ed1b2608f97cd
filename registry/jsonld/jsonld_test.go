package jsonld

import (
	"testing"
	"time"

	"metro_platform/registry/schema"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocument(t *testing.T) {
	assetId := uuid.New()
	embargo := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)

	asset := schema.Asset{
		Id:               assetId,
		Name:             "heart-valve-scan",
		Description:      "micro ct scan",
		Format:           "glb",
		ScientificDomain: "medical",
		AccessLevel:      schema.Consortium,
		OwnerId:          "researcher-1",
		OwnerInstitution: "univ-alpha",
		EmbargoUntil:     &embargo,
		ActiveVersion:    2,
		Tags:             []schema.Tag{{Name: "medical"}, {Name: "scan"}},
	}

	version := schema.AssetVersion{
		AssetId:       assetId,
		VersionNumber: 2,
		FileSize:      4096,
		Checksum:      "abc123",
	}

	doc := Document(&asset, &version, "http://registry.test")

	assert.Equal(t, []string{"dcat:Dataset", "schema:3DModel"}, doc["@type"])
	assert.Equal(t, "heart-valve-scan", doc["dct:title"])
	assert.Equal(t, assetId.String(), doc["dct:identifier"])
	assert.Equal(t, "consortium", doc["dct:accessRights"])
	assert.Equal(t, []string{"medical", "scan"}, doc["dcat:keyword"])
	assert.Equal(t, "2027-01-01T00:00:00Z", doc["metro:embargoUntil"])
	assert.Contains(t, doc["@id"], assetId.String())

	publisher := doc["dct:publisher"].(map[string]interface{})
	assert.Equal(t, "univ-alpha", publisher["schema:name"])

	dist, ok := doc["dcat:distribution"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, int64(4096), dist["dcat:byteSize"])
	assert.Equal(t, 2, dist["metro:version"])
	checksum := dist["metro:checksum"].(map[string]interface{})
	assert.Equal(t, "sha256", checksum["schema:propertyID"])
	assert.Equal(t, "abc123", checksum["schema:value"])
}

func TestDocumentWithoutOptionalFields(t *testing.T) {
	asset := schema.Asset{
		Id:          uuid.New(),
		Name:        "bare",
		Format:      "obj",
		AccessLevel: schema.Private,
		OwnerId:     "researcher-1",
	}

	doc := Document(&asset, nil, "http://registry.test")

	assert.NotContains(t, doc, "dct:description")
	assert.NotContains(t, doc, "dcat:keyword")
	assert.NotContains(t, doc, "metro:embargoUntil")
	assert.NotContains(t, doc, "dcat:distribution")
	assert.NotContains(t, doc, "dct:publisher")
}
