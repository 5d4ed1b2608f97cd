package jsonld

import (
	"fmt"
	"time"

	"metro_platform/registry/schema"
)

// Namespaces used in the published @context. The metro namespace carries the
// registry specific terms that have no DCAT or schema.org equivalent.
var contextNamespaces = map[string]interface{}{
	"dcat":   "http://www.w3.org/ns/dcat#",
	"dct":    "http://purl.org/dc/terms/",
	"schema": "https://schema.org/",
	"metro":  "https://w3id.org/metro/3d-assets#",
}

// Document renders an asset as a JSON-LD DCAT dataset description. The
// document only carries fields the caller is already allowed to read; access
// control happens before the transform.
func Document(asset *schema.Asset, activeVersion *schema.AssetVersion, baseUrl string) map[string]interface{} {
	assetIri := fmt.Sprintf("%v/api/v1/assets/%v", baseUrl, asset.Id)

	doc := map[string]interface{}{
		"@context":            contextNamespaces,
		"@id":                 assetIri,
		"@type":               []string{"dcat:Dataset", "schema:3DModel"},
		"dct:title":           asset.Name,
		"dct:identifier":      asset.Id.String(),
		"dct:issued":          asset.CreatedAt.UTC().Format(time.RFC3339),
		"dct:modified":        asset.UpdatedAt.UTC().Format(time.RFC3339),
		"dct:accessRights":    asset.AccessLevel,
		"metro:format":        asset.Format,
		"metro:activeVersion": asset.ActiveVersion,
	}

	if asset.Description != "" {
		doc["dct:description"] = asset.Description
	}

	if asset.ScientificDomain != "" {
		doc["dcat:theme"] = asset.ScientificDomain
	}

	if asset.OwnerInstitution != "" {
		doc["dct:publisher"] = map[string]interface{}{
			"@type":       "schema:Organization",
			"schema:name": asset.OwnerInstitution,
		}
	}

	if keywords := asset.TagNames(); len(keywords) > 0 {
		doc["dcat:keyword"] = keywords
	}

	if asset.EmbargoUntil != nil {
		doc["metro:embargoUntil"] = asset.EmbargoUntil.UTC().Format(time.RFC3339)
	}

	if activeVersion != nil {
		doc["dcat:distribution"] = distribution(asset, activeVersion, assetIri)
	}

	return doc
}

func distribution(asset *schema.Asset, version *schema.AssetVersion, assetIri string) map[string]interface{} {
	dist := map[string]interface{}{
		"@type":            "dcat:Distribution",
		"@id":              fmt.Sprintf("%v/versions/%v/download", assetIri, version.VersionNumber),
		"dcat:downloadURL": fmt.Sprintf("%v/versions/%v/download", assetIri, version.VersionNumber),
		"dcat:byteSize":    version.FileSize,
		"dct:format":       asset.Format,
		"metro:version":    version.VersionNumber,
		"metro:checksum": map[string]interface{}{
			"@type":             "schema:PropertyValue",
			"schema:propertyID": "sha256",
			"schema:value":      version.Checksum,
		},
	}
	return dist
}
