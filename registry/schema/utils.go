package schema

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrAssetNotFound   = errors.New("asset not found")
	ErrVersionNotFound = errors.New("asset version not found")
	ErrTagNotFound     = errors.New("tag not found")
	ErrDbAccessFailed  = errors.New("db access failed")
)

// GetAsset loads an asset by id. loadPolicy preloads the allow-list and
// approval tables so the policy snapshot is complete; loadTags preloads tags.
func GetAsset(assetId uuid.UUID, db *gorm.DB, loadPolicy, loadTags bool) (Asset, error) {
	var asset Asset

	var result *gorm.DB = db
	if loadPolicy {
		result = result.Preload("AuthorizedUsers").Preload("AuthorizedInstitutions").Preload("Approvals")
	}
	if loadTags {
		result = result.Preload("Tags")
	}
	result = result.First(&asset, "id = ?", assetId)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return asset, ErrAssetNotFound
		}
		slog.Error("sql error in get asset", "asset_id", assetId, "error", result.Error)
		return asset, ErrDbAccessFailed
	}

	return asset, nil
}

func GetVersion(assetId uuid.UUID, versionNumber int, db *gorm.DB) (AssetVersion, error) {
	var version AssetVersion

	result := db.First(&version, "asset_id = ? and version_number = ?", assetId, versionNumber)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return version, ErrVersionNotFound
		}
		slog.Error("sql error in get version", "asset_id", assetId, "version_number", versionNumber, "error", result.Error)
		return version, ErrDbAccessFailed
	}

	return version, nil
}

// ListVersions returns the asset's full version chain ordered by version
// number ascending.
func ListVersions(assetId uuid.UUID, db *gorm.DB) ([]AssetVersion, error) {
	var versions []AssetVersion

	result := db.Order("version_number asc").Find(&versions, "asset_id = ?", assetId)
	if result.Error != nil {
		slog.Error("sql error listing versions", "asset_id", assetId, "error", result.Error)
		return nil, ErrDbAccessFailed
	}

	return versions, nil
}

func GetTag(name string, db *gorm.DB) (Tag, error) {
	var tag Tag

	result := db.First(&tag, "name = ?", name)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return tag, ErrTagNotFound
		}
		slog.Error("sql error in get tag", "name", name, "error", result.Error)
		return tag, ErrDbAccessFailed
	}

	return tag, nil
}
