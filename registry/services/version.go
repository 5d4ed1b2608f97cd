package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"metro_platform/registry/auth"
	"metro_platform/registry/metrics"
	"metro_platform/registry/schema"
	"metro_platform/utils"
	"metro_platform/utils/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// versionCommitRetries bounds how often a commit is retried when another
// process moved the active version pointer between our read and our swap.
const versionCommitRetries = 3

type CreateVersionRequest struct {
	Changes string `json:"changes"`
}

func (s *AssetService) CreateVersion(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	authCtx, err := auth.ContextFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params CreateVersionRequest
	data, err := s.uploadedFile(r, &params)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	if len(params.Changes) > 500 {
		http.Error(w, "version changes must be at most 500 characters", http.StatusUnprocessableEntity)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, false, false)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	versionId := uuid.New()
	checksum := sha256.Sum256(data)
	storageKey := versionStorageKey(assetId, versionId, asset.Format)

	// Store before commit. Holding the asset lock across the upload would
	// serialize slow network transfers, so the object goes out first and is
	// removed again if no row ends up referencing it.
	if err := s.storage.Put(r.Context(), storageKey, bytes.NewReader(data)); err != nil {
		slog.Error("error storing uploaded version file", "code", logging.STORAGE_ERROR, "asset_id", assetId, "error", err)
		err = storageError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	extracted := s.extractOrDegrade(r, assetId, data, asset.Format)

	version := schema.AssetVersion{
		Id:                versionId,
		AssetId:           assetId,
		StorageKey:        storageKey,
		FileSize:          int64(len(data)),
		Checksum:          hex.EncodeToString(checksum[:]),
		ExtractedMetadata: extracted,
		Changes:           params.Changes,
		CreatedBy:         authCtx.UserId,
	}

	committed, err := s.commitVersion(assetId, &version)
	if err != nil {
		if rmErr := s.storage.Delete(r.Context(), storageKey); rmErr != nil {
			slog.Error("error removing object after failed commit", "code", logging.STORAGE_ERROR, "key", storageKey, "error", rmErr)
		}
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	slog.Info("asset version created", "code", logging.VERSION_CREATE,
		"asset_id", assetId, "version_number", committed.VersionNumber, "created_by", authCtx.UserId)
	metrics.VersionCreated()

	utils.WriteJsonResponse(w, convertToVersionInfo(*committed))
}

// commitVersion assigns the next version number and advances the active
// version pointer. Commits on the same asset in this process are serialized
// by the lock arena; commits from other processes are caught by the
// compare-and-swap on the pointer, which triggers a re-read and retry.
func (s *AssetService) commitVersion(assetId uuid.UUID, version *schema.AssetVersion) (*schema.AssetVersion, error) {
	s.locks.lock(assetId)
	defer s.locks.unlock(assetId)

	for attempt := 0; attempt < versionCommitRetries; attempt++ {
		err := s.db.Transaction(func(txn *gorm.DB) error {
			asset, err := schema.GetAsset(assetId, txn, false, false)
			if err != nil {
				return dbError(err)
			}

			version.VersionNumber = asset.ActiveVersion + 1

			if result := txn.Create(version); result.Error != nil {
				slog.Error("sql error creating version row", "asset_id", assetId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}

			result := txn.Model(&schema.Asset{}).
				Where("id = ? AND active_version = ?", assetId, asset.ActiveVersion).
				Update("active_version", version.VersionNumber)
			if result.Error != nil {
				slog.Error("sql error advancing active version", "asset_id", assetId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			if result.RowsAffected == 0 {
				return errVersionConflict
			}

			return nil
		})

		if err == nil {
			return version, nil
		}
		if err != errVersionConflict {
			return nil, err
		}

		slog.Info("active version moved during commit, retrying", "asset_id", assetId, "attempt", attempt+1)
	}

	metrics.VersionConflict()
	return nil, CodedError(
		fmt.Errorf("asset %v received conflicting version updates, please retry", assetId),
		http.StatusConflict,
	)
}

var errVersionConflict = fmt.Errorf("conflicting version update")

func (s *AssetService) ListVersions(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	versions, err := schema.ListVersions(assetId, s.db)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	infos := make([]VersionInfo, 0, len(versions))
	for _, version := range versions {
		infos = append(infos, convertToVersionInfo(version))
	}

	utils.WriteJsonResponse(w, infos)
}

func (s *AssetService) GetVersion(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	versionNumber, err := utils.URLParamInt(r, "version_number")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	version, err := schema.GetVersion(assetId, versionNumber, s.db)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	metrics.AssetRead()
	utils.WriteJsonResponse(w, convertToVersionInfo(version))
}

func (s *AssetService) ActiveVersion(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, false, false)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	version, err := schema.GetVersion(assetId, asset.ActiveVersion, s.db)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	metrics.AssetRead()
	utils.WriteJsonResponse(w, convertToVersionInfo(version))
}

func (s *AssetService) Download(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	versionNumber, err := utils.URLParamInt(r, "version_number")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, false, false)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	version, err := schema.GetVersion(assetId, versionNumber, s.db)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	object, err := s.storage.Get(r.Context(), version.StorageKey)
	if err != nil {
		slog.Error("error reading object for download", "code", logging.STORAGE_ERROR, "key", version.StorageKey, "error", err)
		err = storageError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}
	defer object.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", version.FileSize))
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=\"%v_v%v.%v\"", asset.Name, version.VersionNumber, asset.Format))
	w.Header().Set("X-Checksum-Sha256", version.Checksum)

	if _, err := io.Copy(w, object); err != nil {
		slog.Error("error streaming object to client", "code", logging.STORAGE_ERROR, "key", version.StorageKey, "error", err)
	}

	metrics.AssetRead()
	slog.Info("asset version downloaded", "code", logging.VERSION_READ, "asset_id", assetId, "version_number", versionNumber)
}
