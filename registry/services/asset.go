package services

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"metro_platform/registry/auth"
	"metro_platform/registry/extractor"
	"metro_platform/registry/jsonld"
	"metro_platform/registry/metrics"
	"metro_platform/registry/schema"
	"metro_platform/registry/storage"
	"metro_platform/utils"
	"metro_platform/utils/logging"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AssetService struct {
	db *gorm.DB

	storage   storage.Storage
	extractor extractor.Extractor

	resolver auth.ContextResolver
	audit    auth.AuditLogger

	locks *lockArena

	variables Variables
}

func (s *AssetService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.resolver.AuthMiddleware()...)
	r.Use(s.audit.Middleware)

	r.Group(func(r chi.Router) {
		r.Use(auth.ScopeOnly(auth.ScopeWrite))
		r.Use(checkSufficientStorage(s.storage, s.variables.MinFreeStorageBytes))

		r.Post("/", s.Create)
	})

	r.Get("/list", s.List)

	r.Route("/{asset_id}", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(auth.AssetPermissionOnly(s.db, auth.ReadAction))

			r.Get("/", s.Info)
			r.Get("/jsonld", s.JsonLd)
			r.Get("/policy", s.GetPolicy)
			r.Get("/versions", s.ListVersions)
			r.Get("/versions/active", s.ActiveVersion)
			r.Get("/versions/{version_number}", s.GetVersion)
			r.Get("/versions/{version_number}/download", s.Download)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.AssetPermissionOnly(s.db, auth.WriteAction))

			r.With(
				auth.ScopeOnly(auth.ScopeWrite),
				checkSufficientStorage(s.storage, s.variables.MinFreeStorageBytes),
			).Post("/versions", s.CreateVersion)

			r.Post("/metadata", s.UpdateMetadata)
			r.Post("/policy", s.UpdatePolicy)
		})

		r.With(auth.AssetPermissionOnly(s.db, auth.DeleteAction)).Delete("/", s.Delete)
	})

	return r
}

type VersionInfo struct {
	VersionNumber int    `json:"version_number"`
	FileSize      int64  `json:"file_size"`
	Checksum      string `json:"checksum"`
	Changes       string `json:"changes,omitempty"`

	ExtractedMetadata *json.RawMessage `json:"extracted_metadata"`

	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

type AssetInfo struct {
	AssetId uuid.UUID `json:"asset_id"`

	Name             string `json:"name"`
	Description      string `json:"description"`
	Format           string `json:"format"`
	ScientificDomain string `json:"scientific_domain,omitempty"`

	AccessLevel      string     `json:"access_level"`
	OwnerId          string     `json:"owner_id"`
	OwnerInstitution string     `json:"owner_institution"`
	EmbargoUntil     *time.Time `json:"embargo_until,omitempty"`

	ActiveVersion int      `json:"active_version"`
	Tags          []string `json:"tags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func convertToAssetInfo(asset schema.Asset) AssetInfo {
	return AssetInfo{
		AssetId:          asset.Id,
		Name:             asset.Name,
		Description:      asset.Description,
		Format:           asset.Format,
		ScientificDomain: asset.ScientificDomain,
		AccessLevel:      asset.AccessLevel,
		OwnerId:          asset.OwnerId,
		OwnerInstitution: asset.OwnerInstitution,
		EmbargoUntil:     asset.EmbargoUntil,
		ActiveVersion:    asset.ActiveVersion,
		Tags:             asset.TagNames(),
		CreatedAt:        asset.CreatedAt,
		UpdatedAt:        asset.UpdatedAt,
	}
}

func convertToVersionInfo(version schema.AssetVersion) VersionInfo {
	info := VersionInfo{
		VersionNumber: version.VersionNumber,
		FileSize:      version.FileSize,
		Checksum:      version.Checksum,
		Changes:       version.Changes,
		CreatedAt:     version.CreatedAt,
		CreatedBy:     version.CreatedBy,
	}
	if version.ExtractedMetadata != nil {
		raw := json.RawMessage(*version.ExtractedMetadata)
		info.ExtractedMetadata = &raw
	}
	return info
}

type CreateAssetRequest struct {
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Format           string     `json:"format"`
	ScientificDomain string     `json:"scientific_domain"`
	AccessLevel      string     `json:"access_level"`
	EmbargoUntil     *time.Time `json:"embargo_until"`
	Tags             []string   `json:"tags"`
}

func validateCreateAssetRequest(params *CreateAssetRequest) error {
	if params.Name == "" || len(params.Name) > 100 {
		return fmt.Errorf("asset name must be between 1 and 100 characters")
	}
	if len(params.Description) > 500 {
		return fmt.Errorf("asset description must be at most 500 characters")
	}
	if !schema.ValidAssetFormat(params.Format) {
		return fmt.Errorf("unsupported asset format '%v'", params.Format)
	}
	if params.AccessLevel == "" {
		params.AccessLevel = schema.Private
	}
	if !schema.ValidAccessLevel(params.AccessLevel) {
		return fmt.Errorf("invalid access level '%v'", params.AccessLevel)
	}
	return nil
}

// uploadedFile reads the file part of a multipart upload along with the json
// request in the info part.
func (s *AssetService) uploadedFile(r *http.Request, params interface{}) ([]byte, error) {
	if err := r.ParseMultipartForm(10 * 1024 * 1024); err != nil {
		return nil, CodedError(fmt.Errorf("error parsing multipart request: %w", err), http.StatusBadRequest)
	}

	info := r.FormValue("info")
	if info == "" {
		return nil, CodedError(fmt.Errorf("missing 'info' field in multipart request"), http.StatusBadRequest)
	}
	if err := json.Unmarshal([]byte(info), params); err != nil {
		return nil, CodedError(fmt.Errorf("error parsing 'info' field: %w", err), http.StatusBadRequest)
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, CodedError(fmt.Errorf("missing 'file' field in multipart request: %w", err), http.StatusBadRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.variables.MaxUploadBytes+1))
	if err != nil {
		return nil, CodedError(fmt.Errorf("error reading uploaded file: %w", err), http.StatusBadRequest)
	}
	if int64(len(data)) > s.variables.MaxUploadBytes {
		return nil, CodedError(
			fmt.Errorf("uploaded file exceeds the %v byte limit", s.variables.MaxUploadBytes),
			http.StatusRequestEntityTooLarge,
		)
	}
	if len(data) == 0 {
		return nil, CodedError(fmt.Errorf("uploaded file is empty"), http.StatusUnprocessableEntity)
	}

	return data, nil
}

func versionStorageKey(assetId, versionId uuid.UUID, format string) string {
	return fmt.Sprintf("assets/%v/versions/%v.%v", assetId, versionId, format)
}

// extractOrDegrade runs the metadata extractor and converts any failure into
// a committed upload without metadata. Extraction problems are reported as
// warnings, never as request errors.
func (s *AssetService) extractOrDegrade(r *http.Request, assetId uuid.UUID, data []byte, format string) *string {
	meta, err := s.extractor.Extract(r.Context(), data, format)
	if err != nil {
		slog.Warn("metadata extraction failed, committing version without metadata",
			"code", logging.EXTRACTION_DEGRADED, "asset_id", assetId, "format", format, "error", err)
		metrics.ExtractionDegraded()
		return nil
	}

	document, err := meta.Json()
	if err != nil {
		slog.Warn("error serializing extracted metadata, committing version without metadata",
			"code", logging.EXTRACTION_DEGRADED, "asset_id", assetId, "error", err)
		metrics.ExtractionDegraded()
		return nil
	}

	return &document
}

func (s *AssetService) Create(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.ContextFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var params CreateAssetRequest
	data, err := s.uploadedFile(r, &params)
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	if err := validateCreateAssetRequest(&params); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	assetId, versionId := uuid.New(), uuid.New()
	checksum := sha256.Sum256(data)
	storageKey := versionStorageKey(assetId, versionId, params.Format)

	// The object is written before the rows are committed so a committed
	// version always points at a stored object.
	if err := s.storage.Put(r.Context(), storageKey, bytes.NewReader(data)); err != nil {
		slog.Error("error storing uploaded asset file", "code", logging.STORAGE_ERROR, "asset_id", assetId, "error", err)
		err = storageError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	extracted := s.extractOrDegrade(r, assetId, data, params.Format)

	asset := schema.Asset{
		Id:               assetId,
		Name:             params.Name,
		Description:      params.Description,
		Format:           params.Format,
		ScientificDomain: params.ScientificDomain,
		AccessLevel:      params.AccessLevel,
		OwnerId:          authCtx.UserId,
		OwnerInstitution: authCtx.Institution,
		EmbargoUntil:     params.EmbargoUntil,
		ActiveVersion:    1,
	}

	version := schema.AssetVersion{
		Id:                versionId,
		AssetId:           assetId,
		VersionNumber:     1,
		StorageKey:        storageKey,
		FileSize:          int64(len(data)),
		Checksum:          hex.EncodeToString(checksum[:]),
		ExtractedMetadata: extracted,
		Changes:           "initial version",
		CreatedBy:         authCtx.UserId,
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if result := txn.Create(&asset); result.Error != nil {
			slog.Error("sql error creating asset", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		if result := txn.Create(&version); result.Error != nil {
			slog.Error("sql error creating initial version", "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
		return s.attachTags(txn, &asset, params.Tags)
	})
	if err != nil {
		// the commit failed, remove the orphaned object
		if rmErr := s.storage.Delete(r.Context(), storageKey); rmErr != nil {
			slog.Error("error removing object after failed commit", "code", logging.STORAGE_ERROR, "key", storageKey, "error", rmErr)
		}
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	slog.Info("asset created", "code", logging.ASSET_CREATE, "asset_id", assetId, "owner_id", authCtx.UserId)
	metrics.AssetCreated()
	metrics.VersionCreated()

	asset.Tags = nil
	loaded, err := schema.GetAsset(assetId, s.db, false, true)
	if err == nil {
		asset = loaded
	}
	utils.WriteJsonResponse(w, convertToAssetInfo(asset))
}

func (s *AssetService) Info(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, false, true)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	metrics.AssetRead()
	slog.Debug("asset info read", "code", logging.ASSET_READ, "asset_id", assetId)
	utils.WriteJsonResponse(w, convertToAssetInfo(asset))
}

func (s *AssetService) JsonLd(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, false, true)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	var active *schema.AssetVersion
	version, err := schema.GetVersion(assetId, asset.ActiveVersion, s.db)
	if err == nil {
		active = &version
	} else if !errors.Is(err, schema.ErrVersionNotFound) {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	metrics.AssetRead()
	w.Header().Set("Content-Type", "application/ld+json")
	if err := json.NewEncoder(w).Encode(jsonld.Document(&asset, active, s.variables.BaseUrl)); err != nil {
		slog.Error("error serializing jsonld document", "asset_id", assetId, "error", err)
	}
}

type ListAssetsResponse struct {
	Assets []AssetInfo `json:"assets"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// visibleAssets narrows a query to assets the requester may read, mirroring
// the per-asset policy evaluation in sql so listings never leak entries the
// info endpoint would deny.
func (s *AssetService) visibleAssets(authCtx auth.AuthorizationContext) *gorm.DB {
	userAssets := s.db.Model(&schema.AssetAuthorizedUser{}).Select("asset_id").Where("user_id = ?", authCtx.UserId)
	institutionAssets := s.db.Model(&schema.AssetAuthorizedInstitution{}).Select("asset_id").Where("institution = ?", authCtx.Institution)
	approvedAssets := s.db.Model(&schema.AssetApproval{}).Select("asset_id").Where("user_id = ?", authCtx.UserId)

	levels := s.db.
		Where("access_level = ? AND id IN (?)", schema.Group, userAssets).
		Or("access_level = ? AND id IN (?)", schema.Group, institutionAssets).
		Or("access_level = ? AND id IN (?)", schema.ApprovalRequired, approvedAssets)

	if authCtx.Institution != "" {
		levels = levels.Or("access_level = ? AND owner_institution = ?", schema.Institution, authCtx.Institution)
	}
	if authCtx.ConsortiumMember {
		levels = levels.Or("access_level = ?", schema.Consortium)
	}
	if authCtx.UserId != "" && authCtx.HasScope(auth.ScopeRead) {
		levels = levels.Or("access_level = ?", schema.Public)
	}

	notEmbargoed := s.db.
		Where("embargo_until IS NULL OR embargo_until <= ?", time.Now()).
		Where(levels)

	return s.db.Where(s.db.Where("owner_id = ?", authCtx.UserId).Or(notEmbargoed))
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func (s *AssetService) List(w http.ResponseWriter, r *http.Request) {
	authCtx, err := auth.ContextFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	query := s.db.Model(&schema.Asset{}).Where(s.visibleAssets(authCtx))

	if name := r.URL.Query().Get("name"); name != "" {
		query = query.Where("name LIKE ?", "%"+name+"%")
	}
	if format := r.URL.Query().Get("format"); format != "" {
		query = query.Where("format = ?", format)
	}
	if domain := r.URL.Query().Get("scientific_domain"); domain != "" {
		query = query.Where("scientific_domain = ?", domain)
	}
	if tag := r.URL.Query().Get("tag"); tag != "" {
		tagged := s.db.Table("asset_tags").Select("asset_tags.asset_id").
			Joins("JOIN tags ON tags.id = asset_tags.tag_id").
			Where("tags.name = ?", tag)
		query = query.Where("id IN (?)", tagged)
	}

	var total int64
	if result := query.Count(&total); result.Error != nil {
		slog.Error("sql error counting assets", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	var assets []schema.Asset
	result := query.Preload("Tags").Order("created_at desc").Limit(limit).Offset(offset).Find(&assets)
	if result.Error != nil {
		slog.Error("sql error listing assets", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]AssetInfo, 0, len(assets))
	for _, asset := range assets {
		infos = append(infos, convertToAssetInfo(asset))
	}

	utils.WriteJsonResponse(w, ListAssetsResponse{Assets: infos, Total: total, Limit: limit, Offset: offset})
}

type UpdateMetadataRequest struct {
	Name             *string   `json:"name"`
	Description      *string   `json:"description"`
	ScientificDomain *string   `json:"scientific_domain"`
	Tags             *[]string `json:"tags"`
}

func (s *AssetService) UpdateMetadata(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params UpdateMetadataRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if params.Name != nil && (*params.Name == "" || len(*params.Name) > 100) {
		http.Error(w, "asset name must be between 1 and 100 characters", http.StatusUnprocessableEntity)
		return
	}
	if params.Description != nil && len(*params.Description) > 500 {
		http.Error(w, "asset description must be at most 500 characters", http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAsset(assetId, txn, false, true)
		if err != nil {
			return dbError(err)
		}

		updates := map[string]interface{}{}
		if params.Name != nil {
			updates["name"] = *params.Name
		}
		if params.Description != nil {
			updates["description"] = *params.Description
		}
		if params.ScientificDomain != nil {
			updates["scientific_domain"] = *params.ScientificDomain
		}

		if len(updates) > 0 {
			if result := txn.Model(&asset).Updates(updates); result.Error != nil {
				slog.Error("sql error updating asset metadata", "asset_id", assetId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		if params.Tags != nil {
			if err := s.detachTags(txn, &asset); err != nil {
				return err
			}
			if err := s.attachTags(txn, &asset, *params.Tags); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	slog.Info("asset metadata updated", "code", logging.ASSET_UPDATE, "asset_id", assetId)
	utils.WriteSuccess(w)
}

func (s *AssetService) Delete(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var keys []string
	err = s.db.Transaction(func(txn *gorm.DB) error {
		asset, err := schema.GetAsset(assetId, txn, false, true)
		if err != nil {
			return dbError(err)
		}

		versions, err := schema.ListVersions(assetId, txn)
		if err != nil {
			return dbError(err)
		}
		for _, version := range versions {
			keys = append(keys, version.StorageKey)
		}

		if err := s.detachTags(txn, &asset); err != nil {
			return err
		}

		for _, model := range []interface{}{
			&schema.AssetVersion{}, &schema.AssetAuthorizedUser{},
			&schema.AssetAuthorizedInstitution{}, &schema.AssetApproval{},
		} {
			if result := txn.Where("asset_id = ?", assetId).Delete(model); result.Error != nil {
				slog.Error("sql error deleting asset children", "asset_id", assetId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		if result := txn.Delete(&schema.Asset{}, "id = ?", assetId); result.Error != nil {
			slog.Error("sql error deleting asset", "asset_id", assetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	// Object removal happens after the rows are gone. A failed removal only
	// leaks an unreachable object, it never resurrects the asset.
	for _, key := range keys {
		if err := s.storage.Delete(r.Context(), key); err != nil {
			slog.Error("error deleting object for removed asset", "code", logging.STORAGE_ERROR, "key", key, "error", err)
			metrics.StorageError()
		}
	}

	slog.Info("asset deleted", "code", logging.ASSET_DELETE, "asset_id", assetId)
	metrics.AssetDeleted()
	utils.WriteSuccess(w)
}
