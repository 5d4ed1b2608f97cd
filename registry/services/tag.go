package services

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"metro_platform/registry/auth"
	"metro_platform/registry/schema"
	"metro_platform/utils"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TagService struct {
	db *gorm.DB

	resolver auth.ContextResolver
	audit    auth.AuditLogger
}

func (s *TagService) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(s.resolver.AuthMiddleware()...)
	r.Use(s.audit.Middleware)

	r.Get("/list", s.List)

	return r
}

type TagInfo struct {
	Name       string `json:"name"`
	Category   string `json:"category"`
	UsageCount int    `json:"usage_count"`
}

func (s *TagService) List(w http.ResponseWriter, r *http.Request) {
	query := s.db.Model(&schema.Tag{}).Where("usage_count > 0")

	if category := r.URL.Query().Get("category"); category != "" {
		query = query.Where("category = ?", category)
	}

	var tags []schema.Tag
	result := query.Order("usage_count desc, name asc").Find(&tags)
	if result.Error != nil {
		slog.Error("sql error listing tags", "error", result.Error)
		http.Error(w, schema.ErrDbAccessFailed.Error(), http.StatusInternalServerError)
		return
	}

	infos := make([]TagInfo, 0, len(tags))
	for _, tag := range tags {
		infos = append(infos, TagInfo{Name: tag.Name, Category: tag.Category, UsageCount: tag.UsageCount})
	}

	utils.WriteJsonResponse(w, infos)
}

var tagCategoryKeywords = map[string][]string{
	schema.TagDomain: {
		"medical", "anatomy", "biology", "archaeology", "geology",
		"chemistry", "physics", "engineering", "astronomy",
	},
	schema.TagTechnical: {
		"lowpoly", "highpoly", "pbr", "rigged", "animated",
		"textured", "photogrammetry", "scan", "cad",
	},
	schema.TagUseCase: {
		"education", "research", "simulation", "visualization",
		"training", "exhibition",
	},
}

// categorizeTag assigns a category from the tag name. Unrecognized names
// land in the general category.
func categorizeTag(name string) string {
	lowered := strings.ToLower(name)
	for category, keywords := range tagCategoryKeywords {
		for _, keyword := range keywords {
			if strings.Contains(lowered, keyword) {
				return category
			}
		}
	}
	return schema.TagGeneral
}

// attachTags links the asset to the named tags, creating missing tags on the
// fly and bumping usage counts.
func (s *AssetService) attachTags(txn *gorm.DB, asset *schema.Asset, names []string) error {
	for _, name := range dedupe(names) {
		name = strings.TrimSpace(strings.ToLower(name))
		if name == "" {
			continue
		}
		if len(name) > 100 {
			return CodedError(errors.New("tag names must be at most 100 characters"), http.StatusUnprocessableEntity)
		}

		tag, err := schema.GetTag(name, txn)
		if err != nil {
			if !errors.Is(err, schema.ErrTagNotFound) {
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
			tag = schema.Tag{Id: uuid.New(), Name: name, Category: categorizeTag(name)}
			if result := txn.Create(&tag); result.Error != nil {
				slog.Error("sql error creating tag", "name", name, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		if err := txn.Model(asset).Association("Tags").Append(&tag); err != nil {
			slog.Error("sql error linking tag to asset", "asset_id", asset.Id, "name", name, "error", err)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		result := txn.Model(&schema.Tag{}).Where("id = ?", tag.Id).
			Update("usage_count", gorm.Expr("usage_count + 1"))
		if result.Error != nil {
			slog.Error("sql error incrementing tag usage", "name", name, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	return nil
}

// detachTags unlinks every tag from the asset and releases the usage counts.
func (s *AssetService) detachTags(txn *gorm.DB, asset *schema.Asset) error {
	for _, tag := range asset.Tags {
		result := txn.Model(&schema.Tag{}).Where("id = ? AND usage_count > 0", tag.Id).
			Update("usage_count", gorm.Expr("usage_count - 1"))
		if result.Error != nil {
			slog.Error("sql error decrementing tag usage", "name", tag.Name, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	if err := txn.Model(asset).Association("Tags").Clear(); err != nil {
		slog.Error("sql error clearing asset tags", "asset_id", asset.Id, "error", err)
		return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
	}

	return nil
}
