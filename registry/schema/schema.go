package schema

import (
	"time"

	"github.com/google/uuid"
)

// Access levels for an asset, from most restrictive to most open. The level
// alone never grants write or delete to non-owners.
const (
	Private          = "private"
	Group            = "group"
	Institution      = "institution"
	Consortium       = "consortium"
	ApprovalRequired = "approval_required"
	Public           = "public"
)

var accessLevels = map[string]struct{}{
	Private: {}, Group: {}, Institution: {}, Consortium: {}, ApprovalRequired: {}, Public: {},
}

func ValidAccessLevel(level string) bool {
	_, ok := accessLevels[level]
	return ok
}

// Supported declared formats for asset files.
const (
	FormatGltf  = "gltf"
	FormatGlb   = "glb"
	FormatUsdz  = "usdz"
	FormatBlend = "blend"
	FormatFbx   = "fbx"
	FormatObj   = "obj"
	FormatStl   = "stl"
	FormatPly   = "ply"
)

var assetFormats = map[string]struct{}{
	FormatGltf: {}, FormatGlb: {}, FormatUsdz: {}, FormatBlend: {},
	FormatFbx: {}, FormatObj: {}, FormatStl: {}, FormatPly: {},
}

func ValidAssetFormat(format string) bool {
	_, ok := assetFormats[format]
	return ok
}

type Asset struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Name        string `gorm:"size:100;not null;index"`
	Description string `gorm:"size:500;not null;default:''"`
	Format      string `gorm:"size:20;not null;index"`

	ScientificDomain string `gorm:"size:100"`

	// Policy columns. The allow-lists and approvals live in the join tables
	// below so that a policy snapshot is a single preloaded read.
	AccessLevel      string `gorm:"size:50;not null;default:'private';index"`
	OwnerId          string `gorm:"size:255;not null;index"`
	OwnerInstitution string `gorm:"size:100;not null;index"`
	EmbargoUntil     *time.Time

	// Number of the currently active version. Always references a row in
	// Versions; updated only via compare-and-swap on the previous value.
	ActiveVersion int `gorm:"not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	AuthorizedUsers        []AssetAuthorizedUser        `gorm:"constraint:OnDelete:CASCADE"`
	AuthorizedInstitutions []AssetAuthorizedInstitution `gorm:"constraint:OnDelete:CASCADE"`
	Approvals              []AssetApproval              `gorm:"constraint:OnDelete:CASCADE"`

	Versions []AssetVersion `gorm:"constraint:OnDelete:CASCADE"`

	Tags []Tag `gorm:"many2many:asset_tags;"`
}

func (a *Asset) AuthorizedUserIds() []string {
	ids := make([]string, 0, len(a.AuthorizedUsers))
	for _, u := range a.AuthorizedUsers {
		ids = append(ids, u.UserId)
	}
	return ids
}

func (a *Asset) AuthorizedInstitutionIds() []string {
	ids := make([]string, 0, len(a.AuthorizedInstitutions))
	for _, i := range a.AuthorizedInstitutions {
		ids = append(ids, i.Institution)
	}
	return ids
}

func (a *Asset) ApprovedUserIds() []string {
	ids := make([]string, 0, len(a.Approvals))
	for _, approval := range a.Approvals {
		ids = append(ids, approval.UserId)
	}
	return ids
}

func (a *Asset) TagNames() []string {
	names := make([]string, 0, len(a.Tags))
	for _, tag := range a.Tags {
		names = append(names, tag.Name)
	}
	return names
}

type AssetAuthorizedUser struct {
	AssetId uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId  string    `gorm:"size:255;primaryKey"`
}

type AssetAuthorizedInstitution struct {
	AssetId     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Institution string    `gorm:"size:100;primaryKey"`
}

type AssetApproval struct {
	AssetId   uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserId    string    `gorm:"size:255;primaryKey"`
	GrantedAt time.Time
}

// AssetVersion is one immutable snapshot in an asset's history. Rows are only
// ever created and deleted (with the owning asset), never updated.
type AssetVersion struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	AssetId       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_asset_version_number"`
	VersionNumber int       `gorm:"not null;uniqueIndex:idx_asset_version_number"`

	StorageKey string `gorm:"size:500;not null"`
	FileSize   int64  `gorm:"not null"`
	Checksum   string `gorm:"size:64;not null"`

	// JSON document produced by the extractor, nil when extraction was
	// skipped or failed.
	ExtractedMetadata *string

	Changes string `gorm:"size:500"`

	CreatedAt time.Time
	CreatedBy string `gorm:"size:255;not null"`
}

type Tag struct {
	Id         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name       string    `gorm:"unique;size:100;not null"`
	Category   string    `gorm:"size:50;not null;default:'general'"`
	UsageCount int       `gorm:"not null;default:0"`

	Assets []Asset `gorm:"many2many:asset_tags;"`
}

// Tag categories assigned heuristically from the tag name.
const (
	TagGeneral   = "general"
	TagUseCase   = "use_case"
	TagDomain    = "domain"
	TagTechnical = "technical"
)

// AllModels lists every table in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&Asset{}, &AssetVersion{}, &AssetAuthorizedUser{},
		&AssetAuthorizedInstitution{}, &AssetApproval{}, &Tag{},
	}
}
