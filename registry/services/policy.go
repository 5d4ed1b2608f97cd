package services

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"metro_platform/registry/schema"
	"metro_platform/utils"
	"metro_platform/utils/logging"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccessPolicyResponse struct {
	AccessLevel      string     `json:"access_level"`
	OwnerId          string     `json:"owner_id"`
	OwnerInstitution string     `json:"owner_institution"`
	EmbargoUntil     *time.Time `json:"embargo_until,omitempty"`

	AuthorizedUsers        []string `json:"authorized_users"`
	AuthorizedInstitutions []string `json:"authorized_institutions"`
	ApprovedUsers          []string `json:"approved_users"`
}

func (s *AssetService) GetPolicy(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	asset, err := schema.GetAsset(assetId, s.db, true, false)
	if err != nil {
		err = dbError(err)
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	slog.Info("asset policy read", "code", logging.POLICY_READ, "asset_id", assetId)
	utils.WriteJsonResponse(w, AccessPolicyResponse{
		AccessLevel:            asset.AccessLevel,
		OwnerId:                asset.OwnerId,
		OwnerInstitution:       asset.OwnerInstitution,
		EmbargoUntil:           asset.EmbargoUntil,
		AuthorizedUsers:        asset.AuthorizedUserIds(),
		AuthorizedInstitutions: asset.AuthorizedInstitutionIds(),
		ApprovedUsers:          asset.ApprovedUserIds(),
	})
}

type UpdatePolicyRequest struct {
	AccessLevel string `json:"access_level"`

	AuthorizedUsers        []string `json:"authorized_users"`
	AuthorizedInstitutions []string `json:"authorized_institutions"`
	ApprovedUsers          []string `json:"approved_users"`

	EmbargoUntil *time.Time `json:"embargo_until"`
}

func validateUpdatePolicyRequest(params *UpdatePolicyRequest) error {
	if !schema.ValidAccessLevel(params.AccessLevel) {
		return fmt.Errorf("invalid access level '%v'", params.AccessLevel)
	}
	if params.AccessLevel == schema.ApprovalRequired && len(params.ApprovedUsers) == 0 {
		return fmt.Errorf("access level %v requires at least one approved user", schema.ApprovalRequired)
	}
	return nil
}

// UpdatePolicy replaces the asset's entire policy in one transaction so a
// concurrent permission check sees either the old policy or the new one,
// never a mix.
func (s *AssetService) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	assetId, err := utils.URLParamUUID(r, "asset_id")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var params UpdatePolicyRequest
	if !utils.ParseRequestBody(w, r, &params) {
		return
	}

	if err := validateUpdatePolicyRequest(&params); err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	err = s.db.Transaction(func(txn *gorm.DB) error {
		if _, err := schema.GetAsset(assetId, txn, false, false); err != nil {
			return dbError(err)
		}

		for _, model := range []interface{}{
			&schema.AssetAuthorizedUser{}, &schema.AssetAuthorizedInstitution{}, &schema.AssetApproval{},
		} {
			if result := txn.Where("asset_id = ?", assetId).Delete(model); result.Error != nil {
				slog.Error("sql error clearing policy allow-lists", "asset_id", assetId, "error", result.Error)
				return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
			}
		}

		if err := insertAllowLists(txn, assetId, &params); err != nil {
			return err
		}

		result := txn.Model(&schema.Asset{}).Where("id = ?", assetId).Updates(map[string]interface{}{
			"access_level":  params.AccessLevel,
			"embargo_until": params.EmbargoUntil,
		})
		if result.Error != nil {
			slog.Error("sql error updating asset policy", "asset_id", assetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}

		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), GetResponseCode(err))
		return
	}

	slog.Info("asset policy updated", "code", logging.POLICY_UPDATE, "asset_id", assetId, "access_level", params.AccessLevel)
	utils.WriteSuccess(w)
}

func insertAllowLists(txn *gorm.DB, assetId uuid.UUID, params *UpdatePolicyRequest) error {
	now := time.Now()

	for _, userId := range dedupe(params.AuthorizedUsers) {
		entry := schema.AssetAuthorizedUser{AssetId: assetId, UserId: userId}
		if result := txn.Create(&entry); result.Error != nil {
			slog.Error("sql error inserting authorized user", "asset_id", assetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	for _, institution := range dedupe(params.AuthorizedInstitutions) {
		entry := schema.AssetAuthorizedInstitution{AssetId: assetId, Institution: institution}
		if result := txn.Create(&entry); result.Error != nil {
			slog.Error("sql error inserting authorized institution", "asset_id", assetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	for _, userId := range dedupe(params.ApprovedUsers) {
		entry := schema.AssetApproval{AssetId: assetId, UserId: userId, GrantedAt: now}
		if result := txn.Create(&entry); result.Error != nil {
			slog.Error("sql error inserting approval", "asset_id", assetId, "error", result.Error)
			return CodedError(schema.ErrDbAccessFailed, http.StatusInternalServerError)
		}
	}

	return nil
}

func dedupe(values []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
