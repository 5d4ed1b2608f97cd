package auth

import (
	"testing"
	"time"

	"metro_platform/registry/schema"

	"github.com/stretchr/testify/assert"
)

func ownerPolicy(level string) AccessPolicy {
	return AccessPolicy{
		Level:                  level,
		OwnerId:                "owner",
		OwnerInstitution:       "univ-alpha",
		AuthorizedUsers:        []string{"friend"},
		AuthorizedInstitutions: []string{"univ-gamma"},
		ApprovedUsers:          []string{"approved"},
	}
}

func reader(userId, institution string, member bool) AuthorizationContext {
	return AuthorizationContext{
		UserId:           userId,
		Institution:      institution,
		ConsortiumMember: member,
		Scopes:           []string{ScopeRead},
	}
}

func TestOwnerAlwaysAllowed(t *testing.T) {
	for _, level := range []string{
		schema.Private, schema.Group, schema.Institution,
		schema.Consortium, schema.ApprovalRequired, schema.Public,
	} {
		policy := ownerPolicy(level)
		owner := reader("owner", "univ-alpha", true)

		assert.True(t, Evaluate(owner, policy, ReadAction), level)
		assert.True(t, Evaluate(owner, policy, WriteAction), level)
		assert.True(t, Evaluate(owner, policy, DeleteAction), level)
	}
}

func TestMutationsDeniedToNonOwners(t *testing.T) {
	// even the most permissive level never grants write or delete
	policy := ownerPolicy(schema.Public)
	requester := reader("friend", "univ-alpha", true)

	assert.True(t, Evaluate(requester, policy, ReadAction))
	assert.False(t, Evaluate(requester, policy, WriteAction))
	assert.False(t, Evaluate(requester, policy, DeleteAction))
}

func TestReadMatrix(t *testing.T) {
	cases := []struct {
		name    string
		level   string
		ctx     AuthorizationContext
		allowed bool
	}{
		{"private denies everyone else", schema.Private, reader("friend", "univ-alpha", true), false},
		{"group allows listed user", schema.Group, reader("friend", "corp-x", false), true},
		{"group allows listed institution", schema.Group, reader("anyone", "univ-gamma", false), true},
		{"group denies unlisted", schema.Group, reader("stranger", "univ-beta", true), false},
		{"institution allows same affiliation", schema.Institution, reader("colleague", "univ-alpha", false), true},
		{"institution denies other affiliation", schema.Institution, reader("stranger", "univ-beta", true), false},
		{"consortium allows member", schema.Consortium, reader("member", "univ-beta", true), true},
		{"consortium denies non member", schema.Consortium, reader("external", "corp-x", false), false},
		{"approval allows granted user", schema.ApprovalRequired, reader("approved", "corp-x", false), true},
		{"approval denies ungranted member", schema.ApprovalRequired, reader("member", "univ-beta", true), false},
		{"public allows authenticated reader", schema.Public, reader("anyone", "corp-x", false), true},
		{
			"public denies missing read scope", schema.Public,
			AuthorizationContext{UserId: "anyone", Institution: "corp-x"}, false,
		},
		{"unknown level fails closed", "everyone", reader("anyone", "univ-alpha", true), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, Evaluate(tc.ctx, ownerPolicy(tc.level), ReadAction))
		})
	}
}

func TestEmbargoAppliesToReadsOnly(t *testing.T) {
	policy := ownerPolicy(schema.Consortium)
	future := time.Now().Add(time.Hour)
	policy.EmbargoUntil = &future

	member := reader("member", "univ-beta", true)
	assert.False(t, Evaluate(member, policy, ReadAction))
	assert.True(t, Evaluate(reader("owner", "univ-alpha", true), policy, ReadAction))

	past := time.Now().Add(-time.Hour)
	policy.EmbargoUntil = &past
	assert.True(t, Evaluate(member, policy, ReadAction))
}

func TestAnonymousIdentityNeverMatchesEmptyFields(t *testing.T) {
	policy := ownerPolicy(schema.Institution)
	policy.OwnerInstitution = ""

	anonymous := AuthorizationContext{Scopes: []string{ScopeRead}}
	assert.False(t, Evaluate(anonymous, policy, ReadAction))

	policy = ownerPolicy(schema.Group)
	policy.AuthorizedUsers = []string{""}
	assert.False(t, Evaluate(anonymous, policy, ReadAction))
}

func TestContextFromClaims(t *testing.T) {
	authCtx, err := contextFromClaims(map[string]interface{}{
		"user_id":              "researcher-1",
		"institution":          "univ-alpha",
		"is_consortium_member": true,
		"scopes":               []interface{}{"assets:read", "assets:write"},
	})
	assert.NoError(t, err)
	assert.Equal(t, "researcher-1", authCtx.UserId)
	assert.True(t, authCtx.ConsortiumMember)
	assert.True(t, authCtx.HasScope(ScopeWrite))

	authCtx, err = contextFromClaims(map[string]interface{}{
		"sub":   "fallback-id",
		"scope": "assets:read assets:write",
	})
	assert.NoError(t, err)
	assert.Equal(t, "fallback-id", authCtx.UserId)
	assert.True(t, authCtx.HasScope(ScopeRead))

	_, err = contextFromClaims(map[string]interface{}{"institution": "univ-alpha"})
	assert.Error(t, err)
}
