package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	ScopeRead  = "assets:read"
	ScopeWrite = "assets:write"
)

// AuthorizationContext is the request-scoped identity of the requester,
// built fresh per inbound operation by a ContextResolver and never persisted.
type AuthorizationContext struct {
	UserId           string
	Institution      string
	ConsortiumMember bool
	Scopes           []string
	DevBypass        bool
}

func (c AuthorizationContext) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ContextResolver turns an inbound request into an AuthorizationContext and
// stores it in the request context. Implementations are selected once at
// process configuration time; the rest of the registry only ever sees the
// resolved context.
type ContextResolver interface {
	AuthMiddleware() chi.Middlewares
}

type requestContextKey string

const authContextKey requestContextKey = "authorization_context"

func WithAuthorizationContext(ctx context.Context, authCtx AuthorizationContext) context.Context {
	return context.WithValue(ctx, authContextKey, authCtx)
}

func ContextFromRequest(r *http.Request) (AuthorizationContext, error) {
	untyped := r.Context().Value(authContextKey)
	if untyped == nil {
		return AuthorizationContext{}, fmt.Errorf("authorization context not found in request")
	}
	authCtx, ok := untyped.(AuthorizationContext)
	if !ok {
		return AuthorizationContext{}, fmt.Errorf("invalid value for authorization context")
	}
	return authCtx, nil
}

// contextFromClaims builds an AuthorizationContext from validated token
// claims. The claim names follow the consortium identity provider: user_id
// (falling back to the standard sub), institution, is_consortium_member, and
// scopes either as a list or as an OAuth space-separated scope string.
func contextFromClaims(claims map[string]interface{}) (AuthorizationContext, error) {
	userId, _ := claims["user_id"].(string)
	if userId == "" {
		userId, _ = claims["sub"].(string)
	}
	if userId == "" {
		return AuthorizationContext{}, fmt.Errorf("invalid token: no user identifier in claims")
	}

	institution, _ := claims["institution"].(string)
	consortiumMember, _ := claims["is_consortium_member"].(bool)

	var scopes []string
	switch claimed := claims["scopes"].(type) {
	case []interface{}:
		for _, s := range claimed {
			if scope, ok := s.(string); ok {
				scopes = append(scopes, scope)
			}
		}
	case []string:
		scopes = claimed
	}
	if scopes == nil {
		if scope, ok := claims["scope"].(string); ok && scope != "" {
			scopes = strings.Fields(scope)
		}
	}

	return AuthorizationContext{
		UserId:           userId,
		Institution:      institution,
		ConsortiumMember: consortiumMember,
		Scopes:           scopes,
	}, nil
}
