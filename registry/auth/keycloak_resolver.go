package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"metro_platform/utils/logging"

	"github.com/Nerzal/gocloak/v13"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

// KeycloakResolver validates bearer tokens against the consortium Keycloak
// and resolves the decoded claims into an AuthorizationContext. No identity
// is cached across requests; each call is independent.
type KeycloakResolver struct {
	keycloak *gocloak.GoCloak
	realm    string
}

type KeycloakArgs struct {
	ServerUrl string
	Realm     string
}

func NewKeycloakResolver(args KeycloakArgs) *KeycloakResolver {
	return &KeycloakResolver{
		keycloak: gocloak.NewClient(args.ServerUrl),
		realm:    args.Realm,
	}
}

func getToken(r *http.Request) (string, error) {
	if token := jwtauth.TokenFromHeader(r); token != "" {
		return token, nil
	}
	if token := jwtauth.TokenFromCookie(r); token != "" {
		return token, nil
	}
	return "", fmt.Errorf("unable to find auth token")
}

func (m *KeycloakResolver) middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			token, err := getToken(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			tokenInfo, claims, err := m.keycloak.DecodeAccessToken(ctx, token, m.realm)
			if err != nil {
				slog.Warn("token verification failed", "code", logging.VERIFICATION_FAILURE, "error", err)
				http.Error(w, fmt.Sprintf("unable to verify token with keycloak: %v", err), http.StatusUnauthorized)
				return
			}
			if tokenInfo == nil || !tokenInfo.Valid {
				slog.Warn("token verification failed", "code", logging.VERIFICATION_FAILURE, "error", "token not valid")
				http.Error(w, "invalid access token", http.StatusUnauthorized)
				return
			}
			if claims == nil {
				http.Error(w, "no claims present in access token", http.StatusUnauthorized)
				return
			}

			authCtx, err := contextFromClaims(map[string]interface{}(*claims))
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthorizationContext(r.Context(), authCtx)))
		}
		return http.HandlerFunc(handler)
	}
}

func (m *KeycloakResolver) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{m.middleware()}
}
