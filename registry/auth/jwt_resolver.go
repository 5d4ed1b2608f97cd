package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/jwtauth/v5"
)

// JwtResolver verifies HS256 bearer tokens signed with a shared secret and
// resolves their claims into an AuthorizationContext. Used when the registry
// trusts tokens minted by the consortium gateway directly.
type JwtResolver struct {
	auth *jwtauth.JWTAuth
}

func NewJwtResolver(secret []byte) *JwtResolver {
	return &JwtResolver{auth: jwtauth.New("HS256", secret, nil)}
}

func (m *JwtResolver) verifier() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Verifier(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *JwtResolver) authenticator() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return jwtauth.Authenticator(m.auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
		}))
	}
}

func (m *JwtResolver) resolveContext() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := func(w http.ResponseWriter, r *http.Request) {
			_, claims, err := jwtauth.FromContext(r.Context())
			if err != nil {
				http.Error(w, fmt.Sprintf("error retrieving auth claims: %v", err), http.StatusUnauthorized)
				return
			}

			authCtx, err := contextFromClaims(claims)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuthorizationContext(r.Context(), authCtx)))
		}
		return http.HandlerFunc(handler)
	}
}

func (m *JwtResolver) AuthMiddleware() chi.Middlewares {
	return chi.Middlewares{m.verifier(), m.authenticator(), m.resolveContext()}
}

// IssueToken mints a token carrying the given identity. Used by local
// tooling and tests; production tokens come from the identity provider.
func (m *JwtResolver) IssueToken(authCtx AuthorizationContext, exp time.Duration) (string, error) {
	claims := map[string]interface{}{
		"user_id":              authCtx.UserId,
		"institution":          authCtx.Institution,
		"is_consortium_member": authCtx.ConsortiumMember,
		"scopes":               authCtx.Scopes,
		"exp":                  time.Now().Add(exp),
	}

	_, token, err := m.auth.Encode(claims)
	if err != nil {
		slog.Error("error generating jwt", "error", err)
		return "", fmt.Errorf("error generating access token: %w", err)
	}
	return token, nil
}
