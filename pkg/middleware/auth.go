package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/contextkeys"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// TokenValidator resolves API tokens
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.APIToken, error)
	RevokeUserTokens(ctx context.Context, userID int64) (int64, error)
}

// UserGetter loads users by id
type UserGetter interface {
	GetUser(ctx context.Context, id int64) (*auth.User, error)
}

// IDTokenAuthenticator resolves OIDC ID tokens to users
type IDTokenAuthenticator interface {
	Authenticate(ctx context.Context, rawToken string) (*auth.User, error)
}

// AuthMiddleware authenticates bearer credentials. API tokens are tried
// first; anything that does not look like an API token goes to the OIDC
// verifier when one is configured.
type AuthMiddleware struct {
	tokens   TokenValidator
	users    UserGetter
	idTokens IDTokenAuthenticator
}

// NewAuthMiddleware creates a new authentication middleware. idTokens may
// be nil.
func NewAuthMiddleware(tokens TokenValidator, users UserGetter, idTokens IDTokenAuthenticator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, users: users, idTokens: idTokens}
}

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		logger := observability.FromContext(ctx)

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		scheme, credential, ok := strings.Cut(authHeader, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || credential == "" {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.authenticate(ctx, credential)
		if err != nil {
			logger.WithError(err).Debug("authentication failed")
			httputil.WriteUnauthorized(w, "invalid or expired credentials")
			return
		}

		if authCtx.User.Blocked {
			if _, err := m.tokens.RevokeUserTokens(ctx, authCtx.User.ID); err != nil {
				logger.WithError(err).WithField("user_id", authCtx.User.ID).Error("failed to revoke tokens of blocked user")
			}
			httputil.WriteUnauthorized(w, "account is blocked")
			return
		}

		ctx = contextkeys.WithAuth(ctx, authCtx)
		ctx = contextkeys.WithUserID(ctx, userIDString(authCtx.User.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) authenticate(ctx context.Context, credential string) (*auth.AuthContext, error) {
	if strings.HasPrefix(credential, auth.TokenPrefix) || m.idTokens == nil {
		token, err := m.tokens.ValidateToken(ctx, credential)
		if err != nil {
			return nil, err
		}
		user, err := m.users.GetUser(ctx, token.UserID)
		if err != nil {
			return nil, err
		}
		return &auth.AuthContext{User: user, Token: token, Method: auth.MethodAPIToken}, nil
	}

	user, err := m.idTokens.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}
	return &auth.AuthContext{User: user, Method: auth.MethodOIDC}, nil
}

// GetAuthContext extracts auth context from request
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, _ := r.Context().Value(contextkeys.AuthKey).(*auth.AuthContext)
	return authCtx
}

// RequireGlobalAdmin rejects requests from users without the global admin flag
func RequireGlobalAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx := GetAuthContext(r)
		if authCtx == nil || authCtx.User == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !authCtx.User.GlobalAdmin {
			httputil.WriteForbidden(w, "global admin required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
