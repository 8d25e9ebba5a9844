package auth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// UserLookup resolves a user by email
type UserLookup interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
}

// IDTokenVerifier authenticates bearer OIDC ID tokens issued to this
// service and maps them to existing users by their verified email.
type IDTokenVerifier struct {
	verifier *oidc.IDTokenVerifier
	users    UserLookup
}

// NewIDTokenVerifier discovers the issuer and builds a verifier for clientID
func NewIDTokenVerifier(ctx context.Context, issuerURL, clientID string, users UserLookup) (*IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	return NewIDTokenVerifierFromVerifier(provider.Verifier(&oidc.Config{ClientID: clientID}), users), nil
}

// NewIDTokenVerifierFromVerifier wraps an already configured go-oidc verifier
func NewIDTokenVerifierFromVerifier(verifier *oidc.IDTokenVerifier, users UserLookup) *IDTokenVerifier {
	return &IDTokenVerifier{verifier: verifier, users: users}
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
}

// Authenticate verifies rawToken and returns the matching user
func (v *IDTokenVerifier) Authenticate(ctx context.Context, rawToken string) (*User, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}
	if claims.Email == "" {
		return nil, fmt.Errorf("ID token has no email claim")
	}
	if claims.EmailVerified != nil && !*claims.EmailVerified {
		return nil, fmt.Errorf("ID token email is not verified")
	}

	user, err := v.users.GetUserByEmail(ctx, claims.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve ID token subject: %w", err)
	}
	return user, nil
}
