// Package auth identifies the caller of a request.
//
// Users are stored in the users table and can be blocked or marked as
// global administrators. Callers authenticate with one of two bearer
// credentials:
//
//   - API tokens of the form tnt_<base64url(32 random bytes)>. Only the
//     SHA-256 hash is stored; the plaintext is returned once by
//     TokenManager.CreateToken.
//   - OIDC ID tokens, verified by IDTokenVerifier against the configured
//     issuer and mapped to an existing user by email.
//
// Blocking a user revokes every token the user holds. The request
// middleware also rejects blocked users whose tokens are still valid.
//
// AuthContext.Actor converts an authenticated request into the
// tenancy.Actor passed to the core services.
package auth
