package auth

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/tenancy"
)

// User is a global identity. Users are not tenant-scoped.
type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Blocked     bool      `json:"blocked"`
	GlobalAdmin bool      `json:"global_admin"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// APIToken represents an API token
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // Never expose hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Method is how a request was authenticated
type Method string

const (
	MethodAPIToken Method = "api_token"
	MethodOIDC     Method = "oidc"
)

// AuthContext holds the authenticated user of a request
type AuthContext struct {
	User   *User
	Token  *APIToken
	Method Method
}

// Actor builds the explicit actor passed into core operations, including
// the request origin that ends up in audit entries.
func (ac *AuthContext) Actor(r *http.Request) tenancy.Actor {
	actor := tenancy.Actor{
		IPAddress: ClientIP(r),
		UserAgent: r.UserAgent(),
	}
	if ac != nil && ac.User != nil {
		actor.UserID = ac.User.ID
		actor.GlobalAdmin = ac.User.GlobalAdmin
	}
	return actor
}

// ClientIP returns the originating address of a request. The first
// X-Forwarded-For hop wins, then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return strings.TrimSpace(realIP)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
