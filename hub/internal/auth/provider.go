package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

// Identity is the unified identity representation for all auth providers.
type Identity struct {
	AgentID string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email,omitempty"`
	Role    string `json:"role"` // "admin" or "agent"
}

// IsAdmin reports whether the identity may use admin endpoints.
func (i *Identity) IsAdmin() bool { return i.Role == store.RoleAdmin }

// BearerToken extracts the token from an "Authorization: Bearer" header.
// The scheme is matched case-insensitively.
func BearerToken(r *http.Request) (string, bool) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Authenticator resolves agent credentials to an identity. Both methods fail
// with ErrInvalidCredentials or ErrUnauthorized.
type Authenticator interface {
	VerifyCredentials(ctx context.Context, email, password string) (*Identity, error)
	ValidateToken(ctx context.Context, token string) (*Identity, error)
}

// Provider is an Authenticator the hub can start and stop.
type Provider interface {
	Authenticator
	Bootstrap(ctx context.Context) error
	Name() string
	Close() error
}

// LoginProvider is implemented by providers that issue their own tokens.
type LoginProvider interface {
	Login(ctx context.Context, email, password string) (string, *Identity, error)
	Register(ctx context.Context, email, name, password, role string) (*store.Agent, error)
}
