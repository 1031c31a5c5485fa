package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

// OIDCProvider validates tokens issued by an external identity provider
// using its JWKS. Agents are provisioned in the store on first sight so
// that every agent has a stable internal id.
type OIDCProvider struct {
	issuer   string
	audience string
	jwks     keyfunc.Keyfunc
	store    store.Store
	cancel   context.CancelFunc
}

// NewOIDCProvider fetches the issuer's JWKS and keeps it refreshed until
// Close. jwksURL defaults to issuer + "/.well-known/jwks.json".
func NewOIDCProvider(issuer, jwksURL, audience string, s store.Store) (*OIDCProvider, error) {
	if issuer == "" {
		return nil, fmt.Errorf("oidc issuer URL is required")
	}
	issuer = strings.TrimSuffix(issuer, "/")
	if jwksURL == "" {
		jwksURL = issuer + "/.well-known/jwks.json"
	}

	ctx, cancel := context.WithCancel(context.Background())
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("fetch JWKS from %s: %w", jwksURL, err)
	}

	p := newOIDCProvider(issuer, audience, jwks, s)
	p.cancel = cancel
	return p, nil
}

func newOIDCProvider(issuer, audience string, jwks keyfunc.Keyfunc, s store.Store) *OIDCProvider {
	return &OIDCProvider{issuer: issuer, audience: audience, jwks: jwks, store: s}
}

// ValidateToken parses an IdP token and returns the matching agent identity.
func (p *OIDCProvider) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	opts := []jwt.ParserOption{
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
	}
	if p.audience != "" {
		opts = append(opts, jwt.WithAudience(p.audience))
	}
	token, err := jwt.Parse(tokenStr, p.jwks.KeyfuncCtx(ctx), opts...)
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrUnauthorized
	}

	sub := claimStr(claims, "sub")
	if sub == "" {
		return nil, ErrUnauthorized
	}

	agent, err := p.provision(ctx, sub, claims)
	if err != nil {
		return nil, err
	}
	return identityOf(agent), nil
}

// provision returns the stored agent for subject, creating it if needed.
func (p *OIDCProvider) provision(ctx context.Context, sub string, claims jwt.MapClaims) (*store.Agent, error) {
	agent, err := p.store.GetAgentByExternalID(ctx, sub)
	if err != nil {
		return nil, fmt.Errorf("lookup agent: %w", err)
	}
	if agent != nil {
		return agent, nil
	}

	email := claimStr(claims, "email")
	if email == "" {
		email = sub + "@" + strings.TrimPrefix(strings.TrimPrefix(p.issuer, "https://"), "http://")
	}

	// Build a human-readable name from available claims.
	name := sub
	switch {
	case claimStr(claims, "name") != "":
		name = claimStr(claims, "name")
	case claimStr(claims, "given_name") != "" || claimStr(claims, "family_name") != "":
		name = strings.TrimSpace(claimStr(claims, "given_name") + " " + claimStr(claims, "family_name"))
	case claimStr(claims, "preferred_username") != "":
		name = claimStr(claims, "preferred_username")
	case claimStr(claims, "email") != "":
		name = claimStr(claims, "email")
	}

	role := store.RoleAgent
	if claimStr(claims, "role") == store.RoleAdmin {
		role = store.RoleAdmin
	}

	agent = &store.Agent{
		ID:         uuid.New().String(),
		ExternalID: sub,
		Email:      email,
		Name:       name,
		Role:       role,
		CreatedAt:  time.Now(),
	}
	if err := p.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("provision agent: %w", err)
	}
	return agent, nil
}

// VerifyCredentials always fails; passwords live with the identity provider.
func (p *OIDCProvider) VerifyCredentials(context.Context, string, string) (*Identity, error) {
	return nil, ErrInvalidCredentials
}

// Bootstrap is a no-op (agents are managed externally).
func (p *OIDCProvider) Bootstrap(context.Context) error { return nil }

// Name returns the provider name.
func (p *OIDCProvider) Name() string { return "oidc" }

// Close stops the JWKS background refresh.
func (p *OIDCProvider) Close() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// claimStr extracts a string claim or returns "".
func claimStr(claims jwt.MapClaims, key string) string {
	v, _ := claims[key].(string)
	return v
}
