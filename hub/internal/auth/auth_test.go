package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestAuthService(t *testing.T) (*Service, store.Store) {
	t.Helper()
	s := newTestStore(t)
	cfg := config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: 1 * time.Hour},
	}
	return NewService(s, cfg), s
}

func TestBootstrap(t *testing.T) {
	svc, s := newTestAuthService(t)
	ctx := context.Background()

	admin := &config.InitialAdmin{
		Email:    "Admin@Example.com",
		Password: "admin-password",
	}

	// First bootstrap should create the admin agent
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	agent, err := s.GetAgentByEmail(ctx, "admin@example.com")
	if err != nil {
		t.Fatalf("GetAgentByEmail: %v", err)
	}
	if agent == nil {
		t.Fatal("admin agent not created")
	}
	if agent.Role != store.RoleAdmin {
		t.Errorf("Role: got %q, want %q", agent.Role, store.RoleAdmin)
	}
	if agent.Name != "Administrator" {
		t.Errorf("Name: got %q, want default", agent.Name)
	}

	// Second bootstrap should be idempotent (no error, no duplicate)
	if err := svc.BootstrapAdmin(ctx, admin); err != nil {
		t.Fatalf("Bootstrap (idempotent): %v", err)
	}
	agents, err := s.ListAgents(ctx)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent after double bootstrap, got %d", len(agents))
	}

	// Bootstrap with nil should be a no-op
	if err := svc.BootstrapAdmin(ctx, nil); err != nil {
		t.Fatalf("BootstrapAdmin(nil): %v", err)
	}
}

func TestLoginSuccess(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	agent, err := svc.Register(ctx, "bob@example.com", "Bob", "secret123", "")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if agent.Role != store.RoleAgent {
		t.Errorf("default role: got %q", agent.Role)
	}

	token, id, err := svc.Login(ctx, "BOB@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if parts := strings.Split(token, "."); len(parts) != 3 {
		t.Errorf("expected JWT with 3 parts, got %d", len(parts))
	}
	if id.AgentID != agent.ID || id.Name != "Bob" {
		t.Errorf("identity: got %+v", id)
	}
}

func TestVerifyCredentials(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "bob@example.com", "Bob", "secret123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	id, err := svc.VerifyCredentials(ctx, "bob@example.com", "secret123")
	if err != nil {
		t.Fatalf("VerifyCredentials: %v", err)
	}
	if id.Email != "bob@example.com" {
		t.Errorf("Email: got %q", id.Email)
	}

	if _, err := svc.VerifyCredentials(ctx, "bob@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.VerifyCredentials(ctx, "nobody@example.com", "password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown agent: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateToken(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	agent, err := svc.Register(ctx, "carol@example.com", "Carol", "secret123", store.RoleAdmin)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "carol@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	identity, err := svc.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if identity.AgentID != agent.ID {
		t.Errorf("AgentID: got %q, want %q", identity.AgentID, agent.ID)
	}
	if identity.Name != "Carol" {
		t.Errorf("Name: got %q, want %q", identity.Name, "Carol")
	}
	if !identity.IsAdmin() {
		t.Errorf("Role: got %q, want admin", identity.Role)
	}

	if _, err := svc.ValidateToken(ctx, "not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("garbage token: expected ErrUnauthorized, got %v", err)
	}
}

func TestTokenFromOtherSecretRejected(t *testing.T) {
	svc, s := newTestAuthService(t)
	ctx := context.Background()
	if _, err := svc.Register(ctx, "dan@example.com", "Dan", "secret123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}

	other := NewService(s, config.AuthConfig{
		JWTSecret: "another-secret-that-is-32-chars-long",
		JWTExpiry: config.Duration{Duration: time.Hour},
	})
	token, _, err := other.Login(ctx, "dan@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := svc.ValidateToken(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExpiredToken(t *testing.T) {
	s := newTestStore(t)

	// Create a service with an already past expiry
	svc := NewService(s, config.AuthConfig{
		JWTSecret: "test-secret-at-least-32-chars-long",
		JWTExpiry: config.Duration{Duration: -1 * time.Hour},
	})
	ctx := context.Background()

	if _, err := svc.Register(ctx, "erin@example.com", "Erin", "secret123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	token, _, err := svc.Login(ctx, "erin@example.com", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err = svc.ValidateToken(ctx, token)
	if err != ErrUnauthorized {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	svc, _ := newTestAuthService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "alice@example.com", "Alice", "secret123", ""); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, "ALICE@example.com", "Alice 2", "other-password", "")
	if !errors.Is(err, ErrAgentExists) {
		t.Errorf("expected ErrAgentExists, got %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	s := newTestStore(t)

	p, err := NewProvider(config.AuthConfig{JWTSecret: "test-secret-at-least-32-chars-long"}, s)
	if err != nil {
		t.Fatalf("NewProvider(builtin): %v", err)
	}
	if p.Name() != "builtin" {
		t.Errorf("Name: got %q", p.Name())
	}
	if _, ok := p.(LoginProvider); !ok {
		t.Error("builtin provider should support login")
	}

	if _, err := NewProvider(config.AuthConfig{Provider: "ldap"}, s); err == nil {
		t.Error("expected error for unknown provider")
	}
}

// --- OIDC ---

const testIssuer = "https://id.example.com"

func newTestOIDC(t *testing.T) (*OIDCProvider, *rsa.PrivateKey, store.Store) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	e := big.NewInt(int64(key.PublicKey.E)).Bytes()
	set, err := json.Marshal(map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "test-key",
			"alg": "RS256",
			"use": "sig",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(e),
		}},
	})
	if err != nil {
		t.Fatal(err)
	}
	jwks, err := keyfunc.NewJWKSetJSON(set)
	if err != nil {
		t.Fatalf("NewJWKSetJSON: %v", err)
	}
	s := newTestStore(t)
	return newOIDCProvider(testIssuer, "supportdesk", jwks, s), key, s
}

func signIDToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "test-key"
	signed, err := tok.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestOIDCProvisionsAgent(t *testing.T) {
	p, key, s := newTestOIDC(t)
	ctx := context.Background()

	claims := jwt.MapClaims{
		"iss":   testIssuer,
		"aud":   "supportdesk",
		"sub":   "user-123",
		"email": "Frank@Example.com",
		"name":  "Frank",
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	id, err := p.ValidateToken(ctx, signIDToken(t, key, claims))
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if id.Name != "Frank" || id.Email != "frank@example.com" || id.Role != store.RoleAgent {
		t.Errorf("identity: got %+v", id)
	}

	// The same subject maps to the same agent.
	again, err := p.ValidateToken(ctx, signIDToken(t, key, claims))
	if err != nil {
		t.Fatalf("ValidateToken (again): %v", err)
	}
	if again.AgentID != id.AgentID {
		t.Errorf("AgentID changed: %q vs %q", again.AgentID, id.AgentID)
	}
	agents, _ := s.ListAgents(ctx)
	if len(agents) != 1 || agents[0].ExternalID != "user-123" {
		t.Errorf("agents: got %+v", agents)
	}
}

func TestOIDCRejectsBadTokens(t *testing.T) {
	p, key, _ := newTestOIDC(t)
	ctx := context.Background()

	cases := map[string]jwt.MapClaims{
		"wrong issuer":   {"iss": "https://evil.example.com", "aud": "supportdesk", "sub": "x", "exp": time.Now().Add(time.Hour).Unix()},
		"wrong audience": {"iss": testIssuer, "aud": "other", "sub": "x", "exp": time.Now().Add(time.Hour).Unix()},
		"expired":        {"iss": testIssuer, "aud": "supportdesk", "sub": "x", "exp": time.Now().Add(-time.Hour).Unix()},
		"no expiry":      {"iss": testIssuer, "aud": "supportdesk", "sub": "x"},
		"no subject":     {"iss": testIssuer, "aud": "supportdesk", "exp": time.Now().Add(time.Hour).Unix()},
	}
	for name, claims := range cases {
		if _, err := p.ValidateToken(ctx, signIDToken(t, key, claims)); !errors.Is(err, ErrUnauthorized) {
			t.Errorf("%s: expected ErrUnauthorized, got %v", name, err)
		}
	}

	if _, err := p.VerifyCredentials(ctx, "a@example.com", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("VerifyCredentials: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	if _, ok := BearerToken(r); ok {
		t.Error("missing header accepted")
	}
	for _, h := range []string{"Bearer abc", "bearer abc", "BEARER  abc "} {
		r.Header.Set("Authorization", h)
		if tok, ok := BearerToken(r); !ok || tok != "abc" {
			t.Errorf("%q: got %q %v", h, tok, ok)
		}
	}
	for _, h := range []string{"Basic abc", "Bearer ", "Bearerabc"} {
		r.Header.Set("Authorization", h)
		if _, ok := BearerToken(r); ok {
			t.Errorf("%q accepted", h)
		}
	}
}
