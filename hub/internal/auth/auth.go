// Package auth authenticates support agents for the hub.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAgentExists        = store.ErrAgentExists
	ErrNotSupported       = errors.New("not supported by this auth provider")
)

// Claims represents the JWT token claims.
type Claims struct {
	AgentID string `json:"aid"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// Service is the builtin provider: bcrypt passwords in the store and
// HS256 tokens. It implements Provider and LoginProvider.
type Service struct {
	store        store.Store
	jwtSecret    []byte
	jwtExpiry    time.Duration
	initialAdmin *config.InitialAdmin
}

// NewService creates a new auth service.
func NewService(s store.Store, cfg config.AuthConfig) *Service {
	return &Service{
		store:        s,
		jwtSecret:    []byte(cfg.JWTSecret),
		jwtExpiry:    cfg.JWTExpiry.Duration,
		initialAdmin: cfg.InitialAdmin,
	}
}

// Bootstrap creates the configured initial admin if it does not exist yet.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.BootstrapAdmin(ctx, s.initialAdmin)
}

// BootstrapAdmin creates the initial admin agent from the given config.
func (s *Service) BootstrapAdmin(ctx context.Context, admin *config.InitialAdmin) error {
	if admin == nil {
		return nil
	}

	existing, err := s.store.GetAgentByEmail(ctx, admin.Email)
	if err != nil {
		return fmt.Errorf("check existing agent: %w", err)
	}
	if existing != nil {
		return nil // already bootstrapped
	}

	name := admin.Name
	if name == "" {
		name = "Administrator"
	}
	_, err = s.Register(ctx, admin.Email, name, admin.Password, store.RoleAdmin)
	return err
}

// Name returns the provider name.
func (s *Service) Name() string { return "builtin" }

// Close is a no-op.
func (s *Service) Close() error { return nil }

// VerifyCredentials checks an email/password pair.
func (s *Service) VerifyCredentials(ctx context.Context, email, password string) (*Identity, error) {
	agent, err := s.store.GetAgentByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if agent == nil || agent.PasswordHash == "" {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return identityOf(agent), nil
}

// Login verifies credentials and returns a signed token for the agent.
func (s *Service) Login(ctx context.Context, email, password string) (string, *Identity, error) {
	id, err := s.VerifyCredentials(ctx, email, password)
	if err != nil {
		return "", nil, err
	}
	token, err := s.generateToken(id)
	if err != nil {
		return "", nil, fmt.Errorf("sign token: %w", err)
	}
	return token, id, nil
}

// Register creates a new agent account.
func (s *Service) Register(ctx context.Context, email, name, password, role string) (*store.Agent, error) {
	email = store.NormalizeEmail(email)
	existing, err := s.store.GetAgentByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check existing: %w", err)
	}
	if existing != nil {
		return nil, ErrAgentExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	if role == "" {
		role = store.RoleAgent
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = email
	}

	agent := &store.Agent{
		ID:           uuid.New().String(),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Role:         role,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateAgent(ctx, agent); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return agent, nil
}

// ValidateToken validates a bearer token and returns an Identity.
func (s *Service) ValidateToken(ctx context.Context, tokenStr string) (*Identity, error) {
	claims, err := s.validateJWT(tokenStr)
	if err != nil {
		return nil, err
	}
	return &Identity{
		AgentID: claims.AgentID,
		Name:    claims.Name,
		Email:   claims.Email,
		Role:    claims.Role,
	}, nil
}

// validateJWT validates a JWT token and returns the claims.
func (s *Service) validateJWT(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.jwtSecret, nil
	})
	if err != nil {
		return nil, ErrUnauthorized
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.AgentID == "" {
		return nil, ErrUnauthorized
	}
	return claims, nil
}

func (s *Service) generateToken(id *Identity) (string, error) {
	now := time.Now()
	claims := &Claims{
		AgentID: id.AgentID,
		Name:    id.Name,
		Email:   id.Email,
		Role:    id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.AgentID,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.jwtExpiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

func identityOf(a *store.Agent) *Identity {
	return &Identity{AgentID: a.ID, Name: a.Name, Email: a.Email, Role: a.Role}
}
