// Package api provides the HTTP API and middleware for the hub.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/amurg-ai/supportdesk/hub/internal/auth"
	"github.com/amurg-ai/supportdesk/hub/internal/config"
	"github.com/amurg-ai/supportdesk/hub/internal/desk"
	"github.com/amurg-ai/supportdesk/hub/internal/router"
	"github.com/amurg-ai/supportdesk/hub/internal/store"
)

const minPasswordLen = 8

// Server is the HTTP API server.
type Server struct {
	store             store.Store
	authProvider      auth.Provider
	loginProvider     auth.LoginProvider
	desk              *desk.Desk
	logger            *slog.Logger
	mux               *chi.Mux
	startTime         time.Time
	maxBodyBytes      int64
	allowRegistration bool
	accountLimit      *keyedLimiter
	agentLimit        *keyedLimiter
}

// NewServer creates a new API server. Login and registration routes are
// only mounted when the auth provider issues its own tokens.
func NewServer(s store.Store, ap auth.Provider, d *desk.Desk, rt *router.Router, cfg *config.Config, logger *slog.Logger) *Server {
	lp, _ := ap.(auth.LoginProvider)
	srv := &Server{
		store:             s,
		authProvider:      ap,
		loginProvider:     lp,
		desk:              d,
		logger:            logger.With("component", "api"),
		startTime:         time.Now(),
		maxBodyBytes:      cfg.Server.MaxBodyBytes,
		allowRegistration: cfg.Auth.AllowRegistration,
	}

	mux := chi.NewRouter()
	mux.Use(chimw.Recoverer)
	mux.Use(chimw.RealIP)
	mux.Use(withSecurityHeaders)
	mux.Use(newCORSPolicy(cfg.Server.AllowedOrigins).handler)

	// Health check routes (unauthenticated)
	mux.Get("/healthz", srv.handleHealthz)
	mux.Get("/readyz", srv.handleReadyz)

	mux.Get("/api/auth/config", srv.handleAuthConfig)

	// Login and registration share one per-IP budget.
	srv.accountLimit = newKeyedLimiter(5, 10)
	byIP := limitBy(srv.accountLimit, clientIP, "too many attempts")
	if lp != nil {
		mux.With(byIP).Post("/api/agents/login", srv.handleLogin)
	}
	mux.With(byIP).Post("/api/agents/register", srv.handleRegister)

	// WebSocket (auth handled inside)
	mux.Get("/ws", rt.HandleWS)

	// Authenticated API routes
	srv.agentLimit = newKeyedLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	mux.Group(func(r chi.Router) {
		r.Use(srv.requireAgent)
		r.Use(limitBy(srv.agentLimit, agentKey, "rate limit exceeded"))

		r.Get("/api/me", srv.handleGetMe)
		r.Get("/api/queue", srv.handleQueue)
		r.Get("/api/stats", srv.handleStats)

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(srv.requireAdmin)
			r.Get("/api/admin/agents", srv.handleListAgents)
			if lp != nil {
				r.Post("/api/admin/agents", srv.handleCreateAgent)
			}
			r.Get("/api/admin/audit", srv.handleAdminListAuditEvents)
		})
	})

	srv.mux = mux
	return srv
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// StartBackgroundTasks sweeps idle rate-limit buckets until ctx is done.
func (s *Server) StartBackgroundTasks(ctx context.Context) {
	s.accountLimit.runSweeper(ctx, 5*time.Minute, 10*time.Minute)
	s.agentLimit.runSweeper(ctx, 5*time.Minute, 10*time.Minute)
}

// --- Auth handlers ---

func (s *Server) handleAuthConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":     s.authProvider.Name(),
		"registration": s.allowRegistration && s.loginProvider != nil,
	})
}

type credentials struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Password string `json:"password"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) decodeCredentials(w http.ResponseWriter, r *http.Request) (*credentials, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBodyBytes)
	var req credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return nil, false
	}
	req.Email = store.NormalizeEmail(req.Email)
	if !strings.Contains(req.Email, "@") || len(req.Email) > 254 {
		writeError(w, http.StatusBadRequest, "a valid email is required")
		return nil, false
	}
	return &req, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}

	token, identity, err := s.loginProvider.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.audit(r.Context(), "login.failed", "", map[string]string{"email": req.Email})
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	s.audit(r.Context(), "login.success", identity.AgentID, nil)

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "agent": identity})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if !s.allowRegistration || s.loginProvider == nil {
		writeError(w, http.StatusForbidden, "registration is disabled")
		return
	}
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	// Self-registered accounts are never admins.
	s.createAgent(w, r, req, store.RoleAgent)
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identityFrom(r.Context()))
}

// --- Desk handlers ---

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.desk.Pending())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.desk.Stats())
}

// --- Admin handlers ---

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.store.ListAgents(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list agents")
		return
	}
	if agents == nil {
		agents = []store.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeCredentials(w, r)
	if !ok {
		return
	}
	role := req.Role
	switch role {
	case "":
		role = store.RoleAgent
	case store.RoleAgent, store.RoleAdmin:
	default:
		writeError(w, http.StatusBadRequest, "role must be agent or admin")
		return
	}
	s.createAgent(w, r, req, role)
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request, req *credentials, role string) {
	if len(req.Password) < minPasswordLen {
		writeError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	agent, err := s.loginProvider.Register(r.Context(), req.Email, req.Name, req.Password, role)
	if err != nil {
		if errors.Is(err, auth.ErrAgentExists) {
			writeError(w, http.StatusConflict, "an agent with this email already exists")
			return
		}
		s.logger.Error("failed to create agent", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create agent")
		return
	}

	actor := agent.ID
	if id := identityFrom(r.Context()); id != nil {
		actor = id.AgentID
	}
	s.audit(r.Context(), "agent.created", actor, map[string]string{"agent_id": agent.ID, "role": role})
	writeJSON(w, http.StatusCreated, agent)
}

func (s *Server) handleAdminListAuditEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 50
	offset := 0
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	events, err := s.store.ListAuditEvents(r.Context(), store.AuditFilter{
		Action:  q.Get("action"),
		AgentID: q.Get("agent_id"),
		UserID:  q.Get("user_id"),
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list audit events")
		return
	}
	if events == nil {
		events = []store.AuditEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

// --- Health handlers ---

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"uptime": time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// --- Helpers ---

// audit records an API-side audit event. Failures are logged only.
func (s *Server) audit(ctx context.Context, action, agentID string, detail any) {
	var raw json.RawMessage
	if detail != nil {
		raw, _ = json.Marshal(detail)
	}
	if err := s.store.LogAuditEvent(ctx, &store.AuditEvent{
		ID:        uuid.New().String(),
		Action:    action,
		AgentID:   agentID,
		Detail:    raw,
		CreatedAt: time.Now(),
	}); err != nil {
		s.logger.Warn("failed to log audit event", "action", action, "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
