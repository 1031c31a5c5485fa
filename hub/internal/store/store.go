// Package store persists agent accounts and the audit log, with SQLite and
// PostgreSQL implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// ErrAgentExists is returned by CreateAgent for a taken email address.
var ErrAgentExists = errors.New("agent already exists")

// Store is the persistence interface for the hub. Lookups return (nil, nil)
// when nothing matches.
type Store interface {
	// Agents
	CreateAgent(ctx context.Context, agent *Agent) error
	GetAgentByEmail(ctx context.Context, email string) (*Agent, error)
	GetAgentByID(ctx context.Context, id string) (*Agent, error)
	GetAgentByExternalID(ctx context.Context, externalID string) (*Agent, error)
	ListAgents(ctx context.Context) ([]Agent, error)

	// Audit
	LogAuditEvent(ctx context.Context, event *AuditEvent) error
	ListAuditEvents(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	PurgeOldAuditEvents(ctx context.Context, before time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Agent roles.
const (
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// Agent is a support representative account.
type Agent struct {
	ID           string    `json:"id"`
	ExternalID   string    `json:"external_id,omitempty"` // identity provider subject
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// AuditEvent is one recorded lifecycle fact.
type AuditEvent struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	AgentID   string          `json:"agent_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// AuditFilter narrows ListAuditEvents. Action matches by prefix, so
// "session." selects every session event.
type AuditFilter struct {
	Action  string
	AgentID string
	UserID  string
	Limit   int
	Offset  int
}

// NormalizeEmail lower-cases and trims an address for storage and lookup.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

const (
	agentColumns = "id, external_id, email, name, password_hash, role, created_at"
	auditColumns = "id, action, agent_id, user_id, detail, created_at"
)

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.ExternalID, &a.Email, &a.Name, &a.PasswordHash, &a.Role, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanAgents(rows *sql.Rows) ([]Agent, error) {
	defer func() { _ = rows.Close() }()
	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}

func scanAuditEvents(rows *sql.Rows) ([]AuditEvent, error) {
	defer func() { _ = rows.Close() }()
	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		var detail string
		if err := rows.Scan(&e.ID, &e.Action, &e.AgentID, &e.UserID, &detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		if detail != "" {
			e.Detail = json.RawMessage(detail)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// auditQuery builds the filtered audit listing. placeholder renders the
// n-th bind parameter in the driver's syntax.
func auditQuery(filter AuditFilter, placeholder func(n int) string) (string, []any) {
	query := "SELECT " + auditColumns + " FROM audit_events WHERE 1=1"
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		query += clause + placeholder(len(args))
	}

	if filter.Action != "" {
		add(" AND action LIKE ", filter.Action+"%")
	}
	if filter.AgentID != "" {
		add(" AND agent_id = ", filter.AgentID)
	}
	if filter.UserID != "" {
		add(" AND user_id = ", filter.UserID)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	add(" LIMIT ", limit)
	if filter.Offset > 0 {
		add(" OFFSET ", filter.Offset)
	}
	return query, args
}

func auditDetail(e *AuditEvent) string {
	if e.Detail == nil {
		return ""
	}
	return string(e.Detail)
}
