package desk

import (
	"errors"
	"iter"
	"slices"
)

var (
	// ErrNotFound means the connection or client is no longer registered.
	// Callers treat it as "peer already gone".
	ErrNotFound = errors.New("client not found")
	// ErrDuplicateConn is returned when a connection registers twice.
	ErrDuplicateConn = errors.New("connection already registered")
)

// Role distinguishes support requesters from support representatives.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Conn is a duplex message channel owned by the transport. The desk only
// references it; implementations must be comparable (pointer types).
type Conn interface {
	// Send writes one frame. It must not block indefinitely.
	Send(msg any) error
	// Close closes the connection with a WebSocket close code and reason.
	Close(code int, reason string) error
}

// Client is the record kept for every open connection.
type Client struct {
	Role    Role
	ID      string
	Name    string
	Contact string
	// AgentID is set on user records while they are assigned.
	AgentID string

	conn    Conn
	greeted bool // a support-message has been forwarded for this user
}

// Conn returns the connection the record belongs to.
func (c *Client) Conn() Conn { return c.conn }

// Registry maps open connections to their client records. It is not safe
// for concurrent use; the Desk guards it together with the queue and the
// assignment table.
type Registry struct {
	byConn map[Conn]*Client
	users  map[string]*Client // user id -> record
	agents []*Client          // registration order
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[Conn]*Client),
		users:  make(map[string]*Client),
	}
}

// Register records c for conn.
func (r *Registry) Register(conn Conn, c *Client) error {
	if _, ok := r.byConn[conn]; ok {
		return ErrDuplicateConn
	}
	c.conn = conn
	r.byConn[conn] = c
	switch c.Role {
	case RoleAgent:
		r.agents = append(r.agents, c)
	default:
		r.users[c.ID] = c
	}
	return nil
}

// Get returns the record for conn.
func (r *Registry) Get(conn Conn) (*Client, error) {
	c, ok := r.byConn[conn]
	if !ok {
		return nil, ErrNotFound
	}
	return c, nil
}

// Remove forgets conn. Removing an unknown connection is a no-op.
func (r *Registry) Remove(conn Conn) {
	c, ok := r.byConn[conn]
	if !ok {
		return
	}
	delete(r.byConn, conn)
	switch c.Role {
	case RoleAgent:
		r.agents = slices.DeleteFunc(r.agents, func(a *Client) bool { return a == c })
	default:
		if r.users[c.ID] == c {
			delete(r.users, c.ID)
		}
	}
}

// ByRole yields the registered connections of one role. Agents are yielded
// in registration order; user order is unspecified.
func (r *Registry) ByRole(role Role) iter.Seq2[Conn, *Client] {
	return func(yield func(Conn, *Client) bool) {
		if role == RoleAgent {
			for _, a := range r.agents {
				if !yield(a.conn, a) {
					return
				}
			}
			return
		}
		for _, u := range r.users {
			if !yield(u.conn, u) {
				return
			}
		}
	}
}

// FindByID returns the connection of the client with the given role and id.
// Agent lookup scans the (small) agent list.
func (r *Registry) FindByID(role Role, id string) (Conn, error) {
	c, err := r.lookup(role, id)
	if err != nil {
		return nil, err
	}
	return c.conn, nil
}

func (r *Registry) lookup(role Role, id string) (*Client, error) {
	if role == RoleAgent {
		for _, a := range r.agents {
			if a.ID == id {
				return a, nil
			}
		}
		return nil, ErrNotFound
	}
	u, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

// Len returns the number of registered connections of role.
func (r *Registry) Len(role Role) int {
	if role == RoleAgent {
		return len(r.agents)
	}
	return len(r.users)
}
