package desk

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/amurg-ai/supportdesk/hub/internal/events"
	"github.com/amurg-ai/supportdesk/pkg/protocol"
)

const (
	maxNameRunes    = 50
	maxContactRunes = 50
	anonymousName   = "Anonymous"
)

// Handshake carries what a client declared when it connected. For agents
// ID and Name come from the authenticated identity.
type Handshake struct {
	Role    Role
	ID      string
	Name    string
	Contact string
}

// SanitizeName trims a display name and caps it at 50 characters. Empty
// names and placeholder literals become "Anonymous".
func SanitizeName(name string) string {
	name = truncate(strings.TrimSpace(name), maxNameRunes)
	switch strings.ToLower(name) {
	case "", "undefined", "null", "anonymous":
		return anonymousName
	}
	return name
}

// SanitizeContact trims a contact number and caps it at 50 characters.
func SanitizeContact(contact string) string {
	return truncate(strings.TrimSpace(contact), maxContactRunes)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:n]))
}

func newUserID() string { return "user_" + uuid.New().String() }

// Connect registers a new connection. Agents get the current queue and, in
// auto mode, pull waiting users. Users are queued or assigned according to
// the policy. A user turned away under the disconnect policy is closed,
// never registered, and ErrNoAgents is returned.
func (d *Desk) Connect(ctx context.Context, conn Conn, hs Handshake) (*Client, error) {
	var out outbox
	d.mu.Lock()
	var (
		c   *Client
		err error
	)
	if hs.Role == RoleAgent {
		c, err = d.connectAgent(&out, conn, hs)
	} else {
		c, err = d.connectUser(&out, conn, hs)
	}
	d.mu.Unlock()
	d.flush(ctx, &out)
	return c, err
}

func (d *Desk) connectAgent(out *outbox, conn Conn, hs Handshake) (*Client, error) {
	if old, err := d.reg.lookup(RoleAgent, hs.ID); err == nil {
		d.logger.Info("agent reconnected, replacing previous connection", "agent_id", hs.ID)
		d.agentLeave(out, old)
		d.reg.Remove(old.conn)
		out.close(old.conn, protocol.CloseReplaced, protocol.ReasonReplaced)
	}

	c := &Client{Role: RoleAgent, ID: hs.ID, Name: strings.TrimSpace(hs.Name)}
	if c.Name == "" {
		c.Name = hs.ID
	}
	if err := d.reg.Register(conn, c); err != nil {
		return nil, err
	}
	out.send(conn, protocol.AgentConnected{
		Type:      protocol.TypeAgentConnected,
		AgentID:   c.ID,
		AgentName: c.Name,
		Capacity:  d.table.Capacity(),
	})
	out.emit(events.AgentConnected, c.ID, "", map[string]any{"name": c.Name})

	d.drain(out)
	for _, e := range d.queue.Entries() {
		out.send(conn, newUserWaiting(e))
	}

	d.logger.Info("agent connected", "agent_id", c.ID, "agents", d.reg.Len(RoleAgent))
	return c, nil
}

func (d *Desk) connectUser(out *outbox, conn Conn, hs Handshake) (*Client, error) {
	c := &Client{
		Role:    RoleUser,
		ID:      strings.TrimSpace(hs.ID),
		Name:    SanitizeName(hs.Name),
		Contact: SanitizeContact(hs.Contact),
	}
	if c.ID == "" {
		c.ID = newUserID()
	} else if _, err := d.reg.lookup(RoleUser, c.ID); err == nil {
		d.logger.Info("user id in use, generating a new one", "requested_id", c.ID)
		c.ID = newUserID()
	}

	var agent *Client
	if d.assignment == AssignAuto {
		agent = d.firstAvailableAgent()
		if agent == nil && d.unavailable == UnavailableDisconnect {
			out.send(conn, protocol.Notice{Type: protocol.TypeNoAgentsAvailable, Message: protocol.ReasonNoAgents})
			out.close(conn, protocol.CloseNormal, protocol.ReasonNoAgents)
			out.emit(events.UserRejected, "", c.ID, map[string]any{"reason": protocol.ReasonNoAgents})
			d.logger.Info("user rejected, no agents available", "user_id", c.ID)
			return nil, ErrNoAgents
		}
	}

	if err := d.reg.Register(conn, c); err != nil {
		return nil, err
	}
	out.send(conn, protocol.UserConnected{Type: protocol.TypeUserConnected, UserID: c.ID, UserName: c.Name})
	out.emit(events.UserConnected, "", c.ID, map[string]any{"name": c.Name})

	if agent != nil {
		if err := d.table.Assign(agent.ID, c.ID); err != nil {
			// firstAvailableAgent checked capacity under the same lock.
			return c, err
		}
		d.notifyAssigned(out, agent, c, "auto", false)
		d.logger.Info("user connected", "user_id", c.ID, "agent_id", agent.ID)
		return c, nil
	}

	if d.assignment == AssignAuto {
		out.send(conn, protocol.Notice{Type: protocol.TypeNoAgentsAvailable, Message: protocol.ReasonNoAgents})
	}
	e := PendingEntry{UserID: c.ID, Name: c.Name, Contact: c.Contact, Since: time.Now()}
	d.queue.Push(e)
	for agentConn := range d.reg.ByRole(RoleAgent) {
		out.send(agentConn, newUserWaiting(e))
	}
	out.emit(events.UserQueued, "", c.ID, map[string]any{"position": d.queue.Len()})
	d.logger.Info("user connected", "user_id", c.ID, "pending", d.queue.Len())
	return c, nil
}

// Disconnect tears down everything tied to conn. Closing and transport
// errors are handled alike; calling it again for the same conn is a no-op.
func (d *Desk) Disconnect(ctx context.Context, conn Conn) {
	var out outbox
	d.mu.Lock()
	c, err := d.reg.Get(conn)
	if err != nil {
		d.mu.Unlock()
		return
	}
	if c.Role == RoleAgent {
		d.agentLeave(&out, c)
	} else {
		d.userLeave(&out, c)
	}
	d.reg.Remove(conn)
	d.mu.Unlock()

	d.logger.Info("client disconnected", "role", string(c.Role), "id", c.ID)
	d.flush(ctx, &out)
}

// agentLeave ends every session of agent a. The registry entry is left for
// the caller to remove.
func (d *Desk) agentLeave(out *outbox, a *Client) {
	for _, userID := range d.table.ReleaseAgent(a.ID) {
		u, err := d.reg.lookup(RoleUser, userID)
		if err != nil {
			continue
		}
		u.AgentID = ""
		out.send(u.conn, protocol.SessionEnded{
			Type:   protocol.TypeSupportEnd,
			Reason: protocol.EndedDisconnected,
			Agent:  a.Name,
		})
		out.emit(events.SessionEnded, a.ID, u.ID, map[string]any{"reason": protocol.EndedDisconnected})
	}
	out.emit(events.AgentDisconnected, a.ID, "", nil)
}

func (d *Desk) userLeave(out *outbox, u *Client) {
	if _, ok := d.queue.Remove(u.ID); ok {
		for agentConn := range d.reg.ByRole(RoleAgent) {
			out.send(agentConn, userDisconnected(u))
		}
	}
	if agentID, ok := d.table.Release(u.ID); ok {
		u.AgentID = ""
		if agent, err := d.reg.lookup(RoleAgent, agentID); err == nil {
			out.send(agent.conn, userDisconnected(u))
		}
		out.emit(events.SessionEnded, agentID, u.ID, map[string]any{"reason": "user-disconnected"})
		d.drain(out)
	}
	out.emit(events.UserDisconnected, "", u.ID, nil)
}

// firstAvailableAgent returns the earliest-registered agent with spare
// capacity, or nil.
func (d *Desk) firstAvailableAgent() *Client {
	for _, a := range d.reg.ByRole(RoleAgent) {
		if d.table.HasCapacity(a.ID) {
			return a
		}
	}
	return nil
}

// drain moves waiting users to agents with spare capacity, oldest first.
// It only runs under the auto policy.
func (d *Desk) drain(out *outbox) {
	if d.assignment != AssignAuto {
		return
	}
	for {
		e, ok := d.queue.Front()
		if !ok {
			return
		}
		agent := d.firstAvailableAgent()
		if agent == nil {
			return
		}
		u, err := d.reg.lookup(RoleUser, e.UserID)
		if err != nil {
			d.queue.Remove(e.UserID)
			continue
		}
		if err := d.table.Assign(agent.ID, u.ID); err != nil {
			d.logger.Warn("auto assignment failed", "user_id", u.ID, "agent_id", agent.ID, "error", err)
			return
		}
		d.queue.Remove(u.ID)
		d.notifyAssigned(out, agent, u, "auto", true)
	}
}

// notifyAssigned records the assignment on the user and queues the frames
// for both sides. The agent is told first so it knows the user before any
// reply the user sends on seeing agent-assigned. When the user came from the
// queue, the other agents are told to retract it.
func (d *Desk) notifyAssigned(out *outbox, agent, u *Client, via string, fromQueue bool) {
	u.AgentID = agent.ID
	out.send(agent.conn, protocol.UserAssigned{
		Type:          protocol.TypeUserAssigned,
		UserID:        u.ID,
		UserName:      u.Name,
		ContactNumber: u.Contact,
	})
	out.send(u.conn, protocol.AgentAssigned{
		Type:    protocol.TypeAgentAssigned,
		Agent:   agent.Name,
		AgentID: agent.ID,
	})
	if fromQueue {
		for other := range d.reg.ByRole(RoleAgent) {
			if other == agent.conn {
				continue
			}
			out.send(other, protocol.UserClaimed{
				Type:      protocol.TypeUserClaimed,
				UserID:    u.ID,
				AgentID:   agent.ID,
				AgentName: agent.Name,
			})
		}
	}
	out.emit(events.SessionAssigned, agent.ID, u.ID, map[string]any{"via": via})
}

func newUserWaiting(e PendingEntry) protocol.NewUserWaiting {
	return protocol.NewUserWaiting{
		Type:          protocol.TypeNewUserWaiting,
		UserID:        e.UserID,
		UserName:      e.Name,
		ContactNumber: e.Contact,
	}
}

func userDisconnected(u *Client) protocol.UserDisconnected {
	return protocol.UserDisconnected{Type: protocol.TypeUserDisconnected, UserID: u.ID, UserName: u.Name}
}
