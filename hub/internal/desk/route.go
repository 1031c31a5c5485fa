package desk

import (
	"context"
	"errors"
	"fmt"

	"github.com/amurg-ai/supportdesk/hub/internal/events"
	"github.com/amurg-ai/supportdesk/pkg/protocol"
)

// processFailed is the notice sent back for frames that cannot be decoded.
const processFailed = "could not process message"

// Route handles one inbound frame from conn. Frames from unregistered
// connections, of unknown kinds, or not valid for the sender's role are
// dropped. Malformed frames earn the sender an error notice.
func (d *Desk) Route(ctx context.Context, conn Conn, frame []byte) {
	msg, decodeErr := protocol.DecodeInbound(frame)

	var out outbox
	d.mu.Lock()
	sender, err := d.reg.Get(conn)
	if err != nil {
		d.mu.Unlock()
		return
	}

	switch {
	case errors.Is(decodeErr, protocol.ErrUnknownType):
		d.logger.Debug("dropping unknown message type", "id", sender.ID, "error", decodeErr)
	case decodeErr != nil:
		d.logger.Debug("malformed message", "id", sender.ID, "error", decodeErr)
		out.send(conn, protocol.Notice{Type: protocol.TypeError, Message: processFailed})
	default:
		d.dispatch(&out, sender, msg)
	}
	d.mu.Unlock()

	d.flush(ctx, &out)
}

func (d *Desk) dispatch(out *outbox, sender *Client, msg protocol.Inbound) {
	switch m := msg.(type) {
	case *protocol.SupportMessage:
		if sender.Role == RoleUser {
			d.forwardToAgent(out, sender, m)
			return
		}
	case *protocol.SupportReply:
		if sender.Role == RoleAgent {
			d.forwardToUser(out, sender, m)
			return
		}
	case *protocol.ClaimUser:
		if sender.Role == RoleAgent {
			if err := d.claim(out, sender, m.UserID); err != nil {
				d.logger.Debug("claim refused", "agent_id", sender.ID, "user_id", m.UserID, "error", err)
			}
			return
		}
	case *protocol.SupportEnd:
		if sender.Role == RoleAgent {
			d.endSessions(out, sender, m.UserID)
			return
		}
	}
	d.logger.Debug("dropping message not valid for role", "role", string(sender.Role), "type", msg.Kind())
}

func (d *Desk) forwardToAgent(out *outbox, u *Client, m *protocol.SupportMessage) {
	agentID, ok := d.table.AgentOf(u.ID)
	if !ok {
		d.logger.Debug("user has no agent, dropping message", "user_id", u.ID)
		return
	}
	agent, err := d.reg.lookup(RoleAgent, agentID)
	if err != nil {
		return
	}
	out.send(agent.conn, protocol.ForwardedMessage{
		Type:           protocol.TypeSupportMessage,
		UserID:         u.ID,
		UserName:       u.Name,
		ContactNumber:  u.Contact,
		Message:        m.Message,
		IsFirstMessage: !u.greeted,
	})
	u.greeted = true
}

// forwardToUser delivers a reply to the user named in it. The target is
// looked up in the registry, not the assignment table.
func (d *Desk) forwardToUser(out *outbox, agent *Client, m *protocol.SupportReply) {
	u, err := d.reg.lookup(RoleUser, m.UserID)
	if err != nil {
		d.logger.Debug("reply target not connected", "agent_id", agent.ID, "user_id", m.UserID)
		return
	}
	out.send(u.conn, protocol.ForwardedReply{
		Type:    protocol.TypeSupportReply,
		Agent:   agent.Name,
		AgentID: agent.ID,
		Message: m.Message,
	})
}

// claim assigns a pending user to agent. Nothing changes and nobody is
// notified unless the whole claim succeeds.
func (d *Desk) claim(out *outbox, agent *Client, userID string) error {
	if !d.queue.Contains(userID) {
		return fmt.Errorf("%w: %s", ErrNotPending, userID)
	}
	u, err := d.reg.lookup(RoleUser, userID)
	if err != nil {
		return err
	}
	if err := d.table.Assign(agent.ID, userID); err != nil {
		return err
	}
	d.queue.Remove(userID)
	d.notifyAssigned(out, agent, u, "claim", true)
	d.logger.Info("user claimed", "user_id", userID, "agent_id", agent.ID, "load", d.table.Load(agent.ID))
	return nil
}

// endSessions ends the named session, or all of the agent's sessions when
// userID is empty. Ended users stay connected and are not re-queued.
func (d *Desk) endSessions(out *outbox, agent *Client, userID string) {
	var targets []string
	if userID == "" {
		targets = d.table.UsersOf(agent.ID)
	} else if owner, ok := d.table.AgentOf(userID); ok && owner == agent.ID {
		targets = []string{userID}
	} else {
		d.logger.Debug("end for user not assigned to agent", "agent_id", agent.ID, "user_id", userID)
		return
	}

	for _, id := range targets {
		d.table.Release(id)
		if u, err := d.reg.lookup(RoleUser, id); err == nil {
			u.AgentID = ""
			out.send(u.conn, protocol.SessionEnded{
				Type:   protocol.TypeSupportEnd,
				Reason: protocol.EndedByAgent,
				Agent:  agent.Name,
			})
		}
		out.send(agent.conn, protocol.EndAck{Type: protocol.TypeSupportEnd, UserID: id})
		out.emit(events.SessionEnded, agent.ID, id, map[string]any{"reason": protocol.EndedByAgent})
	}
	if len(targets) > 0 {
		d.drain(out)
	}
}
