// Package desk is the session routing core of the support hub. It keeps the
// registry of open connections, the queue of users waiting for an agent and
// the table of active agent/user sessions, and decides which frames go where.
//
// The Desk never touches the network itself. Every event computes the frames
// it produces while holding the desk lock; they are written to the
// connections after the lock is released.
package desk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/amurg-ai/supportdesk/hub/internal/events"
)

// Assignment policies.
const (
	AssignClaim = "claim" // agents pick users from the queue
	AssignAuto  = "auto"  // users go to the first agent with spare capacity
)

// What to do with a user that auto assignment cannot place.
const (
	UnavailableQueue      = "queue"
	UnavailableDisconnect = "disconnect"
)

// ErrNotPending means a claimed user is not (or no longer) waiting.
var ErrNotPending = errors.New("user not pending")

// ErrNoAgents is returned by Connect when a user is turned away because no
// agent can take it.
var ErrNoAgents = errors.New("no agents available")

// Options configures a Desk.
type Options struct {
	Capacity        int
	Assignment      string
	WhenUnavailable string
	// Events receives lifecycle events from a background worker, so a slow
	// sink never holds up routing.
	Events       events.Sink
	EventBuffer  int           // default 1024
	EventTimeout time.Duration // per-event publish deadline; default 5s
	Logger       *slog.Logger
}

// Desk routes support sessions between users and agents. It is safe for
// concurrent use by one goroutine per connection.
type Desk struct {
	assignment  string
	unavailable string
	sink        events.Sink
	async       *events.Async // nil when events are discarded
	logger      *slog.Logger

	mu    sync.Mutex
	reg   *Registry
	queue *PendingQueue
	table *AssignmentTable
}

// New creates a Desk. Zero options fall back to capacity 3, claim
// assignment and queueing of unplaceable users.
func New(opts Options) *Desk {
	if opts.Capacity < 1 {
		opts.Capacity = 3
	}
	if opts.Assignment == "" {
		opts.Assignment = AssignClaim
	}
	if opts.WhenUnavailable == "" {
		opts.WhenUnavailable = UnavailableQueue
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	d := &Desk{
		assignment:  opts.Assignment,
		unavailable: opts.WhenUnavailable,
		sink:        events.Discard{},
		logger:      opts.Logger.With("component", "desk"),
		reg:         NewRegistry(),
		queue:       NewPendingQueue(),
		table:       NewAssignmentTable(opts.Capacity),
	}
	if _, discard := opts.Events.(events.Discard); opts.Events != nil && !discard {
		d.async = events.NewAsync(opts.Events, events.AsyncOptions{
			Buffer:  opts.EventBuffer,
			Timeout: opts.EventTimeout,
			Logger:  opts.Logger,
		})
		d.sink = d.async
	}
	return d
}

// Close stops event delivery, waiting for queued events until ctx is done.
// Routing keeps working afterwards but its events are no longer published.
func (d *Desk) Close(ctx context.Context) error {
	if d.async == nil {
		return nil
	}
	return d.async.Close(ctx)
}

// Capacity returns the per-agent session limit.
func (d *Desk) Capacity() int { return d.table.Capacity() }

// delivery is one frame bound for one connection.
type delivery struct {
	conn Conn
	msg  any
}

type closing struct {
	conn   Conn
	code   int
	reason string
}

// outbox collects the effects of one event while the lock is held.
type outbox struct {
	sends  []delivery
	closes []closing
	events []events.Event
}

func (o *outbox) send(conn Conn, msg any) {
	o.sends = append(o.sends, delivery{conn: conn, msg: msg})
}

func (o *outbox) close(conn Conn, code int, reason string) {
	o.closes = append(o.closes, closing{conn: conn, code: code, reason: reason})
}

func (o *outbox) emit(typ, agentID, userID string, detail map[string]any) {
	o.events = append(o.events, events.New(typ, agentID, userID, detail))
}

// flush performs the collected writes and closes, then enqueues the events.
// It must be called without the lock held.
func (d *Desk) flush(ctx context.Context, out *outbox) {
	for _, s := range out.sends {
		if err := s.conn.Send(s.msg); err != nil {
			d.logger.Debug("send failed", "error", err)
		}
	}
	for _, c := range out.closes {
		if err := c.conn.Close(c.code, c.reason); err != nil {
			d.logger.Debug("close failed", "code", c.code, "error", err)
		}
	}
	for _, ev := range out.events {
		if err := d.sink.Publish(ctx, ev); err != nil {
			d.logger.Debug("event not published", "type", ev.Type, "error", err)
		}
	}
}

// AgentLoad describes one connected agent.
type AgentLoad struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Load     int      `json:"load"`
	Capacity int      `json:"capacity"`
	Users    []string `json:"users"`
}

// Stats is a point-in-time view of the desk.
type Stats struct {
	Agents      []AgentLoad `json:"agents"`
	Pending     int         `json:"pending"`
	UsersOnline int         `json:"users_online"`
	Assigned    int         `json:"assigned"`
	Assignment  string      `json:"assignment"`
}

// Stats returns the current agent loads and queue size.
func (d *Desk) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := Stats{
		Agents:      make([]AgentLoad, 0, d.reg.Len(RoleAgent)),
		Pending:     d.queue.Len(),
		UsersOnline: d.reg.Len(RoleUser),
		Assignment:  d.assignment,
	}
	for _, a := range d.reg.ByRole(RoleAgent) {
		load := d.table.Load(a.ID)
		st.Assigned += load
		st.Agents = append(st.Agents, AgentLoad{
			ID:       a.ID,
			Name:     a.Name,
			Load:     load,
			Capacity: d.table.Capacity(),
			Users:    d.table.UsersOf(a.ID),
		})
	}
	return st
}

// Pending returns the waiting users, longest-waiting first.
func (d *Desk) Pending() []PendingEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queue.Entries()
}

// CheckInvariants verifies the cross-structure invariants: every connected
// user is either queued or assigned (never both), assignments only name
// connected clients, and user records agree with the table.
func (d *Desk) CheckInvariants() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.table.CheckInvariants(); err != nil {
		return err
	}
	for _, u := range d.reg.ByRole(RoleUser) {
		agentID, assigned := d.table.AgentOf(u.ID)
		queued := d.queue.Contains(u.ID)
		if assigned && queued {
			return fmt.Errorf("user %s is both queued and assigned to %s", u.ID, agentID)
		}
		if assigned != (u.AgentID != "") || (assigned && agentID != u.AgentID) {
			return fmt.Errorf("user %s record says agent %q, table says %q", u.ID, u.AgentID, agentID)
		}
		if assigned {
			if _, err := d.reg.lookup(RoleAgent, agentID); err != nil {
				return fmt.Errorf("user %s assigned to disconnected agent %s", u.ID, agentID)
			}
		}
	}
	for _, e := range d.queue.Entries() {
		if _, err := d.reg.lookup(RoleUser, e.UserID); err != nil {
			return fmt.Errorf("queued user %s is not connected", e.UserID)
		}
	}
	return nil
}
