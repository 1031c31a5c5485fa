package desk

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrAtCapacity means the agent already handles as many users as allowed.
	ErrAtCapacity = errors.New("agent at capacity")
	// ErrAlreadyAssigned means the user is already handled by an agent.
	ErrAlreadyAssigned = errors.New("user already assigned")
)

// AssignmentTable maps agents to the users they handle and back. Both
// directions change together in every method, so for every user in an
// agent's set the reverse map points at that agent, and a user is in at
// most one set.
type AssignmentTable struct {
	capacity int
	byAgent  map[string]map[string]struct{}
	byUser   map[string]string
}

// NewAssignmentTable returns a table allowing capacity users per agent.
func NewAssignmentTable(capacity int) *AssignmentTable {
	if capacity < 1 {
		capacity = 1
	}
	return &AssignmentTable{
		capacity: capacity,
		byAgent:  make(map[string]map[string]struct{}),
		byUser:   make(map[string]string),
	}
}

// Capacity returns the per-agent limit.
func (t *AssignmentTable) Capacity() int { return t.capacity }

// Assign gives userID to agentID.
func (t *AssignmentTable) Assign(agentID, userID string) error {
	if current, ok := t.byUser[userID]; ok {
		return fmt.Errorf("%w: %s is with %s", ErrAlreadyAssigned, userID, current)
	}
	set := t.byAgent[agentID]
	if len(set) >= t.capacity {
		return fmt.Errorf("%w: %s has %d", ErrAtCapacity, agentID, len(set))
	}
	if set == nil {
		set = make(map[string]struct{}, t.capacity)
		t.byAgent[agentID] = set
	}
	set[userID] = struct{}{}
	t.byUser[userID] = agentID
	return nil
}

// Release unassigns userID and returns the agent it was with.
func (t *AssignmentTable) Release(userID string) (string, bool) {
	agentID, ok := t.byUser[userID]
	if !ok {
		return "", false
	}
	delete(t.byUser, userID)
	if set := t.byAgent[agentID]; set != nil {
		delete(set, userID)
		if len(set) == 0 {
			delete(t.byAgent, agentID)
		}
	}
	return agentID, true
}

// ReleaseAgent drops the agent's entry and returns the users it held,
// sorted by id.
func (t *AssignmentTable) ReleaseAgent(agentID string) []string {
	users := t.UsersOf(agentID)
	for _, u := range users {
		delete(t.byUser, u)
	}
	delete(t.byAgent, agentID)
	return users
}

// AgentOf returns the agent handling userID.
func (t *AssignmentTable) AgentOf(userID string) (string, bool) {
	agentID, ok := t.byUser[userID]
	return agentID, ok
}

// UsersOf returns the users handled by agentID, sorted by id.
func (t *AssignmentTable) UsersOf(agentID string) []string {
	set := t.byAgent[agentID]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	slices.Sort(out)
	return out
}

// Load returns how many users agentID handles.
func (t *AssignmentTable) Load(agentID string) int { return len(t.byAgent[agentID]) }

// HasCapacity reports whether agentID can take another user.
func (t *AssignmentTable) HasCapacity(agentID string) bool {
	return len(t.byAgent[agentID]) < t.capacity
}

// CheckInvariants verifies that both directions agree and no agent is over
// capacity.
func (t *AssignmentTable) CheckInvariants() error {
	seen := 0
	for agentID, set := range t.byAgent {
		if len(set) > t.capacity {
			return fmt.Errorf("agent %s holds %d users, capacity %d", agentID, len(set), t.capacity)
		}
		if len(set) == 0 {
			return fmt.Errorf("agent %s has an empty set", agentID)
		}
		for u := range set {
			if back := t.byUser[u]; back != agentID {
				return fmt.Errorf("user %s in %s's set but maps to %q", u, agentID, back)
			}
			seen++
		}
	}
	if seen != len(t.byUser) {
		return fmt.Errorf("reverse map has %d users, forward sets hold %d", len(t.byUser), seen)
	}
	return nil
}
