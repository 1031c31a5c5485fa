// Package protocol defines the wire protocol exchanged between the support
// hub and its user and agent clients over WebSocket.
//
// Every frame is a flat JSON object whose "type" field names the message
// kind; the remaining fields depend on the kind.
package protocol

// Message kinds sent by clients.
const (
	TypeSupportMessage = "support-message" // user → assigned agent
	TypeSupportReply   = "support-reply"   // agent → user
	TypeSupportEnd     = "support-end"     // agent ends one or all sessions
	TypeClaimUser      = "claim-user"      // agent claims a pending user
)

// Message kinds sent by the hub. Forwarded support-message, support-reply
// and support-end reuse the client kinds above.
const (
	TypeUserConnected     = "user-connected"
	TypeAgentConnected    = "agent-connected"
	TypeNewUserWaiting    = "new-user-waiting"
	TypeAgentAssigned     = "agent-assigned"
	TypeUserAssigned      = "user-assigned"
	TypeUserClaimed       = "user-claimed"
	TypeUserDisconnected  = "user-disconnected"
	TypeAuthError         = "auth-error"
	TypeNoAgentsAvailable = "no-agents-available"
	TypeError             = "error"
)

// WebSocket close codes used by the hub.
const (
	CloseNormal       = 1000
	CloseReplaced     = 4000
	CloseAuthRequired = 4001
	CloseInvalidCreds = 4003
)

// Machine-readable reasons carried in auth-error frames and close frames.
const (
	ReasonAuthRequired       = "authentication required"
	ReasonInvalidCredentials = "invalid credentials"
	ReasonReplaced           = "replaced by new connection"
	ReasonNoAgents           = "no agents available"
)

// Reasons carried by support-end frames sent to users.
const (
	EndedByAgent      = "ended-by-agent"
	EndedDisconnected = "agent-disconnected"
)

// --- Hub → client ---

// UserConnected welcomes a user and tells it the id the hub registered.
type UserConnected struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// AgentConnected welcomes an agent.
type AgentConnected struct {
	Type      string `json:"type"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Capacity  int    `json:"capacity"`
}

// NewUserWaiting announces a pending user to agents.
type NewUserWaiting struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	ContactNumber string `json:"contactNumber,omitempty"`
}

// AgentAssigned tells a user which agent is handling it.
type AgentAssigned struct {
	Type    string `json:"type"`
	Agent   string `json:"agent"`
	AgentID string `json:"agentId"`
}

// UserAssigned tells an agent it now handles a user.
type UserAssigned struct {
	Type          string `json:"type"`
	UserID        string `json:"userId"`
	UserName      string `json:"userName"`
	ContactNumber string `json:"contactNumber,omitempty"`
}

// UserClaimed tells the other agents to retract a pending entry.
type UserClaimed struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
}

// ForwardedMessage is a user's support-message as delivered to its agent.
type ForwardedMessage struct {
	Type           string `json:"type"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName"`
	ContactNumber  string `json:"contactNumber,omitempty"`
	Message        string `json:"message"`
	IsFirstMessage bool   `json:"isFirstMessage"`
}

// ForwardedReply is an agent's support-reply as delivered to a user.
type ForwardedReply struct {
	Type    string `json:"type"`
	Agent   string `json:"agent"`
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

// SessionEnded tells a user its session is over.
type SessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
	Agent  string `json:"agent,omitempty"`
}

// EndAck acknowledges an ended session to the agent that ended it.
type EndAck struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
}

// UserDisconnected tells agents a user left so they can prune it.
type UserDisconnected struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// AuthError is written to an agent connection just before it is rejected.
type AuthError struct {
	Type    string `json:"type"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Notice carries a human-readable message (no-agents-available, error).
type Notice struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
