package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed is returned for frames that cannot be parsed or lack a
	// required field. The sender is told the message could not be processed.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownType is returned for well-formed frames of an unknown kind.
	// These are dropped without telling the sender.
	ErrUnknownType = errors.New("unknown message type")
)

// Inbound is a decoded client frame. The concrete type is one of
// *SupportMessage, *SupportReply, *SupportEnd or *ClaimUser.
type Inbound interface {
	Kind() string
}

// SupportMessage is a user's chat line for its assigned agent.
type SupportMessage struct {
	Message string `json:"message"`
}

// SupportReply is an agent's chat line for a user.
type SupportReply struct {
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

// SupportEnd ends one session, or every session of the agent when UserID
// is empty.
type SupportEnd struct {
	UserID string `json:"userId,omitempty"`
}

// ClaimUser asks to take a pending user.
type ClaimUser struct {
	UserID string `json:"userId"`
}

func (*SupportMessage) Kind() string { return TypeSupportMessage }
func (*SupportReply) Kind() string   { return TypeSupportReply }
func (*SupportEnd) Kind() string     { return TypeSupportEnd }
func (*ClaimUser) Kind() string      { return TypeClaimUser }

// DecodeInbound parses a client frame into its tagged variant and checks
// the fields each kind requires.
func DecodeInbound(data []byte) (Inbound, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var msg Inbound
	switch head.Type {
	case TypeSupportMessage:
		msg = &SupportMessage{}
	case TypeSupportReply:
		msg = &SupportReply{}
	case TypeSupportEnd:
		msg = &SupportEnd{}
	case TypeClaimUser:
		msg = &ClaimUser{}
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, head.Type)
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, head.Type, err)
	}

	switch m := msg.(type) {
	case *SupportMessage:
		if strings.TrimSpace(m.Message) == "" {
			return nil, fmt.Errorf("%w: %s without message", ErrMalformed, head.Type)
		}
	case *SupportReply:
		if m.UserID == "" || strings.TrimSpace(m.Message) == "" {
			return nil, fmt.Errorf("%w: %s needs userId and message", ErrMalformed, head.Type)
		}
	case *ClaimUser:
		if m.UserID == "" {
			return nil, fmt.Errorf("%w: %s without userId", ErrMalformed, head.Type)
		}
	}
	return msg, nil
}
