// Package protocol is the JSON wire format spoken over the relay WebSocket.
//
// Every message is an object with a "type" tag. Inbound messages are decoded
// into one concrete variant per tag; anything else is a decode error.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/collabrelay/internal/domain"
)

type MessageType string

const (
	// Client -> Server
	TypeJoin       MessageType = "join"
	TypeLeave      MessageType = "leave"
	TypeSync       MessageType = "sync"
	TypeUpload     MessageType = "sb3-upload"
	TypeHostStatus MessageType = "host-status"
	TypePing       MessageType = "ping"
	TypeEndSession MessageType = "end-session"

	// Server -> Client
	TypeUserCount    MessageType = "userCount"
	TypeInitLoad     MessageType = "init-load"
	TypeError        MessageType = "error"
	TypeSessionEnded MessageType = "session-ended"
	TypePong         MessageType = "pong"
)

// Inbound is one decoded client message.
type Inbound interface {
	Type() MessageType
}

type Join struct {
	SessionID domain.SessionName
	WantsHost bool
}

type Leave struct{}

type Sync struct {
	SessionID domain.SessionName
	ProjectID json.RawMessage
	Changes   json.RawMessage
}

type Upload struct {
	Data []byte
}

type HostStatus struct {
	IsHost bool
}

type Ping struct{}

type EndSession struct{}

func (Join) Type() MessageType       { return TypeJoin }
func (Leave) Type() MessageType      { return TypeLeave }
func (Sync) Type() MessageType       { return TypeSync }
func (Upload) Type() MessageType     { return TypeUpload }
func (HostStatus) Type() MessageType { return TypeHostStatus }
func (Ping) Type() MessageType       { return TypePing }
func (EndSession) Type() MessageType { return TypeEndSession }

type envelope struct {
	Type      MessageType     `json:"type"`
	SessionID *string         `json:"sessionId"`
	IsHost    *bool           `json:"isHost"`
	ProjectID json.RawMessage `json:"projectId"`
	Changes   json.RawMessage `json:"changes"`
	Data      json.RawMessage `json:"data"`
}

// Decode parses one inbound frame. Errors wrap domain.ErrDecode.
func Decode(data []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}

	switch env.Type {
	case TypeJoin:
		if env.SessionID == nil {
			return nil, fmt.Errorf("%w: join requires sessionId", domain.ErrDecode)
		}
		name, err := domain.ValidateSessionName(*env.SessionID)
		if err != nil {
			return nil, err
		}
		msg := Join{SessionID: name}
		if env.IsHost != nil {
			msg.WantsHost = *env.IsHost
		}
		return msg, nil
	case TypeLeave:
		return Leave{}, nil
	case TypeSync:
		if len(env.Changes) == 0 || bytes.Equal(env.Changes, []byte("null")) {
			return nil, fmt.Errorf("%w: sync requires changes", domain.ErrDecode)
		}
		msg := Sync{Changes: env.Changes, ProjectID: env.ProjectID}
		if env.SessionID != nil {
			msg.SessionID = domain.SessionName(*env.SessionID)
		}
		return msg, nil
	case TypeUpload:
		var payload ByteArray
		if err := payload.UnmarshalJSON(env.Data); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
		}
		if len(payload) == 0 {
			return nil, fmt.Errorf("%w: sb3-upload requires data", domain.ErrDecode)
		}
		return Upload{Data: payload}, nil
	case TypeHostStatus:
		if env.IsHost == nil {
			return nil, fmt.Errorf("%w: host-status requires isHost", domain.ErrDecode)
		}
		return HostStatus{IsHost: *env.IsHost}, nil
	case TypePing:
		return Ping{}, nil
	case TypeEndSession:
		return EndSession{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", domain.ErrDecode)
	default:
		return nil, fmt.Errorf("%w %q", domain.ErrUnknownType, env.Type)
	}
}
