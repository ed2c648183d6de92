package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dkeye/collabrelay/internal/domain"
)

type UserCount struct {
	Type  MessageType `json:"type"`
	Count int         `json:"count"`
}

type HostStatusAnnounce struct {
	Type   MessageType `json:"type"`
	IsHost bool        `json:"isHost"`
}

type SyncRelay struct {
	Type      MessageType        `json:"type"`
	SessionID domain.SessionName `json:"sessionId"`
	ProjectID json.RawMessage    `json:"projectId,omitempty"`
	Changes   json.RawMessage    `json:"changes"`
}

type InitLoad struct {
	Type MessageType `json:"type"`
	XML  string      `json:"xml"`
}

type Error struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type SessionEnded struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

type Pong struct {
	Type MessageType `json:"type"`
}

func NewUserCount(n int) UserCount { return UserCount{Type: TypeUserCount, Count: n} }

func NewHostStatus(isHost bool) HostStatusAnnounce {
	return HostStatusAnnounce{Type: TypeHostStatus, IsHost: isHost}
}

func NewSyncRelay(session domain.SessionName, project, changes json.RawMessage) SyncRelay {
	return SyncRelay{Type: TypeSync, SessionID: session, ProjectID: project, Changes: changes}
}

func NewInitLoad(xml string) InitLoad { return InitLoad{Type: TypeInitLoad, XML: xml} }

func NewError(msg string) Error { return Error{Type: TypeError, Message: msg} }

func NewSessionEnded(msg string) SessionEnded {
	return SessionEnded{Type: TypeSessionEnded, Message: msg}
}

func NewPong() Pong { return Pong{Type: TypePong} }

// Encode marshals an outbound message. HTML characters are left alone and
// the changes of a sync relay are copied byte for byte.
func Encode(v any) ([]byte, error) {
	if m, ok := v.(SyncRelay); ok {
		return encodeSync(m)
	}
	return marshal(v)
}

// MustEncode is for messages built only from strings, bools and ints.
func MustEncode(v any) []byte {
	b, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return b
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func encodeSync(m SyncRelay) ([]byte, error) {
	if !json.Valid(m.Changes) {
		return nil, fmt.Errorf("%w: changes is not valid json", domain.ErrDecode)
	}
	head, err := marshal(struct {
		Type      MessageType        `json:"type"`
		SessionID domain.SessionName `json:"sessionId"`
		ProjectID json.RawMessage    `json:"projectId,omitempty"`
	}{m.Type, m.SessionID, m.ProjectID})
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(head)+len(m.Changes)+len(`,"changes":`))
	out = append(out, head[:len(head)-1]...)
	out = append(out, `,"changes":`...)
	out = append(out, m.Changes...)
	return append(out, '}'), nil
}
