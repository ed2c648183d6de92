// Package domain contains entities without logic, just meta-data and errors.
package domain

import (
	"errors"
	"fmt"
)

const MaxSessionNameLen = 128

var (
	ErrDecode         = errors.New("invalid message format")
	ErrUnknownType    = fmt.Errorf("%w: unknown message type", ErrDecode)
	ErrNotHost        = errors.New("only the host can do that")
	ErrNotMember      = errors.New("not a member of this session")
	ErrUnknownSession = errors.New("invalid session")
	ErrTransport      = errors.New("transport error")
	ErrArtifactDecode = errors.New("error processing SB3 file")
	ErrRateLimited    = errors.New("too many uploads, slow down")
	ErrNotConnected   = errors.New("connection closed")
)

type ErrorKind string

const (
	KindDecode         ErrorKind = "decode"
	KindAuthorization  ErrorKind = "authorization"
	KindUnknownSession ErrorKind = "unknown_session"
	KindTransport      ErrorKind = "transport"
	KindArtifactDecode ErrorKind = "artifact_decode"
	KindRateLimited    ErrorKind = "rate_limited"
	KindInternal       ErrorKind = "internal"
)

// KindOf classifies err for replies and metrics.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrNotHost), errors.Is(err, ErrNotMember):
		return KindAuthorization
	case errors.Is(err, ErrUnknownSession):
		return KindUnknownSession
	case errors.Is(err, ErrTransport), errors.Is(err, ErrNotConnected):
		return KindTransport
	case errors.Is(err, ErrArtifactDecode):
		return KindArtifactDecode
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	default:
		return KindInternal
	}
}

// ValidateSessionName rejects names a client could not have meant.
func ValidateSessionName(name string) (SessionName, error) {
	if name == "" {
		return "", fmt.Errorf("%w: sessionId is required", ErrDecode)
	}
	if len(name) > MaxSessionNameLen {
		return "", fmt.Errorf("%w: sessionId too long", ErrDecode)
	}
	return SessionName(name), nil
}
