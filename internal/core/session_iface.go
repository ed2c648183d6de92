package core

import (
	"errors"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
)

// ErrSessionClosed is returned by a session that already emptied out and
// left the manager. Callers fetch a fresh one and retry.
var ErrSessionClosed = errors.New("session closed")

// PublishResult reports delivery stats to the orchestrator. Dropped members
// failed a send and are to be evicted by the caller, outside the session lock.
type PublishResult struct {
	SendTo  int
	Dropped []*Member
}

func (r *PublishResult) Merge(o PublishResult) {
	r.SendTo += o.SendTo
	r.Dropped = append(r.Dropped, o.Dropped...)
}

type JoinResult struct {
	PublishResult
	Added        bool
	IsHost       bool
	Count        int
	ArtifactSent bool
}

type LeaveResult struct {
	PublishResult
	Removed bool
	WasHost bool
	Empty   bool
	NewHost domain.ConnID
	Count   int
}

// MemberDTO is a read-only view for APIs. Connection ids stay internal.
type MemberDTO struct {
	IsHost   bool      `json:"isHost"`
	JoinedAt time.Time `json:"joined_at"`
}

type SessionInfo struct {
	Name        domain.SessionName `json:"name"`
	MemberCount int                `json:"member_count"`
	CreatedAt   time.Time          `json:"created_at"`
	Artifact    *domain.Artifact   `json:"artifact,omitempty"`
}

// SessionService is the core-facing API of a session.
// It owns membership, the host assignment and the cached artifact, and
// serializes every mutation. It never closes transport resources.
type SessionService interface {
	Name() domain.SessionName
	Info() SessionInfo
	MemberCount() int
	MembersSnapshot() []MemberDTO
	HostID() (domain.ConnID, bool)
	Artifact() *domain.Artifact
	IsMember(id domain.ConnID) bool
	Closed() bool

	Join(m *Member, wantsHost bool) (JoinResult, error)
	Leave(id domain.ConnID) LeaveResult
	Relay(from domain.ConnID, f Frame) (PublishResult, error)
	ReplaceArtifact(from domain.ConnID, a *domain.Artifact) (PublishResult, error)
	AnnounceHost(from domain.ConnID) (PublishResult, error)
	End(by domain.ConnID, reason string) ([]domain.ConnID, PublishResult, error)
}

// SessionManager is the process-wide session registry.
type SessionManager interface {
	GetOrCreate(name domain.SessionName) SessionService
	Get(name domain.SessionName) (SessionService, bool)
	// Remove drops name regardless of state. Callers End the session first.
	Remove(name domain.SessionName)
	// Release drops name only while it still maps to s.
	Release(name domain.SessionName, s SessionService)
	List() []SessionInfo
	Count() int
}
