package core

import (
	"sync/atomic"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
)

// Member is the connection handle of one client: identity, transport,
// last activity and a cached copy of its host flag. The session owns the
// authoritative host assignment; the flag here only mirrors it.
type Member struct {
	id     domain.ConnID
	signal SignalConnection

	host     atomic.Bool
	lastSeen atomic.Int64
}

func NewMember(id domain.ConnID, signal SignalConnection) *Member {
	m := &Member{id: id, signal: signal}
	m.Touch()
	return m
}

func (m *Member) ID() domain.ConnID        { return m.id }
func (m *Member) Signal() SignalConnection { return m.signal }
func (m *Member) IsHost() bool             { return m.host.Load() }
func (m *Member) setHost(v bool)           { m.host.Store(v) }
func (m *Member) Touch()                   { m.lastSeen.Store(time.Now().UnixNano()) }
func (m *Member) LastActivity() time.Time  { return time.Unix(0, m.lastSeen.Load()) }
