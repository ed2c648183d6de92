package core

import (
	"sort"
	"sync"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

type memberEntry struct {
	m        *Member
	seq      uint64
	joinedAt time.Time
}

// sessionImpl is a threadsafe in-memory session.
// Every announcement caused by a mutation is queued while the lock is held,
// so recipients observe events in the order the mutations happened.
type sessionImpl struct {
	name      domain.SessionName
	createdAt time.Time

	mu       sync.RWMutex
	members  map[domain.ConnID]*memberEntry
	host     domain.ConnID
	artifact *domain.Artifact
	nextSeq  uint64
	closed   bool
}

func NewSessionService(name domain.SessionName) SessionService {
	return &sessionImpl{
		name:      name,
		createdAt: time.Now(),
		members:   make(map[domain.ConnID]*memberEntry),
	}
}

func (s *sessionImpl) Name() domain.SessionName { return s.name }

func (s *sessionImpl) Info() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionInfo{
		Name:        s.name,
		MemberCount: len(s.members),
		CreatedAt:   s.createdAt,
		Artifact:    s.artifact,
	}
}

func (s *sessionImpl) MemberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members)
}

func (s *sessionImpl) MembersSnapshot() []MemberDTO {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MemberDTO, 0, len(s.members))
	for _, e := range s.ordered() {
		out = append(out, MemberDTO{IsHost: e.m.id == s.host, JoinedAt: e.joinedAt})
	}
	return out
}

func (s *sessionImpl) HostID() (domain.ConnID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.host, s.host != ""
}

func (s *sessionImpl) Artifact() *domain.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.artifact
}

func (s *sessionImpl) IsMember(id domain.ConnID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[id]
	return ok
}

func (s *sessionImpl) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Join adds m. The first member of a session without a host becomes host;
// wantsHost never displaces an existing host. A repeated join by the same
// connection keeps membership as is and only re-runs host assignment.
func (s *sessionImpl) Join(m *Member, wantsHost bool) (JoinResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res JoinResult
	if s.closed {
		return res, ErrSessionClosed
	}

	if _, ok := s.members[m.id]; !ok {
		s.nextSeq++
		s.members[m.id] = &memberEntry{m: m, seq: s.nextSeq, joinedAt: time.Now()}
		res.Added = true
	}
	if s.host == "" {
		s.host = m.id
		m.setHost(true)
	}
	res.IsHost = s.host == m.id
	res.Count = len(s.members)

	s.sendLocked(m, protocol.MustEncode(protocol.NewHostStatus(res.IsHost)), &res.PublishResult)
	if s.artifact != nil {
		s.sendLocked(m, protocol.MustEncode(protocol.NewInitLoad(s.artifact.XML)), &res.PublishResult)
		res.ArtifactSent = true
	}
	s.broadcastLocked("", protocol.MustEncode(protocol.NewUserCount(res.Count)), &res.PublishResult)

	log.Info().
		Str("module", "core.session").
		Str("session", string(s.name)).
		Str("conn", string(m.id)).
		Bool("wants_host", wantsHost).
		Bool("host", res.IsHost).
		Int("count", res.Count).
		Msg("member joined")
	return res, nil
}

// Leave removes id. A departing host hands over to the remaining member
// that joined earliest; the successor is told before anyone else hears of
// the departure. The last member out closes the session.
func (s *sessionImpl) Leave(id domain.ConnID) LeaveResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res LeaveResult
	e, ok := s.members[id]
	if !ok {
		return res
	}
	delete(s.members, id)
	e.m.setHost(false)
	res.Removed = true
	res.WasHost = s.host == id
	res.Count = len(s.members)

	if res.Count == 0 {
		s.host = ""
		s.artifact = nil
		s.closed = true
		res.Empty = true
		log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("conn", string(id)).Msg("last member left, session closed")
		return res
	}

	if res.WasHost {
		next := s.successorLocked()
		s.host = next.m.id
		next.m.setHost(true)
		res.NewHost = next.m.id
		s.sendLocked(next.m, protocol.MustEncode(protocol.NewHostStatus(true)), &res.PublishResult)
		log.Info().
			Str("module", "core.session").
			Str("session", string(s.name)).
			Str("from", string(id)).
			Str("to", string(next.m.id)).
			Msg("host reassigned")
	}
	s.broadcastLocked("", protocol.MustEncode(protocol.NewUserCount(res.Count)), &res.PublishResult)

	log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("conn", string(id)).Int("count", res.Count).Msg("member left")
	return res
}

// Relay fans f out to every member except the sender. Payloads are opaque
// full-state snapshots; the last one delivered wins on the receiving side.
func (s *sessionImpl) Relay(from domain.ConnID, f Frame) (PublishResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res PublishResult
	if _, ok := s.members[from]; !ok {
		return res, domain.ErrNotMember
	}
	s.broadcastLocked(from, f, &res)
	log.Debug().Str("module", "core.session").Str("session", string(s.name)).Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("sync relayed")
	return res, nil
}

// ReplaceArtifact stores a as the session artifact if from is the current
// host and delivers it to every member, uploader included.
func (s *sessionImpl) ReplaceArtifact(from domain.ConnID, a *domain.Artifact) (PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res PublishResult
	if s.closed {
		return res, ErrSessionClosed
	}
	if _, ok := s.members[from]; !ok {
		return res, domain.ErrNotMember
	}
	if s.host != from {
		return res, domain.ErrNotHost
	}
	s.artifact = a
	s.broadcastLocked("", protocol.MustEncode(protocol.NewInitLoad(a.XML)), &res)

	log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("digest", a.Digest).Int("size", a.Size).Int("sent_to", res.SendTo).Msg("artifact replaced")
	return res, nil
}

// AnnounceHost re-sends the host assignment to every member, each from its
// own point of view. Only the host may trigger it.
func (s *sessionImpl) AnnounceHost(from domain.ConnID) (PublishResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var res PublishResult
	if _, ok := s.members[from]; !ok {
		return res, domain.ErrNotMember
	}
	if s.host != from {
		return res, domain.ErrNotHost
	}
	yes := protocol.MustEncode(protocol.NewHostStatus(true))
	no := protocol.MustEncode(protocol.NewHostStatus(false))
	for id, e := range s.members {
		if id == s.host {
			s.sendLocked(e.m, yes, &res)
		} else {
			s.sendLocked(e.m, no, &res)
		}
	}
	return res, nil
}

// End closes the session and tells every member but by. An empty by means
// the server ends it; otherwise by must be the host. Returns the ids of all
// former members.
func (s *sessionImpl) End(by domain.ConnID, reason string) ([]domain.ConnID, PublishResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res PublishResult
	if s.closed {
		return nil, res, ErrSessionClosed
	}
	if by != "" {
		if _, ok := s.members[by]; !ok {
			return nil, res, domain.ErrNotMember
		}
		if s.host != by {
			return nil, res, domain.ErrNotHost
		}
	}

	s.broadcastLocked(by, protocol.MustEncode(protocol.NewSessionEnded(reason)), &res)
	ids := make([]domain.ConnID, 0, len(s.members))
	for id, e := range s.members {
		e.m.setHost(false)
		ids = append(ids, id)
	}
	s.members = make(map[domain.ConnID]*memberEntry)
	s.host = ""
	s.artifact = nil
	s.closed = true

	log.Info().Str("module", "core.session").Str("session", string(s.name)).Str("reason", reason).Int("members", len(ids)).Msg("session ended")
	return ids, res, nil
}

func (s *sessionImpl) successorLocked() *memberEntry {
	var next *memberEntry
	for _, e := range s.members {
		if next == nil || e.seq < next.seq {
			next = e
		}
	}
	return next
}

func (s *sessionImpl) ordered() []*memberEntry {
	out := make([]*memberEntry, 0, len(s.members))
	for _, e := range s.members {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func (s *sessionImpl) broadcastLocked(except domain.ConnID, f Frame, res *PublishResult) {
	for id, e := range s.members {
		if id == except {
			continue
		}
		s.sendLocked(e.m, f, res)
	}
}

func (s *sessionImpl) sendLocked(m *Member, f Frame, res *PublishResult) {
	if err := m.Signal().TrySend(f); err != nil {
		log.Warn().Err(err).Str("module", "core.session").Str("session", string(s.name)).Str("conn", string(m.id)).Msg("send failed")
		res.Dropped = append(res.Dropped, m)
		return
	}
	res.SendTo++
}
