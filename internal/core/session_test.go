package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

type recorder struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (r *recorder) TrySend(f Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.frames = append(r.frames, f)
	return nil
}

func (r *recorder) Close() {}

func (r *recorder) messages(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err != nil {
			t.Fatalf("frame %q is not json: %v", f, err)
		}
		out = append(out, m)
	}
	return out
}

func (r *recorder) ofType(t *testing.T, typ string) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, m := range r.messages(t) {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func (r *recorder) reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}

func newMember(id string) (*Member, *recorder) {
	rec := &recorder{}
	return NewMember(domain.ConnID(id), rec), rec
}

func mustJoin(t *testing.T, s SessionService, m *Member, wantsHost bool) JoinResult {
	t.Helper()
	res, err := s.Join(m, wantsHost)
	if err != nil {
		t.Fatalf("join %s: %v", m.ID(), err)
	}
	return res
}

func TestJoinFirstMemberBecomesHost(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")

	res := mustJoin(t, s, a, false)
	if !res.IsHost || !a.IsHost() {
		t.Fatalf("first joiner must be host")
	}
	if host, ok := s.HostID(); !ok || host != "a" {
		t.Fatalf("host = %q, %v", host, ok)
	}
	hs := recA.ofType(t, "host-status")
	if len(hs) != 1 || hs[0]["isHost"] != true {
		t.Fatalf("host-status to joiner = %v", hs)
	}
	uc := recA.ofType(t, "userCount")
	if len(uc) != 1 || uc[0]["count"] != float64(1) {
		t.Fatalf("userCount = %v", uc)
	}
	if got := recA.ofType(t, "init-load"); len(got) != 0 {
		t.Fatalf("no artifact yet, got %v", got)
	}
}

func TestJoinWantsHostDoesNotDisplaceHost(t *testing.T) {
	s := NewSessionService("X1")
	a, _ := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, true)

	res := mustJoin(t, s, b, true)
	if res.IsHost || b.IsHost() {
		t.Fatalf("second joiner must not become host")
	}
	if host, _ := s.HostID(); host != "a" {
		t.Fatalf("host = %q", host)
	}
	hs := recB.ofType(t, "host-status")
	if len(hs) != 1 || hs[0]["isHost"] != false {
		t.Fatalf("host-status to b = %v", hs)
	}
}

func TestJoinBroadcastsCountToEveryone(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	recA.reset()

	mustJoin(t, s, b, false)
	for name, rec := range map[string]*recorder{"a": recA, "b": recB} {
		uc := rec.ofType(t, "userCount")
		if len(uc) != 1 || uc[0]["count"] != float64(2) {
			t.Fatalf("%s userCount = %v", name, uc)
		}
	}
}

func TestDuplicateJoinIsIdempotent(t *testing.T) {
	s := NewSessionService("X1")
	a, _ := newMember("a")
	mustJoin(t, s, a, false)
	res := mustJoin(t, s, a, false)
	if res.Added {
		t.Fatalf("duplicate join reported as added")
	}
	if n := s.MemberCount(); n != 1 {
		t.Fatalf("member count = %d", n)
	}
	if !res.IsHost {
		t.Fatalf("host assignment should be re-run and keep a as host")
	}
}

func TestJoinDeliversCachedArtifactToJoinerOnly(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	if _, err := s.ReplaceArtifact("a", &domain.Artifact{XML: "<xml/>"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	recA.reset()

	res := mustJoin(t, s, b, false)
	if !res.ArtifactSent {
		t.Fatalf("artifact not reported as sent")
	}
	il := recB.ofType(t, "init-load")
	if len(il) != 1 || il[0]["xml"] != "<xml/>" {
		t.Fatalf("init-load to joiner = %v", il)
	}
	if got := recA.ofType(t, "init-load"); len(got) != 0 {
		t.Fatalf("existing member got init-load: %v", got)
	}
}

func TestLeaveHandsHostToEarliestJoiner(t *testing.T) {
	s := NewSessionService("X1")
	a, _ := newMember("a")
	z, recZ := newMember("z")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	mustJoin(t, s, z, false)
	mustJoin(t, s, b, false)
	recZ.reset()
	recB.reset()

	res := s.Leave("a")
	if !res.WasHost || res.NewHost != "z" {
		t.Fatalf("leave result = %+v", res)
	}
	if !z.IsHost() || b.IsHost() {
		t.Fatalf("z must be the only host")
	}

	zMsgs := recZ.messages(t)
	if len(zMsgs) < 2 || zMsgs[0]["type"] != "host-status" || zMsgs[0]["isHost"] != true {
		t.Fatalf("successor must hear host-status first, got %v", zMsgs)
	}
	if got := recB.ofType(t, "host-status"); len(got) != 0 {
		t.Fatalf("non-successor got host-status: %v", got)
	}
	uc := recB.ofType(t, "userCount")
	if len(uc) != 1 || uc[0]["count"] != float64(2) {
		t.Fatalf("userCount = %v", uc)
	}
}

func TestLeaveLastMemberClosesSession(t *testing.T) {
	s := NewSessionService("X1")
	a, _ := newMember("a")
	mustJoin(t, s, a, false)
	if _, err := s.ReplaceArtifact("a", &domain.Artifact{XML: "<xml/>"}); err != nil {
		t.Fatalf("replace: %v", err)
	}

	res := s.Leave("a")
	if !res.Empty || !s.Closed() {
		t.Fatalf("session must close when empty, res=%+v", res)
	}
	if s.Artifact() != nil {
		t.Fatalf("artifact must be dropped with the session")
	}
	if _, err := s.Join(a, false); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("join on closed session: %v", err)
	}
}

func TestLeaveNonMemberIsNoop(t *testing.T) {
	s := NewSessionService("X1")
	if res := s.Leave("ghost"); res.Removed {
		t.Fatalf("removed a non-member")
	}
}

func TestRelayExcludesSenderAndKeepsPayload(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	c, recC := newMember("c")
	for _, m := range []*Member{a, b, c} {
		mustJoin(t, s, m, false)
	}
	recA.reset()
	recB.reset()
	recC.reset()

	frame := Frame(`{"type":"sync","sessionId":"X1","changes":{"k":[1,2,3]}}`)
	res, err := s.Relay("a", frame)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if res.SendTo != 2 {
		t.Fatalf("sent to %d", res.SendTo)
	}
	if len(recA.frames) != 0 {
		t.Fatalf("sender got its own sync")
	}
	for _, rec := range []*recorder{recB, recC} {
		if len(rec.frames) != 1 || string(rec.frames[0]) != string(frame) {
			t.Fatalf("frames = %q", rec.frames)
		}
	}
}

func TestRelayFromNonMember(t *testing.T) {
	s := NewSessionService("X1")
	if _, err := s.Relay("ghost", Frame(`{}`)); !errors.Is(err, domain.ErrNotMember) {
		t.Fatalf("err = %v", err)
	}
}

func TestReplaceArtifactRequiresHost(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	mustJoin(t, s, b, false)
	recA.reset()
	recB.reset()

	if _, err := s.ReplaceArtifact("b", &domain.Artifact{XML: "<bad/>"}); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("err = %v", err)
	}
	if s.Artifact() != nil || len(recA.frames)+len(recB.frames) != 0 {
		t.Fatalf("rejected upload changed state")
	}

	res, err := s.ReplaceArtifact("a", &domain.Artifact{XML: "<ok/>"})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if res.SendTo != 2 {
		t.Fatalf("init-load must reach uploader too, sent to %d", res.SendTo)
	}
}

func TestAnnounceHostGivesEachMemberItsView(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	mustJoin(t, s, b, false)
	recA.reset()
	recB.reset()

	if _, err := s.AnnounceHost("b"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("non-host announce err = %v", err)
	}
	if _, err := s.AnnounceHost("a"); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if got := recA.ofType(t, "host-status"); len(got) != 1 || got[0]["isHost"] != true {
		t.Fatalf("a = %v", got)
	}
	if got := recB.ofType(t, "host-status"); len(got) != 1 || got[0]["isHost"] != false {
		t.Fatalf("b = %v", got)
	}
}

func TestEndNotifiesEveryoneButCaller(t *testing.T) {
	s := NewSessionService("X1")
	a, recA := newMember("a")
	b, recB := newMember("b")
	mustJoin(t, s, a, false)
	mustJoin(t, s, b, false)
	recA.reset()
	recB.reset()

	if _, _, err := s.End("b", "bye"); !errors.Is(err, domain.ErrNotHost) {
		t.Fatalf("non-host end err = %v", err)
	}
	ids, _, err := s.End("a", "bye")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if len(ids) != 2 || !s.Closed() || s.MemberCount() != 0 {
		t.Fatalf("ids=%v closed=%v count=%d", ids, s.Closed(), s.MemberCount())
	}
	if len(recA.frames) != 0 {
		t.Fatalf("caller notified")
	}
	if got := recB.ofType(t, "session-ended"); len(got) != 1 || got[0]["message"] != "bye" {
		t.Fatalf("b = %v", got)
	}
	if a.IsHost() {
		t.Fatalf("host flag must be cleared")
	}
}

func TestFailedSendIsReportedNotFatal(t *testing.T) {
	s := NewSessionService("X1")
	a, _ := newMember("a")
	b, recB := newMember("b")
	c, recC := newMember("c")
	for _, m := range []*Member{a, b, c} {
		mustJoin(t, s, m, false)
	}
	recB.err = errors.New("full")
	recC.reset()

	res, err := s.Relay("a", Frame(`{"type":"sync"}`))
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != b {
		t.Fatalf("dropped = %v", res.Dropped)
	}
	if len(recC.frames) != 1 {
		t.Fatalf("delivery to c aborted")
	}
}

func TestSingleHostProperty(t *testing.T) {
	const conns = 5

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	// op < conns joins connection op, otherwise connection op-conns leaves.
	properties.Property("at most one host, exactly one while non-empty", prop.ForAll(
		func(ops []int) bool {
			s := NewSessionService("prop")
			members := make([]*Member, conns)
			for i := range members {
				members[i], _ = newMember(fmt.Sprintf("c%d", i))
			}
			joined := map[int]bool{}

			for _, op := range ops {
				if s.Closed() {
					s = NewSessionService("prop")
					joined = map[int]bool{}
				}
				if op < conns {
					if _, err := s.Join(members[op], op%2 == 0); err != nil {
						return false
					}
					joined[op] = true
				} else {
					s.Leave(members[op-conns].ID())
					delete(joined, op-conns)
				}

				hosts := 0
				for i, m := range members {
					if m.IsHost() {
						hosts++
						if !joined[i] {
							return false
						}
					}
				}
				if s.MemberCount() != len(joined) {
					return false
				}
				if len(joined) > 0 && hosts != 1 {
					return false
				}
				if len(joined) == 0 && hosts != 0 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2*conns-1)),
	))

	properties.TestingRun(t)
}
