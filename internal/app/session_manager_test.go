package app

import (
	"sync"
	"testing"

	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
)

type nopSignal struct{}

func (nopSignal) TrySend(core.Frame) error { return nil }
func (nopSignal) Close()                   {}

func TestGetOrCreateReturnsSameSession(t *testing.T) {
	m := NewSessionManager()
	a := m.GetOrCreate("X1")
	b := m.GetOrCreate("X1")
	if a != b {
		t.Fatalf("expected the same session for one name")
	}
	if _, ok := m.Get("nope"); ok {
		t.Fatalf("unknown session reported as present")
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d", m.Count())
	}
}

func TestClosedSessionCountsAsAbsent(t *testing.T) {
	m := NewSessionManager()
	s := m.GetOrCreate("X1")
	member := core.NewMember("a", nopSignal{})
	if _, err := s.Join(member, false); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := s.ReplaceArtifact("a", &domain.Artifact{XML: "<xml/>"}); err != nil {
		t.Fatalf("replace: %v", err)
	}
	s.Leave("a")

	if _, ok := m.Get("X1"); ok {
		t.Fatalf("closed session still visible")
	}
	if m.Count() != 0 || len(m.List()) != 0 {
		t.Fatalf("closed session still counted")
	}
	fresh := m.GetOrCreate("X1")
	if fresh == s {
		t.Fatalf("closed session was reused")
	}
	if fresh.Artifact() != nil {
		t.Fatalf("fresh session inherited the artifact")
	}
}

func TestReleaseOnlyRemovesMatchingSession(t *testing.T) {
	m := NewSessionManager()
	old := m.GetOrCreate("X1")
	m.Remove("X1")
	cur := m.GetOrCreate("X1")

	m.Release("X1", old)
	if got, ok := m.Get("X1"); !ok || got != cur {
		t.Fatalf("release of a stale session removed the current one")
	}
	m.Release("X1", cur)
	if _, ok := m.Get("X1"); ok {
		t.Fatalf("release did not remove the session")
	}
	m.Remove("X1")
}

func TestListIsSortedByName(t *testing.T) {
	m := NewSessionManager()
	for _, n := range []domain.SessionName{"b", "c", "a"} {
		m.GetOrCreate(n)
	}
	list := m.List()
	if len(list) != 3 || list[0].Name != "a" || list[1].Name != "b" || list[2].Name != "c" {
		t.Fatalf("list = %+v", list)
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	m := NewSessionManager()
	var wg sync.WaitGroup
	got := make([]core.SessionService, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = m.GetOrCreate("X1")
		}(i)
	}
	wg.Wait()
	for _, s := range got[1:] {
		if s != got[0] {
			t.Fatalf("concurrent GetOrCreate produced distinct sessions")
		}
	}
}
