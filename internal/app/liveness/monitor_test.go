package liveness

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
)

type fakeTarget struct {
	id     domain.ConnID
	mu     sync.Mutex
	last   time.Time
	probes int
	err    error
}

func (f *fakeTarget) ID() domain.ConnID { return f.id }

func (f *fakeTarget) Probe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.err
}

func (f *fakeTarget) LastActivity() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func (f *fakeTarget) ack(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = t
}

func TestSweepDeclaresDeadAfterTwoMissedCycles(t *testing.T) {
	start := time.Unix(1000, 0)
	clock := start
	var dead []domain.ConnID

	m := NewMonitor(30*time.Second, func(id domain.ConnID) { dead = append(dead, id) })
	m.now = func() time.Time { return clock }

	quiet := &fakeTarget{id: "quiet", last: start}
	chatty := &fakeTarget{id: "chatty", last: start}
	m.Track(quiet)
	m.Track(chatty)

	for i := 1; i <= 2; i++ {
		clock = start.Add(time.Duration(i) * 30 * time.Second)
		chatty.ack(clock)
		if got := m.Sweep(); len(got) != 0 {
			t.Fatalf("cycle %d: nobody should be dead yet, got %v", i, got)
		}
	}
	if quiet.probes != 2 {
		t.Fatalf("quiet target should have been probed twice, got %d", quiet.probes)
	}

	clock = start.Add(90 * time.Second)
	chatty.ack(clock)
	got := m.Sweep()
	if len(got) != 1 || got[0] != "quiet" {
		t.Fatalf("expected quiet to be dead, got %v", got)
	}
	if len(dead) != 1 || dead[0] != "quiet" {
		t.Fatalf("callback saw %v", dead)
	}
	if m.Len() != 1 {
		t.Fatalf("dead target should be untracked, %d tracked", m.Len())
	}

	// Dead targets are reported once.
	clock = start.Add(120 * time.Second)
	chatty.ack(clock)
	if got := m.Sweep(); len(got) != 0 {
		t.Fatalf("expected no new dead targets, got %v", got)
	}
}

func TestSweepProbeFailureIsDeath(t *testing.T) {
	m := NewMonitor(time.Second, nil)
	broken := &fakeTarget{id: "broken", last: time.Now(), err: errors.New("write: broken pipe")}
	m.Track(broken)

	got := m.Sweep()
	if len(got) != 1 || got[0] != "broken" {
		t.Fatalf("expected broken to be dead, got %v", got)
	}
	if m.Len() != 0 {
		t.Fatalf("expected no tracked targets")
	}
}

func TestUntrackStopsProbing(t *testing.T) {
	m := NewMonitor(time.Second, nil)
	ft := &fakeTarget{id: "a", last: time.Now()}
	m.Track(ft)
	m.Untrack("a")
	m.Sweep()
	if ft.probes != 0 {
		t.Fatalf("untracked target was probed %d times", ft.probes)
	}
}

func TestRunProbesPeriodically(t *testing.T) {
	var probes atomic.Int32
	m := NewMonitor(10*time.Millisecond, nil)
	m.Track(&countingTarget{id: "a", probes: &probes})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for probes.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("monitor did not probe, got %d", probes.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

type countingTarget struct {
	id     domain.ConnID
	probes *atomic.Int32
}

func (c *countingTarget) ID() domain.ConnID       { return c.id }
func (c *countingTarget) Probe() error            { c.probes.Add(1); return nil }
func (c *countingTarget) LastActivity() time.Time { return time.Now() }
