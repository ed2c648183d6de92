// Package liveness detects connections that stopped answering probes.
//
// The monitor is independent of any transport: a Target only needs to send a
// probe and report when it last heard from its peer. A target that has been
// silent for two probe periods is declared dead.
package liveness

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultPeriod = 30 * time.Second

// missedCycles is how many probe periods of silence mark a target dead.
const missedCycles = 2

type Target interface {
	ID() domain.ConnID
	// Probe sends a liveness probe. An error means the transport is gone.
	Probe() error
	// LastActivity is the last time anything arrived from the peer,
	// probe acknowledgements included.
	LastActivity() time.Time
}

type Monitor struct {
	period time.Duration
	onDead func(domain.ConnID)
	now    func() time.Time

	mu      sync.Mutex
	targets map[domain.ConnID]Target
}

func NewMonitor(period time.Duration, onDead func(domain.ConnID)) *Monitor {
	if period <= 0 {
		period = DefaultPeriod
	}
	return &Monitor{
		period:  period,
		onDead:  onDead,
		now:     time.Now,
		targets: make(map[domain.ConnID]Target),
	}
}

func (m *Monitor) Period() time.Duration { return m.period }

func (m *Monitor) Track(t Target) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.targets[t.ID()] = t
}

func (m *Monitor) Untrack(id domain.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, id)
}

func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.targets)
}

// Sweep runs one probe cycle: silent targets are dropped and reported dead,
// the rest are probed. It returns the ids declared dead.
func (m *Monitor) Sweep() []domain.ConnID {
	now := m.now()
	deadline := time.Duration(missedCycles) * m.period

	m.mu.Lock()
	var dead []domain.ConnID
	alive := make([]Target, 0, len(m.targets))
	for id, t := range m.targets {
		if now.Sub(t.LastActivity()) > deadline {
			dead = append(dead, id)
			delete(m.targets, id)
			continue
		}
		alive = append(alive, t)
	}
	m.mu.Unlock()

	for _, t := range alive {
		if err := t.Probe(); err != nil {
			log.Warn().Err(err).Str("module", "liveness").Str("conn", string(t.ID())).Msg("probe failed")
			m.Untrack(t.ID())
			dead = append(dead, t.ID())
		}
	}

	for _, id := range dead {
		log.Warn().Str("module", "liveness").Str("conn", string(id)).Dur("silence", deadline).Msg("connection dead")
		if m.onDead != nil {
			m.onDead(id)
		}
	}
	return dead
}

// Run sweeps every period until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	log.Info().Str("module", "liveness").Dur("period", m.period).Msg("monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "liveness").Msg("monitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
