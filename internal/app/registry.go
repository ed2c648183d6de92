package app

import (
	"context"
	"sync"

	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// Binding is the registry entry of one live connection: its handle, the
// session it is attached to and the cancel func that tears the transport down.
//
// Operations on a single connection are serialized through Lock/Unlock;
// Session, SetSession, Closed and MarkClosed expect the lock to be held.
type Binding struct {
	mu      sync.Mutex
	member  *core.Member
	session core.SessionService
	cancel  context.CancelFunc
	closed  bool
}

func (b *Binding) Lock()   { b.mu.Lock() }
func (b *Binding) Unlock() { b.mu.Unlock() }

func (b *Binding) Member() *core.Member { return b.member }

func (b *Binding) Session() core.SessionService { return b.session }

func (b *Binding) SetSession(s core.SessionService) { b.session = s }

func (b *Binding) Closed() bool { return b.closed }

// MarkClosed reports whether this call was the one that closed b.
func (b *Binding) MarkClosed() bool {
	if b.closed {
		return false
	}
	b.closed = true
	return true
}

type Registry struct {
	mu    sync.RWMutex
	conns map[domain.ConnID]*Binding
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.ConnID]*Binding)}
}

func (r *Registry) Bind(m *core.Member, cancel context.CancelFunc) *Binding {
	b := &Binding{member: m, cancel: cancel}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[m.ID()] = b
	log.Info().Str("module", "app.registry").Str("conn", string(m.ID())).Msg("bound connection")
	return b
}

func (r *Registry) Get(id domain.ConnID) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.conns[id]
	return b, ok
}

func (r *Registry) Unbind(id domain.ConnID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[id]; ok {
		delete(r.conns, id)
		log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("unbind connection")
	}
}

// SessionOf returns the session id is attached to, if any.
func (r *Registry) SessionOf(id domain.ConnID) (domain.SessionName, bool) {
	b, ok := r.Get(id)
	if !ok {
		return "", false
	}
	b.Lock()
	defer b.Unlock()
	if b.closed || b.session == nil {
		return "", false
	}
	return b.session.Name(), true
}

// Cancel tears down the transport of id. The read loop notices and runs
// the regular disconnect path.
func (r *Registry) Cancel(id domain.ConnID) bool {
	r.mu.RLock()
	b, ok := r.conns[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if b.cancel != nil {
		b.cancel()
	}
	log.Info().Str("module", "app.registry").Str("conn", string(id)).Msg("canceled connection")
	return true
}

func (r *Registry) IDs() []domain.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ConnID, 0, len(r.conns))
	for id := range r.conns {
		out = append(out, id)
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
