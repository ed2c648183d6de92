package app

import (
	"sort"
	"sync"

	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/rs/zerolog/log"
)

// SessionManagerImpl maps session names to live sessions. A name whose
// session has closed counts as absent; the next GetOrCreate replaces it.
// Fan-out never happens under mu.
type SessionManagerImpl struct {
	mu       sync.RWMutex
	sessions map[domain.SessionName]core.SessionService
}

func NewSessionManager() core.SessionManager {
	return &SessionManagerImpl{sessions: make(map[domain.SessionName]core.SessionService)}
}

func (f *SessionManagerImpl) GetOrCreate(name domain.SessionName) core.SessionService {
	f.mu.RLock()
	s, ok := f.sessions[name]
	f.mu.RUnlock()
	if ok && !s.Closed() {
		return s
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok = f.sessions[name]; ok && !s.Closed() {
		return s
	}
	s = core.NewSessionService(name)
	f.sessions[name] = s
	log.Info().Str("module", "app.sessions").Str("session", string(name)).Msg("session created")
	return s
}

func (f *SessionManagerImpl) Get(name domain.SessionName) (core.SessionService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.sessions[name]
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

func (f *SessionManagerImpl) Remove(name domain.SessionName) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[name]; ok {
		delete(f.sessions, name)
		log.Info().Str("module", "app.sessions").Str("session", string(name)).Msg("session removed")
	}
}

func (f *SessionManagerImpl) Release(name domain.SessionName, s core.SessionService) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.sessions[name]; ok && cur == s {
		delete(f.sessions, name)
		log.Info().Str("module", "app.sessions").Str("session", string(name)).Msg("session removed (empty)")
	}
}

func (f *SessionManagerImpl) List() []core.SessionInfo {
	f.mu.RLock()
	live := make([]core.SessionService, 0, len(f.sessions))
	for _, s := range f.sessions {
		live = append(live, s)
	}
	f.mu.RUnlock()

	out := make([]core.SessionInfo, 0, len(live))
	for _, s := range live {
		if s.Closed() {
			continue
		}
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (f *SessionManagerImpl) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	n := 0
	for _, s := range f.sessions {
		if !s.Closed() {
			n++
		}
	}
	return n
}
