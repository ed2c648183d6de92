package orch

import (
	"context"
	"time"

	"github.com/dkeye/collabrelay/internal/app"
	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// Translator turns an uploaded project archive into a session artifact.
type Translator interface {
	Translate(data []byte) (*domain.Artifact, error)
}

// Orchestrator carries out client operations against the registries.
//
// Lock order is connection binding, then session manager, then session.
// Members whose transport refused a frame are evicted only after every
// lock has been released.
type Orchestrator struct {
	Registry       *app.Registry
	Sessions       core.SessionManager
	Policy         app.Policy
	Translator     Translator
	MaxUploadBytes int
}

type Stats struct {
	Sessions    int `json:"sessions"`
	Connections int `json:"totalConnections"`
}

func (o *Orchestrator) Stats() Stats {
	return Stats{Sessions: o.Sessions.Count(), Connections: o.Registry.Count()}
}

// Connect registers a freshly accepted connection. cancel must tear down
// its transport.
func (o *Orchestrator) Connect(m *core.Member, cancel context.CancelFunc) {
	o.Registry.Bind(m, cancel)
}

// OnDisconnect is the single cleanup path for a connection, whatever closed
// it. Only the first call for an id has any effect.
func (o *Orchestrator) OnDisconnect(id domain.ConnID) {
	b, ok := o.Registry.Get(id)
	if !ok {
		return
	}
	b.Lock()
	if !b.MarkClosed() {
		b.Unlock()
		return
	}
	ds := o.leaveLocked(b)
	b.Unlock()

	o.Registry.Unbind(id)
	log.Info().Str("module", "app.orch").Str("conn", string(id)).Msg("disconnected")
	o.settle(ds)
}

// Evict closes the transport of id and runs the disconnect path.
func (o *Orchestrator) Evict(id domain.ConnID, reason string) {
	if !o.Registry.Cancel(id) {
		return
	}
	observability.RecordEviction(reason)
	log.Warn().Str("module", "app.orch").Str("conn", string(id)).Str("reason", reason).Msg("evicting connection")
	o.OnDisconnect(id)
}

// Shutdown ends every session and closes every connection.
func (o *Orchestrator) Shutdown(reason string) {
	for _, info := range o.Sessions.List() {
		o.EvictSession(info.Name, reason)
	}
	for _, id := range o.Registry.IDs() {
		o.Registry.Cancel(id)
	}
	log.Info().Str("module", "app.orch").Msg("all sessions ended")
}

// WaitIdle blocks until every connection has gone through OnDisconnect
// or ctx is done.
func (o *Orchestrator) WaitIdle(ctx context.Context) bool {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for o.Registry.Count() > 0 {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
	return true
}

type drop struct {
	session core.SessionService
	member  *core.Member
}

func drops(s core.SessionService, res core.PublishResult) []drop {
	if len(res.Dropped) == 0 {
		return nil
	}
	out := make([]drop, 0, len(res.Dropped))
	for _, m := range res.Dropped {
		out = append(out, drop{session: s, member: m})
	}
	return out
}

func (o *Orchestrator) settle(ds []drop) {
	for _, d := range ds {
		action := app.KickMember
		if o.Policy != nil {
			action = o.Policy.OnSendFailure(d.session, d.member)
		}
		switch action {
		case app.KickMember:
			o.Evict(d.member.ID(), "send_failed")
		case app.NoAction:
		}
	}
}

// withBinding runs fn while holding the binding lock of id.
func (o *Orchestrator) withBinding(id domain.ConnID, fn func(b *app.Binding) error) error {
	b, ok := o.Registry.Get(id)
	if !ok {
		return domain.ErrNotConnected
	}
	b.Lock()
	defer b.Unlock()
	if b.Closed() {
		return domain.ErrNotConnected
	}
	return fn(b)
}
