package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/collabrelay/internal/app"
	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	joinAttempts = 8

	ReasonHostEnded = "Host ended the session"
	ReasonAdmin     = "Session closed by the server"
	ReasonShutdown  = "server shutting down"
)

// Join attaches id to session name, creating it on first reference.
// Joining a different session leaves the current one first.
func (o *Orchestrator) Join(id domain.ConnID, name domain.SessionName, wantsHost bool) error {
	var ds []drop
	err := o.withBinding(id, func(b *app.Binding) error {
		if cur := b.Session(); cur != nil && cur.Name() != name {
			log.Info().Str("module", "app.orch").Str("conn", string(id)).Str("from", string(cur.Name())).Str("to", string(name)).Msg("switching session")
			ds = append(ds, o.leaveLocked(b)...)
		}
		for range joinAttempts {
			s := o.Sessions.GetOrCreate(name)
			res, err := s.Join(b.Member(), wantsHost)
			if errors.Is(err, core.ErrSessionClosed) {
				continue
			}
			if err != nil {
				return err
			}
			b.SetSession(s)
			ds = append(ds, drops(s, res.PublishResult)...)
			return nil
		}
		return fmt.Errorf("join %s: %w", name, core.ErrSessionClosed)
	})
	o.settle(ds)
	return err
}

// Leave detaches id from its session. Not being in a session is fine.
func (o *Orchestrator) Leave(id domain.ConnID) error {
	var ds []drop
	err := o.withBinding(id, func(b *app.Binding) error {
		ds = o.leaveLocked(b)
		return nil
	})
	o.settle(ds)
	return err
}

func (o *Orchestrator) leaveLocked(b *app.Binding) []drop {
	s := b.Session()
	if s == nil {
		return nil
	}
	b.SetSession(nil)
	res := s.Leave(b.Member().ID())
	if res.Empty {
		o.Sessions.Release(s.Name(), s)
	}
	return drops(s, res.PublishResult)
}

// Sync relays msg to everyone else in the sender's session.
func (o *Orchestrator) Sync(id domain.ConnID, msg protocol.Sync) error {
	var ds []drop
	err := o.withBinding(id, func(b *app.Binding) error {
		s, err := o.boundSession(b, msg.SessionID)
		if err != nil {
			return err
		}
		f, err := protocol.Encode(protocol.NewSyncRelay(s.Name(), msg.ProjectID, msg.Changes))
		if err != nil {
			return err
		}
		res, err := s.Relay(id, f)
		ds = drops(s, res)
		return err
	})
	o.settle(ds)
	return err
}

// AnnounceHost lets the host re-broadcast the host assignment.
func (o *Orchestrator) AnnounceHost(id domain.ConnID) error {
	var ds []drop
	err := o.withBinding(id, func(b *app.Binding) error {
		s, err := o.boundSession(b, "")
		if err != nil {
			return err
		}
		res, err := s.AnnounceHost(id)
		ds = drops(s, res)
		return err
	})
	o.settle(ds)
	return err
}

// EndSession is the host closing its own session for everybody.
func (o *Orchestrator) EndSession(id domain.ConnID) error {
	var (
		ds      []drop
		s       core.SessionService
		members []domain.ConnID
	)
	err := o.withBinding(id, func(b *app.Binding) error {
		var err error
		if s, err = o.boundSession(b, ""); err != nil {
			return err
		}
		var res core.PublishResult
		members, res, err = s.End(id, ReasonHostEnded)
		if err != nil {
			return err
		}
		b.SetSession(nil)
		o.Sessions.Release(s.Name(), s)
		ds = drops(s, res)
		return nil
	})
	if err == nil {
		o.detach(s, members)
	}
	o.settle(ds)
	return err
}

// EvictSession ends session name on behalf of the server. Members keep
// their connections and may join again.
func (o *Orchestrator) EvictSession(name domain.SessionName, reason string) bool {
	s, ok := o.Sessions.Get(name)
	if !ok {
		return false
	}
	members, res, err := s.End("", reason)
	if err != nil {
		return false
	}
	o.Sessions.Release(name, s)
	o.detach(s, members)
	o.settle(drops(s, res))
	log.Info().Str("module", "app.orch").Str("session", string(name)).Str("reason", reason).Msg("session evicted")
	return true
}

func (o *Orchestrator) detach(s core.SessionService, ids []domain.ConnID) {
	for _, id := range ids {
		b, ok := o.Registry.Get(id)
		if !ok {
			continue
		}
		b.Lock()
		if b.Session() == s {
			b.SetSession(nil)
		}
		b.Unlock()
	}
}

// boundSession resolves the session a non-join message refers to. hint is
// the optional session id carried by the message.
func (o *Orchestrator) boundSession(b *app.Binding, hint domain.SessionName) (core.SessionService, error) {
	s := b.Session()
	if s == nil || s.Closed() {
		if hint != "" {
			if _, ok := o.Sessions.Get(hint); ok {
				return nil, domain.ErrNotMember
			}
			return nil, fmt.Errorf("%w %q", domain.ErrUnknownSession, hint)
		}
		return nil, domain.ErrUnknownSession
	}
	if hint != "" && hint != s.Name() {
		if _, ok := o.Sessions.Get(hint); !ok {
			return nil, fmt.Errorf("%w %q", domain.ErrUnknownSession, hint)
		}
		return nil, fmt.Errorf("%w %q", domain.ErrNotMember, hint)
	}
	return s, nil
}
