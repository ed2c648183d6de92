package signal

import (
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleJoin(id domain.ConnID, msg protocol.Join) error {
	log.Info().Str("module", "signal").Str("conn", string(id)).Str("session", string(msg.SessionID)).Bool("wants_host", msg.WantsHost).Msg("join")
	return ctl.Orch.Join(id, msg.SessionID, msg.WantsHost)
}

// handleLeave leaves the current session; the connection stays open.
func (ctl *SignalWSController) handleLeave(id domain.ConnID) error {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("leave")
	return ctl.Orch.Leave(id)
}

// host-status from a client is only a request to re-announce; the flag it
// carries cannot change who the host is.
func (ctl *SignalWSController) handleHostStatus(id domain.ConnID, msg protocol.HostStatus) error {
	if !msg.IsHost {
		return nil
	}
	return ctl.Orch.AnnounceHost(id)
}

func (ctl *SignalWSController) handleEndSession(id domain.ConnID) error {
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("end session")
	return ctl.Orch.EndSession(id)
}

func (ctl *SignalWSController) handleUpload(id domain.ConnID, msg protocol.Upload) error {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("conn", string(id)).Msg("upload rate limited")
		return domain.ErrRateLimited
	}
	return ctl.Orch.Upload(id, msg.Data)
}
