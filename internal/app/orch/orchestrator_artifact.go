package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/collabrelay/internal/app"
	"github.com/dkeye/collabrelay/internal/core"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/observability"
	"github.com/rs/zerolog/log"
)

// Upload translates data and, if id is still the host of its session,
// makes it the session artifact. Translation runs without any lock held.
func (o *Orchestrator) Upload(id domain.ConnID, data []byte) error {
	err := o.upload(id, data)
	observability.RecordUpload(err == nil, len(data))
	if err != nil {
		log.Warn().Err(err).Str("module", "app.orch").Str("conn", string(id)).Int("size", len(data)).Msg("upload rejected")
	}
	return err
}

func (o *Orchestrator) upload(id domain.ConnID, data []byte) error {
	var s core.SessionService
	err := o.withBinding(id, func(b *app.Binding) error {
		var err error
		if s, err = o.boundSession(b, ""); err != nil {
			return err
		}
		if host, _ := s.HostID(); host != id {
			return domain.ErrNotHost
		}
		return nil
	})
	if err != nil {
		return err
	}

	if o.MaxUploadBytes > 0 && len(data) > o.MaxUploadBytes {
		return fmt.Errorf("%w: file is larger than %d bytes", domain.ErrArtifactDecode, o.MaxUploadBytes)
	}
	if o.Translator == nil {
		return fmt.Errorf("%w: no translator configured", domain.ErrArtifactDecode)
	}
	art, err := o.Translator.Translate(data)
	if err != nil {
		if !errors.Is(err, domain.ErrArtifactDecode) {
			err = fmt.Errorf("%w: %v", domain.ErrArtifactDecode, err)
		}
		return err
	}

	var ds []drop
	err = o.withBinding(id, func(b *app.Binding) error {
		if b.Session() != s {
			return domain.ErrNotMember
		}
		res, err := s.ReplaceArtifact(id, art)
		ds = drops(s, res)
		if errors.Is(err, core.ErrSessionClosed) {
			return domain.ErrUnknownSession
		}
		return err
	})
	o.settle(ds)
	return err
}
