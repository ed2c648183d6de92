package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	router "github.com/dkeye/collabrelay/internal/adapters/http"
	wsignal "github.com/dkeye/collabrelay/internal/adapters/signal"
	"github.com/dkeye/collabrelay/internal/app"
	"github.com/dkeye/collabrelay/internal/app/artifact"
	"github.com/dkeye/collabrelay/internal/app/liveness"
	"github.com/dkeye/collabrelay/internal/app/orch"
	"github.com/dkeye/collabrelay/internal/config"
	"github.com/dkeye/collabrelay/internal/domain"
	"github.com/dkeye/collabrelay/internal/observability"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Logger first so config.Load can use it.
	observability.InitLogger("collabrelay")

	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("failed to load config")
		os.Exit(1)
	}
	observability.SetLevel(cfg.LogLevel)

	o := &orch.Orchestrator{
		Registry:       app.NewRegistry(),
		Sessions:       app.NewSessionManager(),
		Policy:         app.SimplePolicy{},
		Translator:     artifact.NewSB3Translator(cfg.MaxProjectBytes),
		MaxUploadBytes: cfg.MaxUploadBytes,
	}

	monitor := liveness.NewMonitor(cfg.PingPeriod, func(id domain.ConnID) {
		o.Evict(id, "liveness")
	})
	limiter := wsignal.NewUploadRateLimiter(cfg.UploadLimit, cfg.UploadInterval)
	ctl := wsignal.NewSignalWSController(o, monitor, limiter, wsignal.ConnOptions{
		ReadLimit:  cfg.ReadLimit,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
	})

	go monitor.Run(ctx)

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	o.Shutdown(orch.ReasonShutdown)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if !o.WaitIdle(shutdownCtx) {
		log.Warn().Int("connections", o.Stats().Connections).Msg("connections still open at shutdown")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
