package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/nhan2892005/study-space-media/internal/adapters/http"
	signalws "github.com/nhan2892005/study-space-media/internal/adapters/signal"
	"github.com/nhan2892005/study-space-media/internal/chat"
	"github.com/nhan2892005/study-space-media/internal/config"
	"github.com/nhan2892005/study-space-media/internal/media"
	"github.com/nhan2892005/study-space-media/internal/platform"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	// Human-friendly output for terminal; in production you may want JSON only.
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	registry := media.NewRegistry(cfg.MediaWorkers, cfg.RoutersPerWorker, cfg.MaxPeersPerRoom)
	membership := platform.AllowAllMembership{}
	chatSvc := chat.NewService(membership, platform.LogChatStore{})

	ctl := signalws.NewController(cfg, platform.TokenIdentity{}, membership, chatSvc, registry)
	go ctl.RunReapers(ctx)

	r := router.SetupRouter(ctx, cfg, ctl)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("media server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
