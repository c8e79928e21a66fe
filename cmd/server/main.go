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

	router "github.com/avelov/tollcall/internal/adapters/http"
	wssignal "github.com/avelov/tollcall/internal/adapters/signal"
	"github.com/avelov/tollcall/internal/app"
	"github.com/avelov/tollcall/internal/app/orch"
	"github.com/avelov/tollcall/internal/auth"
	"github.com/avelov/tollcall/internal/config"
	"github.com/avelov/tollcall/internal/ledger"
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

	store := ledger.NewMemoryStore()
	led := ledger.New(store)
	reg := app.NewRegistry(led)
	hub := wssignal.NewHub()
	billing := &app.BillingClock{
		Ledger:   led,
		Rate:     cfg.PerMinuteRate,
		Interval: cfg.BillingInterval,
		Retries:  cfg.BillingRetries,
	}
	o := orch.New(reg, hub, billing, led, cfg.InviteTimeout)

	limiter := wssignal.NewInviteRateLimiter(cfg.InviteRateLimit, cfg.InviteRateWindow)
	ctl := wssignal.NewSignalWSController(o, hub, limiter, cfg.ReadLimit, cfg.DisconnectTimeout)
	a := auth.New(cfg.Secret, cfg.TokenTTL)

	r := router.SetupRouter(ctx, cfg, o, ctl, led, a)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Tollcall server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	o.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
