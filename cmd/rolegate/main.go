// Command rolegate runs the role-gated onboarding bot: the Discord gateway
// session, the onboarding core and the ops/admin HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/rolegate/internal/config"
	"github.com/tbourn/rolegate/internal/discord"
	httpapi "github.com/tbourn/rolegate/internal/http"
	"github.com/tbourn/rolegate/internal/observability"
	"github.com/tbourn/rolegate/internal/repo"
	"github.com/tbourn/rolegate/internal/services"
	"github.com/tbourn/rolegate/internal/sysutil"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, nil)
	if err != nil {
		log.Error().Err(err).Str("discord_token", sysutil.MaskSecret(cfg.Discord.Token)).Msg("invalid configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("rolegate stopped")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	store, err := repo.Open(ctx, repo.Options{
		Backend:        cfg.Store.Backend,
		DBPath:         cfg.Store.DBPath,
		RedisURL:       cfg.Store.RedisURL,
		RedisNamespace: cfg.Store.RedisNamespace,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing store")
		}
	}()
	log.Info().Str("backend", cfg.Store.Backend).Msg("store ready")

	session, err := discord.New(cfg.Discord.Token)
	if err != nil {
		return err
	}
	ob := services.NewOnboarding(store, discord.NewPlatform(session), nil, onboardingOptions(cfg.Onboarding))
	defer ob.Close()

	bridge := discord.NewBridge(ob, session, cfg.Onboarding.EventTimeout)
	bridge.Register(session)
	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Msg("closing discord session")
		}
	}()

	var srv *http.Server
	errCh := make(chan error, 1)
	if cfg.HTTP.Enabled {
		srv = newServer(cfg, httpapi.Deps{
			Flows:      services.NewFlowService(store),
			Onboarding: ob,
			Store:      store,
		})
		go func() {
			log.Info().Str("addr", srv.Addr).Bool("admin_api", cfg.HTTP.AdminToken != "").Msg("http server listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http server: %w", err)
			}
		}()
	}

	log.Info().Str("version", version).Msg("rolegate running")
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		return err
	}

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
	}
	return nil
}

func newServer(cfg config.Config, deps httpapi.Deps) *http.Server {
	gin.SetMode(cfg.HTTP.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, deps)
	return &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           r,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		MaxHeaderBytes:    cfg.HTTP.MaxHeaderBytes,
	}
}

func onboardingOptions(c config.OnboardingConfig) services.Options {
	return services.Options{
		CooldownTTL:      c.CooldownTTL,
		DedupTTL:         c.DedupTTL,
		RemovalDelay:     c.RoleRemovalDelay,
		Timeout:          c.Timeout,
		ActionTimeout:    c.EventTimeout,
		RestoreRetries:   c.RestoreRetries,
		Reflow:           c.ReflowMessages,
		ConfirmLabel:     c.ConfirmLabel,
		DMCopy:           c.DMCopy,
		RevokeChannel:    c.RevokeChannel,
		AuditLog:         c.AuditLog,
		Sequence:         c.SequenceFlows,
		SequenceDebounce: c.SequenceDebounce,
		SequenceSpacing:  c.SequenceSpacing,
		SequenceWait:     c.SequenceWaitLimit,
	}
}
