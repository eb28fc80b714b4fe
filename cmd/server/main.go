package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/cordor/internal/adapters/auth"
	router "github.com/dkeye/cordor/internal/adapters/http"
	"github.com/dkeye/cordor/internal/adapters/ratelimit"
	sig "github.com/dkeye/cordor/internal/adapters/signal"
	"github.com/dkeye/cordor/internal/app"
	"github.com/dkeye/cordor/internal/app/orch"
	"github.com/dkeye/cordor/internal/config"
	"github.com/dkeye/cordor/internal/core"
	"github.com/dkeye/cordor/internal/store/memory"
	"github.com/dkeye/cordor/internal/store/postgres"
)

// store is what the gateway needs plus user upserts for token provisioning.
type store interface {
	core.Store
	auth.Users
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	var st store
	if cfg.Database.URL != "" {
		pg, err := postgres.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open database")
		}
		defer pg.Close()
		st = pg
	} else {
		log.Warn().Msg("database.url not set, using in-memory store")
		st = memory.New()
	}

	srv, err := st.EnsureServer(ctx, cfg.Seed.Server, cfg.Seed.Channels)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to seed channels")
	}
	log.Info().Str("server", string(srv.ID)).Int("channels", len(srv.Channels)).Msg("channels ready")

	var limiter ratelimit.Limiter
	switch cfg.RateLimit.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatal().Err(err).Msg("failed to reach redis")
		}
		limiter = ratelimit.NewRedis(rdb, cfg.RateLimit.Events, cfg.RateLimit.Interval, "cordor:rl:")
	default:
		limiter = ratelimit.NewMemory(cfg.RateLimit.Events, cfg.RateLimit.Interval)
	}

	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(),
		Policy:   app.SimplePolicy{},
		Store:    st,
		Features: orch.Features{
			Friends:        cfg.Features.Friends,
			DirectMessages: cfg.Features.DirectMessages,
		},
		HistoryLimit:          cfg.HistoryLimit,
		EnforceServerBoundary: cfg.EnforceServerBoundary,
	}

	resolver := &auth.JWTResolver{
		Secret:        []byte(cfg.Auth.JWTSecret),
		Issuer:        cfg.Auth.Issuer,
		Users:         st,
		AutoProvision: cfg.Auth.AutoProvision,
	}

	r := router.SetupRouter(ctx, cfg.Mode, router.Deps{
		Orch:     o,
		Identity: resolver,
		Limiter:  limiter,
		Signal: sig.Options{
			ReadLimit:  cfg.ReadLimit,
			PingPeriod: cfg.PingPeriod,
			PongWait:   cfg.PongWait(),
			WriteWait:  cfg.WriteWait,
			SendBuffer: cfg.SendBuffer,
		},
	})
	addr := fmt.Sprintf(":%d", cfg.Port)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("gateway started")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	log.Info().Msg("Server exited gracefully")
}
