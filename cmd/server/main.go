package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/relay/internal/adapters/bus"
	"github.com/dkeye/relay/internal/adapters/httpapi"
	"github.com/dkeye/relay/internal/adapters/presence"
	"github.com/dkeye/relay/internal/adapters/store"
	"github.com/dkeye/relay/internal/adapters/ws"
	"github.com/dkeye/relay/internal/app"
	"github.com/dkeye/relay/internal/config"
	"github.com/dkeye/relay/internal/core"
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

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	// Presence must fail closed; refuse to start without the shared store.
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unreachable")
	}
	defer rdb.Close()

	reg := presence.NewRedis(rdb)

	var groupBus core.Bus
	if cfg.Bus == "memory" {
		groupBus = bus.NewMemory()
		log.Warn().Msg("in-memory bus: single-instance deployment only")
	} else {
		groupBus = bus.NewRedis(rdb)
	}

	sessions := app.NewRegistry()
	chat := &app.ChatController{
		Presence: reg,
		Bus:      groupBus,
		Messages: db,
		Capacity: cfg.ChatCapacity,
		Limiter:  app.NewMessageRateLimiter(cfg.MsgRateLimit, cfg.MsgRateWindow),
	}
	video := &app.VideoController{
		Presence: reg,
		Bus:      groupBus,
		Capacity: cfg.VideoCapacity,
	}

	handler := &ws.Handler{
		Rooms:        db,
		Registry:     sessions,
		Chat:         chat,
		Video:        video,
		ReadLimit:    cfg.ReadLimit,
		SendBuffer:   cfg.SendBuffer,
		WriteTimeout: cfg.WriteTimeout,
	}

	r := httpapi.SetupRouter(ctx, cfg, db, handler)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Relay server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	// Cancel live sessions first so each runs its Closing sequence and
	// releases its presence entry.
	sessions.CancelAll()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited gracefully")
}
