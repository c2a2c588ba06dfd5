package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	router "github.com/dkeye/Huddle/internal/adapters/http"
	"github.com/dkeye/Huddle/internal/adapters/rtc"
	sig "github.com/dkeye/Huddle/internal/adapters/signal"
	"github.com/dkeye/Huddle/internal/app"
	"github.com/dkeye/Huddle/internal/app/orch"
	"github.com/dkeye/Huddle/internal/app/sfu"
	"github.com/dkeye/Huddle/internal/auth"
	"github.com/dkeye/Huddle/internal/config"
	"github.com/dkeye/Huddle/internal/core"
	"github.com/dkeye/Huddle/internal/lifecycle"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Set up zerolog before config.Load so it can log.
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

	secret := cfg.Auth.Secret
	if secret == "" && cfg.Mode == "debug" {
		secret = uuid.NewString()
		log.Warn().Str("module", "main").Msg("auth.secret unset, using a throwaway secret")
	}
	verifier, err := auth.NewHMAC(secret, cfg.Auth.Issuer, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("auth setup failed")
	}

	selection, err := sfu.ParseSelection(cfg.Media.WorkerSelection)
	if err != nil {
		log.Fatal().Err(err).Msg("bad media.worker_selection")
	}
	caps := sfu.DefaultCapabilities()
	engine, err := rtc.NewEngine(rtc.EngineConfig{
		Workers:      sfu.WorkerCount(cfg.Media.Workers),
		ICEServers:   cfg.Media.ICEServers,
		UDPPortMin:   cfg.Media.UDPPortMin,
		UDPPortMax:   cfg.Media.UDPPortMax,
		Capabilities: caps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("media engine failed to start")
	}

	var sink core.LifecycleSink = lifecycle.LogSink{}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			log.Warn().Err(err).Str("module", "main").Str("addr", cfg.Redis.Addr).Msg("redis unreachable, lifecycle events go to the log")
			rdb.Close()
			rdb = nil
		} else {
			rs := lifecycle.NewRedisSink(rdb, cfg.Redis.Channel, 256)
			go rs.Run(ctx)
			sink = rs
		}
	}

	o := orch.New(orch.Options{
		TypingTTL:     cfg.Chat.TypingTTL,
		TeardownGrace: cfg.Room.TeardownGrace,
		Policy:        app.NewStrikePolicy(cfg.Room.BackpressureStrikes),
		Sink:          sink,
		Engine:        engine,
		Media: sfu.Options{
			Capabilities: caps,
			Bitrate: sfu.BitratePolicy{
				Initial: cfg.Media.InitialBitrate,
				Floor:   cfg.Media.MinBitrate,
				Ceiling: cfg.Media.MaxBitrate,
			},
			Selection:   selection,
			IdleTimeout: cfg.Media.TransportIdleTimeout,
		},
	})
	limiter := sig.NewRoomRateLimiter(cfg.RateLimit.Limit, cfg.RateLimit.Interval, nil)

	r := router.SetupRouter(ctx, cfg, o, verifier, limiter)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Huddle server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	o.Shutdown()
	if err := engine.Close(); err != nil {
		log.Error().Err(err).Msg("media engine close failed")
	}
	if rdb != nil {
		rdb.Close()
	}
	log.Info().Msg("Server exited gracefully")
}
