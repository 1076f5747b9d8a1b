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

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/dkeye/voicechan/internal/adapters/http"
	"github.com/dkeye/voicechan/internal/adapters/presence"
	"github.com/dkeye/voicechan/internal/adapters/rtc"
	wsignal "github.com/dkeye/voicechan/internal/adapters/signal"
	"github.com/dkeye/voicechan/internal/app/negotiation"
	"github.com/dkeye/voicechan/internal/app/sfu"
	"github.com/dkeye/voicechan/internal/app/voice"
	"github.com/dkeye/voicechan/internal/config"
	"github.com/dkeye/voicechan/internal/core"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	} else {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, keeping info")
	}

	relays := sfu.NewRelayManager()
	engine, err := rtc.NewEngine(rtc.Config{
		ICEServers: cfg.RTC.ICEServers,
		UDPPortMin: cfg.RTC.UDPPortMin,
		UDPPortMax: cfg.RTC.UDPPortMax,
		NAT1To1IPs: cfg.RTC.NATIPs,
	}, relays)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build media engine")
	}

	hub := wsignal.NewHub()

	var observers []core.PresenceObserver
	var mirror *presence.Observer
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		mirror = presence.NewObserver(presence.NewRedisStore(rdb, cfg.Redis.Prefix), 0)
		observers = append(observers, mirror)
	}

	registry := voice.NewRegistry(ctx, voice.Options{
		Engine:    engine,
		Transport: hub,
		Negotiation: negotiation.Config{
			AnswerTimeout: cfg.Negotiation.AnswerTimeout,
			MaxRetries:    cfg.Negotiation.MaxRetries,
		},
		Observers: observers,
	})

	ctl := wsignal.NewSignalWSController(registry, hub,
		wsignal.NewSpeakingLimiter(cfg.Speaking.Rate, cfg.Speaking.Burst),
		wsignal.Options{
			ReadLimit:      cfg.ReadLimit,
			PingPeriod:     cfg.PingPeriod,
			RequestTimeout: cfg.RequestTimeout,
			SendBuffer:     cfg.SendBuffer,
		})

	r := router.SetupRouter(ctx, cfg, ctl, registry)
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("Voice server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if mirror != nil {
		g.Go(func() error { return mirror.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}
		return registry.Close(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server error")
	}
	log.Info().Msg("Server exited gracefully")
}
