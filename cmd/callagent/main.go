package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/device/virtual"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/memory"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/redis"
	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/metrics/prom"
	"github.com/Wyydra/yacall/internal/adapter/driven/permission/static"
	handler "github.com/Wyydra/yacall/internal/adapter/driving/http"
	"github.com/Wyydra/yacall/internal/config"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type signaling interface {
	port.SignalingChannel
	Close() error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	zerolog.SetGlobalLevel(cfg.App.LogLevel)
	w := zerolog.ConsoleWriter{Out: os.Stdout}
	log.Logger = zerolog.New(w).With().Timestamp().Caller().Str("user_id", cfg.User.ID.String()).Logger()
	l := log.Logger

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := prom.New(cfg.Metrics.Namespace, reg)

	ctx := context.Background()
	channel, cleanup, err := connect(ctx, cfg)
	if err != nil {
		l.Fatal().Err(err).Str("transport", cfg.Signaling.Transport).Msg("Failed to connect signaling")
	}

	gate, err := static.Parse(cfg.Call.Permissions)
	if err != nil {
		l.Fatal().Err(err).Msg("Invalid permissions")
	}

	calls := service.NewCallManager(channel, gate, service.NewMediaManager(virtual.New(), metrics), service.Options{
		Local:        cfg.User,
		RingTimeout:  cfg.Call.RingTimeout,
		DisposeAfter: cfg.Call.DisposeAfter,
		Metrics:      metrics,
	})

	hub := handler.NewHub(calls.Snapshot())
	go hub.Run()
	updates, unsubscribe := calls.Subscribe()
	go hub.Follow(updates)

	h := handler.NewHandler(calls, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.App.HTTPAddr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		l.Info().Str("addr", cfg.App.HTTPAddr).Str("env", cfg.App.Env).Str("transport", cfg.Signaling.Transport).Msg("Starting call agent")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	<-quit
	l.Info().Msg("Shutting down call agent...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	calls.Close(shutdownCtx)
	unsubscribe()
	cleanup()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error().Err(err).Msg("Server forced to shutdown")
	}
	hub.Stop()
	l.Info().Msg("Call agent exited")
}

// connect opens the configured signaling transport. The returned cleanup
// closes it and anything it depends on.
func connect(ctx context.Context, cfg config.Config) (signaling, func(), error) {
	switch cfg.Signaling.Transport {
	case config.TransportWS:
		token, err := ws.NewToken([]byte(cfg.Signaling.Secret), cfg.User, time.Now())
		if err != nil {
			return nil, nil, err
		}
		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		c, err := ws.Dial(dialCtx, cfg.Signaling.URL, token)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil

	case config.TransportRedis:
		rdb, err := redis.Open(ctx, redis.Config{Addr: cfg.Signaling.RedisAddr})
		if err != nil {
			return nil, nil, err
		}
		g, err := redis.Connect(ctx, rdb, cfg.User.ID, 0)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return g, func() {
			_ = g.Close()
			_ = rdb.Close()
		}, nil

	default:
		sw := memory.NewSwitch()
		c := sw.Connect(cfg.User.ID)
		stop := startEchoPeer(sw, cfg.Call.DisposeAfter)
		return c, func() {
			stop()
			_ = c.Close()
		}, nil
	}
}
