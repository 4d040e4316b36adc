package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/relaymesh/relaymesh/internal/api"
	"github.com/relaymesh/relaymesh/internal/backplane"
	"github.com/relaymesh/relaymesh/internal/config"
	"github.com/relaymesh/relaymesh/internal/conn"
	"github.com/relaymesh/relaymesh/internal/metrics"
	"github.com/relaymesh/relaymesh/internal/session"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("relaymeshd starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	nodeID := cfg.Server.NodeID
	if nodeID == "" {
		nodeID = uuid.NewString()
	}

	slog.Info("config loaded",
		"node_id", nodeID,
		"http_port", cfg.Server.HTTPPort,
		"liveness_timeout", cfg.Server.Transport.LivenessTimeout,
		"idle_grace", cfg.Server.Session.IdleGrace,
		"backplane", cfg.Server.Backplane.RedisURL != "",
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Session registry with background idle sweeping.
	registry := session.NewRegistry(cfg.Server.Session.IdleGrace, cfg.Server.Session.PendingBuffer)
	supervisor := session.NewSupervisor(registry, cfg.Server.Session.SweepInterval)
	go supervisor.Run(ctx)

	// Connection manager. Inbound UI-event payloads become the session's
	// current UI-state snapshot; richer application logic hooks in here.
	manager := conn.NewManager(registry, conn.Options{
		HandshakeTimeout: cfg.Server.Transport.HandshakeTimeout,
		LivenessTimeout:  cfg.Server.Transport.LivenessTimeout,
		MaxMessageSize:   cfg.Server.Transport.MaxMessageSize,
		SendBuffer:       cfg.Server.Transport.SendBuffer,
		Retry: conn.RetryPolicy{
			Attempts: cfg.Server.Retry.Attempts,
			Interval: cfg.Server.Retry.Interval,
		},
	}, func(sess *session.Session, payload []byte) {
		sess.SetState(payload)
	})
	go manager.Run(ctx)

	// Backplane: Redis when configured, single-node mode otherwise. An
	// unreachable Redis degrades instead of aborting startup.
	var bus backplane.Bus
	if cfg.Server.Backplane.RedisURL != "" {
		redisBus, err := backplane.NewRedisBus(ctx, backplane.RedisOptions{
			URL:           cfg.Server.Backplane.RedisURL,
			Channel:       cfg.Server.Backplane.Channel,
			PublishBuffer: cfg.Server.Backplane.PublishBuffer,
			ReconnectMin:  cfg.Server.Backplane.ReconnectMin,
			ReconnectMax:  cfg.Server.Backplane.ReconnectMax,
		})
		if err != nil {
			slog.Error("failed to configure backplane", "err", err)
			os.Exit(1)
		}
		defer redisBus.Close()
		bus = redisBus
	} else {
		slog.Info("no backplane configured — running single-node")
	}

	relay := backplane.NewRelay(nodeID, bus, manager)
	go relay.Run(ctx) //nolint:errcheck

	// Hot reload for the dynamic settings; everything else needs a restart.
	go func() {
		err := config.Watch(ctx, *configPath, func(next *config.Config) {
			manager.SetRetryPolicy(conn.RetryPolicy{
				Attempts: next.Server.Retry.Attempts,
				Interval: next.Server.Retry.Interval,
			})
			registry.SetIdleGrace(next.Server.Session.IdleGrace)
		})
		if err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/ws/session", manager)
	mux.Handle("/api/", api.New(registry, relay, manager))
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("relaymeshd shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
