package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/equipadv/barbridge/internal/bridge"
	"github.com/equipadv/barbridge/internal/config"
	"github.com/equipadv/barbridge/internal/control"
	"github.com/equipadv/barbridge/internal/feed"
	"github.com/equipadv/barbridge/internal/health"
	"github.com/equipadv/barbridge/internal/metrics"
	"github.com/equipadv/barbridge/internal/model"
	"github.com/equipadv/barbridge/internal/publisher"
	"github.com/equipadv/barbridge/internal/registry"
	"github.com/equipadv/barbridge/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/bridge.local.yaml", "path to config file")
	flag.Parse()

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting bridge",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"redis_addr", cfg.Redis.Addr,
		"vendor_mode", cfg.Vendor.Mode,
	)

	loc, err := model.FixedOffset(cfg.Subscription.UTCOffset)
	if err != nil {
		logger.Error("invalid utc offset", "error", err)
		os.Exit(1)
	}
	mode, _ := model.ParseMode(cfg.Subscription.Mode)
	periods, _ := model.ParsePeriods(cfg.Subscription.Periods)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Connect to Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		DialTimeout: cfg.Redis.DialTimeout,
	})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	logger.Info("redis connected", "addr", cfg.Redis.Addr)

	// Counters and their Prometheus mirror
	collector := metrics.NewCollector()
	global := metrics.NewGlobal(metrics.GlobalConfig{
		LateThreshold: cfg.Metrics.LateThreshold,
	})
	promReg := metrics.Exporter(collector, global)

	// Feed source
	var source feed.Source
	switch cfg.Vendor.Mode {
	case "sim":
		source = feed.NewSim(feed.SimConfig{
			Interval:  cfg.Vendor.SimInterval,
			QueueSize: cfg.Vendor.QueueSize,
			Location:  loc,
		}, logger)
	default:
		source = feed.NewCallback(cfg.Vendor.QueueSize, logger)
	}

	pub := publisher.New(publisher.Config{
		Topic:          cfg.Publisher.Topic,
		MaxRetries:     cfg.Publisher.MaxRetries,
		RetryBaseDelay: cfg.Publisher.RetryBaseDelay,
		RetryMaxDelay:  cfg.Publisher.RetryMaxDelay,
		AttemptTimeout: cfg.Publisher.AttemptTimeout,
	}, rdb, collector, global, logger)

	store := registry.New(rdb, cfg.Control.RegistryPrefix, logger)

	svc := bridge.New(bridge.Config{
		Mode:               mode,
		CloseDelay:         time.Duration(cfg.Subscription.CloseDelayMs) * time.Millisecond,
		FormingMinInterval: cfg.Subscription.FormingMinInterval,
		SweepInterval:      cfg.Subscription.SweepInterval,
		Location:           loc,
		Source:             cfg.Vendor.Source,
		BootstrapCodes:     cfg.Subscription.Codes,
		BootstrapPeriods:   periods,
	}, source, pub, store, collector, global, logger)

	plane := control.New(control.Config{
		Channel:             cfg.Control.Channel,
		AckPrefix:           cfg.Control.AckPrefix,
		AcceptStrategies:    cfg.Control.AcceptStrategies,
		DefaultMode:         mode,
		DefaultCloseDelayMs: cfg.Subscription.CloseDelayMs,
		DefaultPreloadDays:  cfg.Subscription.PreloadDays,
		DefaultTopic:        cfg.Publisher.Topic,
		Location:            loc,
	}, rdb, store, svc.Manager(), pub, nil, collector, global, logger)

	// Metrics + liveness HTTP endpoint
	mux := http.NewServeMux()
	mux.Handle(cfg.Metrics.Path, metrics.Handler(promReg))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":   "ok",
			"instance": cfg.Instance.ID,
			"version":  version.Version,
			"counters": metrics.ServiceStatus(collector, global),
		})
	})
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("starting metrics server", "port", cfg.Metrics.Port, "path", cfg.Metrics.Path)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server error", "error", err)
		}
	}()

	// Start components
	if err := svc.Start(ctx); err != nil {
		logger.Error("failed to start bridge", "error", err)
		os.Exit(1)
	}
	if err := plane.Start(ctx); err != nil {
		logger.Error("failed to start control plane", "error", err)
		os.Exit(1)
	}

	var reporter *health.Reporter
	if cfg.Health.Enabled {
		reporter = health.New(health.Config{
			KeyPrefix: cfg.Health.KeyPrefix,
			Interval:  cfg.Health.Interval,
			TTL:       cfg.Health.TTL,
			Tag:       cfg.Instance.Tag,
		}, rdb, collector, map[string]string{
			"instance": cfg.Instance.ID,
			"version":  version.Version,
		}, logger)
		if err := reporter.Start(ctx); err != nil {
			logger.Error("failed to start health reporter", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("bridge running",
		"instance_id", cfg.Instance.ID,
		"bar_topic", cfg.Publisher.Topic,
		"command_channel", cfg.Control.Channel,
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if reporter != nil {
		if err := reporter.Stop(shutdownCtx); err != nil {
			logger.Warn("health reporter stop", "error", err)
		}
	}
	if err := plane.Stop(shutdownCtx); err != nil {
		logger.Warn("control plane stop", "error", err)
	}
	if err := svc.Stop(shutdownCtx); err != nil {
		logger.Warn("bridge stop", "error", err)
	}
	httpServer.Shutdown(shutdownCtx)

	logger.Info("bridge stopped")
}
