package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/coldchainhq/alert-engine/internal/alert"
	"github.com/coldchainhq/alert-engine/internal/clock"
	"github.com/coldchainhq/alert-engine/internal/config"
	"github.com/coldchainhq/alert-engine/internal/dispatch"
	"github.com/coldchainhq/alert-engine/internal/ingest"
	"github.com/coldchainhq/alert-engine/internal/limiter"
	"github.com/coldchainhq/alert-engine/internal/monitor"
	"github.com/coldchainhq/alert-engine/internal/rules"
	"github.com/coldchainhq/alert-engine/internal/storage"
	"github.com/coldchainhq/alert-engine/internal/tracker"
)

func main() {
	cfg, err := config.Load("./config")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	var logger *zap.Logger
	if cfg.App.Env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to NATS with reconnect handling
	opts := []nats.Option{
		nats.Name(cfg.App.Name),
		nats.MaxReconnects(cfg.NATS.MaxReconnects),
		nats.ReconnectWait(cfg.NATS.ReconnectWait),
		nats.Timeout(cfg.NATS.ConnectTimeout),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Error("NATS connection error", zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		nc, err = nats.Connect(cfg.NATS.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		logger.Fatal("Failed to connect to NATS after retries", zap.Error(err))
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("Failed to create JetStream context", zap.Error(err))
	}

	// Redis backs the cooldown and rate limits
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	pingCancel()

	store, err := storage.NewStore(logger, cfg.Storage.Path)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.Error(err))
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Real{}

	gate := limiter.New(logger, rdb, limiter.Config{
		PerAlert:           cfg.Cooldown.PerAlert,
		PerContact:         cfg.Cooldown.PerContact,
		OrgWindow:          cfg.Cooldown.OrgWindow,
		MaxSMSPerOrgWindow: cfg.Cooldown.MaxSMSPerOrgWindow,
	}, clk)

	dispatcher := dispatch.New(logger, js, gate, cfg.Dispatch.PublishTimeout)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatal("Failed to start dispatcher", zap.Error(err))
	}

	alertManager := alert.NewManager(logger, store, clk)
	resolver := rules.NewResolver(logger, store)
	unitTracker := tracker.NewTracker(logger, store, alertManager, resolver, clk)
	unitTracker.StartOfflineSweep(ctx, cfg.Sweep.OfflineInterval)
	defer unitTracker.Stop()

	escalation := alert.NewScheduler(logger, store, store, gate, dispatcher,
		cfg.EscalationRules(), clk, cfg.Sweep.EscalationInterval)
	if err := escalation.Start(ctx); err != nil {
		logger.Fatal("Failed to start escalation scheduler", zap.Error(err))
	}
	defer escalation.Stop()

	consumer := ingest.NewConsumer(logger, js, unitTracker, clk,
		cfg.Ingest.Subject, cfg.Ingest.Durable, cfg.Ingest.ReadingTimeout)
	if err := consumer.Start(ctx); err != nil {
		logger.Fatal("Failed to start reading consumer", zap.Error(err))
	}
	defer consumer.Stop()

	if cfg.Metrics.Enabled {
		health := monitor.NewHealthCollector(js, store, cfg.Metrics.Interval, logger)
		if err := health.Start(ctx); err != nil {
			logger.Fatal("Failed to start health collector", zap.Error(err))
		}
		defer health.Stop()
	}

	logger.Info("Alert engine started",
		zap.String("nats_url", nc.ConnectedUrl()),
		zap.String("storage", cfg.Storage.Path))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	logger.Info("Alert engine shutting down gracefully")
}
