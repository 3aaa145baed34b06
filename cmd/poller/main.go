package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/config"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/logger"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/richardliu001/pix-acquirer/internal/retry"
	"github.com/richardliu001/pix-acquirer/internal/service"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
)

func main() {
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	log, err := logger.NewLogger("poller", cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalw("open postgres", "error", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	hc, err := gateway.NewHTTPClient(cfg.Gateway.CertPath, cfg.Gateway.CertPassword, cfg.Gateway.Timeout)
	if err != nil {
		log.Fatalw("gateway client certificate", "path", cfg.Gateway.CertPath, "error", err)
	}
	tokens := gateway.NewTokenProvider(gateway.TokenConfig{
		TokenURL:     cfg.Gateway.TokenURL,
		ClientID:     cfg.Gateway.ClientID,
		ClientSecret: cfg.Gateway.ClientSecret,
		RenewBefore:  cfg.Gateway.RenewBefore,
		Retry:        retry.Default,
	}, hc, log)
	gw := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.Gateway.BaseURL,
		PixKey:   cfg.Gateway.PixKey,
		Timeout:  cfg.Gateway.Timeout,
		PageSize: cfg.Poller.PageSize,
	}, hc, tokens, log)

	repository := repo.NewRepository(gdb, rdb, kw, log)
	ledger := service.NewLedger(repository, log)
	dispatcher := service.NewDispatcher(repository, nil, service.DispatcherConfig{
		Timeout:     cfg.Webhooks.Timeout,
		MaxFailures: cfg.Webhooks.MaxFailures,
	}, log)
	txs := service.NewTransactionService(repository, ledger, gw, dispatcher, cfg.Gateway.ChargeTTL, log)
	reconciler := service.NewReconciler(repository, gw, txs, service.ReconcilerConfig{
		Interval:    cfg.Poller.Interval,
		ExpiryGrace: cfg.Poller.ExpiryGrace,
		BatchSize:   cfg.Poller.PageSize,
	}, log)
	relay := service.NewRelay(repository, 100, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reconcileTicker := time.NewTicker(cfg.Poller.Interval)
	defer reconcileTicker.Stop()
	outboxTicker := time.NewTicker(cfg.Poller.OutboxInterval)
	defer outboxTicker.Stop()

	log.Infow("pix-acquirer poller started", "interval", cfg.Poller.Interval, "outbox_interval", cfg.Poller.OutboxInterval)
	reconciler.TickExclusive(ctx, cfg.Poller.LockTTL)
	for {
		select {
		case <-ctx.Done():
			log.Info("pix-acquirer poller stopped")
			return
		case <-reconcileTicker.C:
			reconciler.TickExclusive(ctx, cfg.Poller.LockTTL)
		case <-outboxTicker.C:
			if _, err := relay.Flush(ctx); err != nil {
				log.Errorw("outbox flush", "error", err)
			}
		}
	}
}

