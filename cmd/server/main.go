package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/richardliu001/pix-acquirer/internal/config"
	"github.com/richardliu001/pix-acquirer/internal/fee"
	"github.com/richardliu001/pix-acquirer/internal/gateway"
	"github.com/richardliu001/pix-acquirer/internal/logger"
	"github.com/richardliu001/pix-acquirer/internal/model"
	"github.com/richardliu001/pix-acquirer/internal/repo"
	"github.com/richardliu001/pix-acquirer/internal/retry"
	"github.com/richardliu001/pix-acquirer/internal/service"
	httptransport "github.com/richardliu001/pix-acquirer/internal/transport/http"
	"github.com/shopspring/decimal"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	// 1. load config
	cfg, err := config.Load("internal/config/config.yaml")
	if err != nil {
		panic(fmt.Errorf("load config: %w", err))
	}

	// 2. init logger
	log, err := logger.NewLogger("api", cfg.Log.Level)
	if err != nil {
		panic(fmt.Errorf("init logger: %w", err))
	}
	defer log.Sync()

	flatFee, err := decimal.NewFromString(cfg.Withdrawals.FlatFee)
	if err != nil {
		log.Fatalw("invalid withdrawal flat fee", "value", cfg.Withdrawals.FlatFee, "error", err)
	}
	defaultRate, err := decimal.NewFromString(cfg.Merchants.DefaultFeePercentage)
	if err != nil {
		log.Fatalw("invalid default fee percentage", "value", cfg.Merchants.DefaultFeePercentage, "error", err)
	}
	defaultFee := fee.Percentage{Rate: defaultRate}
	if err := fee.Validate(defaultFee); err != nil {
		log.Fatalw("invalid default fee", "error", err)
	}

	// 3. postgres
	gdb, err := gorm.Open(postgres.Open(cfg.Postgres.DSN), &gorm.Config{PrepareStmt: true})
	if err != nil {
		log.Fatalw("open postgres", "error", err)
	}
	if err := gdb.AutoMigrate(model.All()...); err != nil {
		log.Fatalw("auto-migrate", "error", err)
	}

	// 4. redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalw("redis ping", "error", err)
	}

	// 5. kafka writer
	kw := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Kafka.Brokers...),
		Topic:    cfg.Kafka.Topic,
		Balancer: &kafka.Hash{},
	}
	defer kw.Close()

	// 6. gateway
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

	// 7. repo & services
	repository := repo.NewRepository(gdb, rdb, kw, log)
	ledger := service.NewLedger(repository, log)
	dispatcher := service.NewDispatcher(repository, nil, service.DispatcherConfig{
		Timeout:     cfg.Webhooks.Timeout,
		MaxFailures: cfg.Webhooks.MaxFailures,
	}, log)
	txs := service.NewTransactionService(repository, ledger, gw, dispatcher, cfg.Gateway.ChargeTTL, log)
	svc := httptransport.Services{
		Merchants:    service.NewMerchantService(repository, defaultFee, log),
		Transactions: txs,
		Withdrawals:  service.NewWithdrawalService(repository, ledger, flatFee, log),
		Webhooks:     service.NewWebhookService(repository, dispatcher, log),
		APIKeys:      service.NewAPIKeyService(repository, log),
		Ingest:       service.NewIngestService(repository, gw, txs, log),
		Ledger:       ledger,
	}

	// 8. gin router
	router := httptransport.NewRouter(svc, cfg.RateLimit, cfg.Auth, log)

	// 9. serve until signalled
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Server.Port), Handler: router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Infow("pix-acquirer server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("listen", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("shutdown", "error", err)
	}
	log.Info("pix-acquirer server stopped")
}
