package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/commission-escrow/api/routes"
	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/internal/payouts"
	"github.com/angelmondragon/commission-escrow/internal/subscriptions"
	gatewaywebhook "github.com/angelmondragon/commission-escrow/internal/webhooks/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
	"github.com/angelmondragon/commission-escrow/pkg/migrate"
	"github.com/angelmondragon/commission-escrow/pkg/outbox"
	"github.com/angelmondragon/commission-escrow/pkg/redis"
)

const (
	shutdownTimeout = 15 * time.Second
	seenCacheScope  = "gateway-webhook"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "api"

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "serviceKind", cfg.Service.Kind)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to create gateway client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:           ledger.NewRepository(dbClient.DB()),
		CommissionRate: cfg.Escrow.CommissionRate,
		EscrowPeriod:   cfg.Escrow.EscrowPeriod(),
	})
	if err != nil {
		logg.Error(ctx, "failed to create ledger service", err)
		os.Exit(1)
	}

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	notificationsService, err := notifications.NewService(notificationsRepo)
	if err != nil {
		logg.Error(ctx, "failed to create notifications service", err)
		os.Exit(1)
	}
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:          notificationsRepo,
		Logger:        logg,
		Metrics:       metrics.NewNotificationMetrics(registry),
		QueueSize:     cfg.Notifications.QueueSize,
		Workers:       cfg.Notifications.Workers,
		RetryAttempts: cfg.Notifications.RetryAttempts,
		RetryBackoff:  cfg.Notifications.RetryBackoff,
		Retention:     cfg.Notifications.Retention(),
	})
	if err != nil {
		logg.Error(ctx, "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	// The API only settles transfers and releases held batches; the cron
	// worker owns the transfer queue, so Run is never started here.
	batcher, err := payouts.NewBatcher(payouts.BatcherParams{
		DB:         dbClient,
		Repo:       payouts.NewRepository(dbClient.DB()),
		Ledger:     ledgerService,
		Gateway:    gatewayClient,
		Notifier:   dispatcher,
		Logger:     logg,
		Metrics:    metrics.NewPayoutMetrics(registry),
		BatchSize:  cfg.Payout.BatchSize,
		OpsAccount: cfg.Payout.OpsAccount(),
	})
	if err != nil {
		logg.Error(ctx, "failed to create payout batcher", err)
		os.Exit(1)
	}

	// Subscription events are queued in the webhook transaction; the cron
	// worker relays them to Pub/Sub.
	outboxService, err := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	if err != nil {
		logg.Error(ctx, "failed to create outbox service", err)
		os.Exit(1)
	}
	forwarder, err := subscriptions.NewOutboxForwarder(outboxService)
	if err != nil {
		logg.Error(ctx, "failed to create subscription forwarder", err)
		os.Exit(1)
	}

	var seen *gatewaywebhook.SeenCache
	if cfg.FeatureFlags.SeenCache {
		seen, err = gatewaywebhook.NewSeenCache(redisClient, cfg.Webhook.SeenTTL, seenCacheScope)
		if err != nil {
			logg.Error(ctx, "failed to create webhook seen cache", err)
			os.Exit(1)
		}
	}

	webhookService, err := gatewaywebhook.NewService(gatewaywebhook.ServiceParams{
		DB:        dbClient,
		Repo:      gatewaywebhook.NewRepository(dbClient.DB()),
		Ledger:    ledgerService,
		Payouts:   batcher,
		Forwarder: forwarder,
		Notifier:  dispatcher,
		SeenCache: seen,
		Logger:    logg,
		Metrics:   metrics.NewWebhookMetrics(registry),
		Secret:    cfg.Webhook.Secret,
	})
	if err != nil {
		logg.Error(ctx, "failed to create webhook service", err)
		os.Exit(1)
	}

	router := routes.NewRouter(routes.RouterParams{
		Config:        cfg,
		Logger:        logg,
		DB:            dbClient,
		Redis:         redisClient,
		Idempotency:   redisClient,
		Gatherer:      registry,
		Webhooks:      webhookService,
		Notifications: notificationsService,
		Ledger:        ledgerService,
		Payouts:       batcher,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return dispatcher.Run(groupCtx)
	})
	group.Go(func() error {
		logg.Info(groupCtx, "api listening on :"+cfg.App.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "api stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api shut down gracefully")
}
