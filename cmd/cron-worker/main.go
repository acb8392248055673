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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/commission-escrow/internal/cron"
	"github.com/angelmondragon/commission-escrow/internal/escrow"
	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/internal/payouts"
	"github.com/angelmondragon/commission-escrow/internal/subscriptions"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
	"github.com/angelmondragon/commission-escrow/pkg/migrate"
	"github.com/angelmondragon/commission-escrow/pkg/outbox"
	"github.com/angelmondragon/commission-escrow/pkg/pubsub"
	"github.com/angelmondragon/commission-escrow/pkg/redis"
)

const (
	sweepLockName       = "escrow-sweep"
	maintenanceLockName = "notification-maintenance"
	shutdownTimeout     = 10 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Env:         cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithField(ctx, "serviceKind", cfg.Service.Kind)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(ctx, logg, "failed to bootstrap database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	exitOn(ctx, logg, "failed to run dev migrations", migrate.MaybeRunDev(ctx, cfg, logg, dbClient))

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	exitOn(ctx, logg, "failed to bootstrap redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	exitOn(ctx, logg, "failed to create gateway client", err)

	reg := prometheus.DefaultRegisterer
	cronMetrics := metrics.NewCronJobMetrics(reg)
	sweepMetrics := metrics.NewSweepMetrics(reg)
	notificationMetrics := metrics.NewNotificationMetrics(reg)

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		Repo:           ledger.NewRepository(dbClient.DB()),
		CommissionRate: cfg.Escrow.CommissionRate,
		EscrowPeriod:   cfg.Escrow.EscrowPeriod(),
	})
	exitOn(ctx, logg, "failed to create ledger service", err)

	notificationsRepo := notifications.NewRepository(dbClient.DB())
	dispatcher, err := notifications.NewDispatcher(notifications.DispatcherParams{
		Repo:          notificationsRepo,
		Logger:        logg,
		Metrics:       notificationMetrics,
		QueueSize:     cfg.Notifications.QueueSize,
		Workers:       cfg.Notifications.Workers,
		RetryAttempts: cfg.Notifications.RetryAttempts,
		RetryBackoff:  cfg.Notifications.RetryBackoff,
		Retention:     cfg.Notifications.Retention(),
	})
	exitOn(ctx, logg, "failed to create notification dispatcher", err)

	batcher, err := payouts.NewBatcher(payouts.BatcherParams{
		DB:            dbClient,
		Repo:          payouts.NewRepository(dbClient.DB()),
		Ledger:        ledgerService,
		Gateway:       gatewayClient,
		Notifier:      dispatcher,
		Logger:        logg,
		Metrics:       metrics.NewPayoutMetrics(reg),
		BatchSize:     cfg.Payout.BatchSize,
		RetryAttempts: cfg.Payout.RetryAttempts,
		Workers:       cfg.Payout.Workers,
		QueueSize:     cfg.Payout.QueueSize,
		RatePerSecond: cfg.Payout.RequestsPerSecond,
		Burst:         cfg.Payout.Burst,
		BackoffBase:   cfg.Payout.BackoffBase,
		BackoffMax:    cfg.Payout.BackoffMax,
		OpsAccount:    cfg.Payout.OpsAccount(),
	})
	exitOn(ctx, logg, "failed to create payout batcher", err)

	recovery, err := escrow.NewRecovery(escrow.RecoveryParams{
		Ledger:     ledgerService,
		Payouts:    batcher,
		Logger:     logg,
		Metrics:    sweepMetrics,
		StaleAfter: cfg.Escrow.StaleClaimAfter,
	})
	exitOn(ctx, logg, "failed to create stale-claim recovery", err)

	sweeper, err := escrow.NewSweeper(escrow.SweeperParams{
		Ledger:        ledgerService,
		Payouts:       batcher,
		Logger:        logg,
		Metrics:       sweepMetrics,
		MinimumPayout: cfg.Escrow.MinimumPayout,
	})
	exitOn(ctx, logg, "failed to create escrow sweeper", err)

	reaper, err := cron.NewNotificationReaperJob(cron.NotificationReaperJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: notificationsRepo,
		Metrics:    notificationMetrics,
	})
	exitOn(ctx, logg, "failed to create notification reaper", err)

	var relay *subscriptions.Relay
	if cfg.PubSub.Enabled() {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
		exitOn(ctx, logg, "failed to bootstrap pubsub", err)
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		relay, err = subscriptions.NewRelay(subscriptions.RelayParams{
			DB:             dbClient,
			PubSub:         pubsubClient,
			Repository:     outbox.NewRepository(dbClient.DB()),
			Publisher:      pubsubClient.SubscriptionEventsPublisher(),
			Logger:         logg,
			BatchSize:      cfg.Outbox.BatchSize,
			MaxAttempts:    cfg.Outbox.MaxAttempts,
			PollInterval:   cfg.Outbox.PollInterval,
			PublishTimeout: cfg.PubSub.PublishTimeout,
		})
		exitOn(ctx, logg, "failed to create subscription relay", err)
	} else {
		logg.Warn(ctx, "no subscription events topic configured; queued subscription events stay in the outbox")
	}

	sweepService := newCronService(ctx, logg, redisClient, cronMetrics, sweepLockName, cfg.Escrow.SweepLockTTL, cfg.Escrow.SweepInterval(), recovery, sweeper)
	maintenanceService := newCronService(ctx, logg, redisClient, cronMetrics, maintenanceLockName, 0, cfg.Notifications.ReaperInterval, reaper)

	metricsServer := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	logg.Info(ctx, "starting cron worker")

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return dispatcher.Run(groupCtx) })
	group.Go(func() error { return batcher.Run(groupCtx) })
	group.Go(func() error { return sweepService.Run(groupCtx) })
	group.Go(func() error { return maintenanceService.Run(groupCtx) })
	if relay != nil {
		group.Go(func() error { return relay.Run(groupCtx) })
	}
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(groupCtx), shutdownTimeout)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func newCronService(ctx context.Context, logg *logger.Logger, client *redis.Client, m *metrics.CronJobMetrics, name string, ttl, interval time.Duration, jobs ...cron.Job) *cron.Service {
	lock, err := cron.NewRedisLock(client, client.LockKey(name), ttl)
	exitOn(ctx, logg, "failed to create cron lock", err)
	registry, err := cron.NewRegistry(jobs...)
	exitOn(ctx, logg, "failed to register cron jobs", err)

	service, err := cron.NewService(cron.ServiceParams{
		Name:     name,
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  m,
		Interval: interval,
	})
	exitOn(ctx, logg, "failed to create cron service", err)
	return service
}

func exitOn(ctx context.Context, logg *logger.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, msg, err)
	os.Exit(1)
}
