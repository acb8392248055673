package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/commission-escrow/api/controllers"
	webhookcontrollers "github.com/angelmondragon/commission-escrow/api/controllers/webhooks"
	"github.com/angelmondragon/commission-escrow/api/middleware"
	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/pkg/config"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/redis"
)

// BatchRetrier releases entries held by a non-retriable payout batch.
type BatchRetrier interface {
	RetryHeldBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
}

// RouterParams carries the HTTP surface's dependencies.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         redis.Pinger
	Idempotency   redis.IdempotencyStore
	Gatherer      prometheus.Gatherer
	Webhooks      webhookcontrollers.GatewayWebhookService
	Notifications notifications.Service
	Ledger        ledger.Service
	Payouts       BatchRetrier
}

func NewRouter(p RouterParams) http.Handler {
	cfg, logg := p.Config, p.Logger
	// idempotent runs after routing so the rule table sees the full pattern.
	idempotent := middleware.Idempotency(p.Idempotency, logg)
	gatherer := p.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, p.DB, p.Redis))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Post("/payments/webhook", webhookcontrollers.GatewayWebhook(p.Webhooks, cfg.Webhook, logg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleSeller))

		r.Get("/balance", controllers.SellerBalance(p.Ledger, logg))
		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.Notifications, logg))
			r.Get("/unread-count", controllers.UnreadNotificationCount(p.Notifications, logg))
			r.With(idempotent).Post("/read-all", controllers.MarkAllNotificationsRead(p.Notifications, logg))
			r.With(idempotent).Post("/{notificationId}/read", controllers.MarkNotificationRead(p.Notifications, logg))
			r.With(idempotent).Post("/{notificationId}/unread", controllers.MarkNotificationUnread(p.Notifications, logg))
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(logg, enums.ActorRoleOperator))

		r.With(idempotent).Post("/ledger/entries/{entryId}/transition", controllers.AdminTransitionLedgerEntry(p.Ledger, logg))
		r.With(idempotent).Post("/payouts/batches/{batchId}/retry", controllers.AdminRetryPayoutBatch(p.Payouts, logg))
	})

	return r
}
