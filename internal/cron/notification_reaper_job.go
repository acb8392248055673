package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type expiredNotificationsRepo interface {
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

// NotificationReaperJobParams wires the notification reaper.
type NotificationReaperJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository expiredNotificationsRepo
	Metrics    *metrics.NotificationMetrics
}

// NewNotificationReaperJob deletes seller notifications past their expiry.
func NewNotificationReaperJob(params NotificationReaperJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	return &notificationReaperJob{
		logg:    params.Logger,
		db:      params.DB,
		repo:    params.Repository,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

type notificationReaperJob struct {
	logg    *logger.Logger
	db      txRunner
	repo    expiredNotificationsRepo
	metrics *metrics.NotificationMetrics
	now     func() time.Time
}

func (j *notificationReaperJob) Name() string { return "notification-reaper" }

func (j *notificationReaperJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteExpired(ctx, tx, now)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("notification reaper: %w", err)
	}
	j.metrics.AddReaped(deleted)
	if deleted > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{"rows_deleted": deleted, "expired_before": now})
		j.logg.Info(logCtx, "expired notifications reaped")
	}
	return nil
}
