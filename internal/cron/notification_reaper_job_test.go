package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

type stubTxRunner struct {
	calls int
}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.calls++
	return fn(nil)
}

type stubExpiredRepo struct {
	now     time.Time
	deleted int64
	err     error
}

func (s *stubExpiredRepo) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	s.now = now
	return s.deleted, s.err
}

func TestNotificationReaperDeletesAtCurrentTime(t *testing.T) {
	runner := &stubTxRunner{}
	repo := &stubExpiredRepo{deleted: 4}
	job, err := NewNotificationReaperJob(NotificationReaperJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "reaper-test"}),
		DB:         runner,
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	fixed := time.Date(2026, 7, 1, 12, 0, 0, 0, time.FixedZone("WAT", 3600))
	job.(*notificationReaperJob).now = func() time.Time { return fixed }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if runner.calls != 1 {
		t.Fatalf("expected one transaction, got %d", runner.calls)
	}
	if !repo.now.Equal(fixed) || repo.now.Location() != time.UTC {
		t.Fatalf("expected UTC cutoff %v, got %v", fixed.UTC(), repo.now)
	}
	if job.Name() != "notification-reaper" {
		t.Fatalf("unexpected job name %q", job.Name())
	}
}

func TestNotificationReaperSurfacesErrors(t *testing.T) {
	job, err := NewNotificationReaperJob(NotificationReaperJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "reaper-test"}),
		DB:         &stubTxRunner{},
		Repository: &stubExpiredRepo{err: errors.New("db down")},
	})
	if err != nil {
		t.Fatalf("construct job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected reaper error")
	}
}

func TestNewNotificationReaperJobValidates(t *testing.T) {
	if _, err := NewNotificationReaperJob(NotificationReaperJobParams{}); err == nil {
		t.Fatal("expected missing logger error")
	}
}
