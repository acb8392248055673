package gatewaywebhook

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
)

// Repository persists the webhook audit trail.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, event *models.WebhookEvent) (bool, error)
	RecordRedelivery(ctx context.Context, externalID string, at time.Time) error
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	FindByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert records the event unless its external id is already known.
func (r *repository) Insert(ctx context.Context, event *models.WebhookEvent) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_event_id"}},
			DoNothing: true,
		}).
		Create(event)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RecordRedelivery(ctx context.Context, externalID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("external_event_id = ?", externalID).
		Updates(map[string]any{
			"delivery_count":    gorm.Expr("delivery_count + 1"),
			"last_delivered_at": at,
		}).Error
}

func (r *repository) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.WebhookEvent{}).
		Where("id = ?", id).
		Update("processed_at", at).Error
}

func (r *repository) FindByExternalID(ctx context.Context, externalID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.WithContext(ctx).Where("external_event_id = ?", externalID).First(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}
