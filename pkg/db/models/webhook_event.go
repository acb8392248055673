package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// WebhookEvent is the audit and dedupe record for an inbound gateway event.
type WebhookEvent struct {
	ID              uuid.UUID                `gorm:"column:id;type:uuid;primaryKey"`
	ExternalEventID string                   `gorm:"column:external_event_id;type:text;not null;uniqueIndex:uq_webhook_events_external_event_id"`
	Type            string                   `gorm:"column:type;type:text;not null"`
	Status          enums.WebhookEventStatus `gorm:"column:status;type:webhook_event_status;not null"`
	PayloadHash     string                   `gorm:"column:payload_hash;type:text;not null"`
	DeliveryCount   int                      `gorm:"column:delivery_count;not null;default:1"`
	ReceivedAt      time.Time                `gorm:"column:received_at;not null"`
	ProcessedAt     *time.Time               `gorm:"column:processed_at"`
	LastDeliveredAt time.Time                `gorm:"column:last_delivered_at;not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

func (e *WebhookEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
