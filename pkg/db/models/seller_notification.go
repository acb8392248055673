package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/commission-escrow/pkg/db/types"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// SellerNotification stores in-app notifications scoped to sellers.
type SellerNotification struct {
	ID        uuid.UUID                    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SellerID  uuid.UUID                    `gorm:"column:seller_id;type:uuid;not null;index:idx_seller_notifications_seller_read_created,priority:1" json:"seller_id"`
	Type      enums.SellerNotificationType `gorm:"column:type;type:seller_notification_type;not null" json:"type"`
	Title     string                       `gorm:"column:title;type:varchar(100);not null" json:"title"`
	Message   string                       `gorm:"column:message;type:varchar(500);not null" json:"message"`
	Data      dbtypes.JSONPayload          `gorm:"column:data" json:"data"`
	Read      bool                         `gorm:"column:read;not null;default:false;index:idx_seller_notifications_seller_read_created,priority:2" json:"read"`
	ReadAt    *time.Time                   `gorm:"column:read_at" json:"read_at,omitempty"`
	CreatedAt time.Time                    `gorm:"column:created_at;autoCreateTime;index:idx_seller_notifications_seller_read_created,priority:3,sort:desc" json:"created_at"`
	ExpiresAt time.Time                    `gorm:"column:expires_at;not null;index:idx_seller_notifications_expires_at" json:"expires_at"`
}

func (SellerNotification) TableName() string { return "seller_notifications" }

func (n *SellerNotification) BeforeCreate(tx *gorm.DB) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	return nil
}
