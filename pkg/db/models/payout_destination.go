package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PayoutDestination is the gateway recipient a seller is paid out to.
type PayoutDestination struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	SellerID      uuid.UUID `gorm:"column:seller_id;type:uuid;not null;uniqueIndex:uq_payout_destinations_seller_id"`
	RecipientCode string    `gorm:"column:recipient_code;type:text;not null"`
	Currency      string    `gorm:"column:currency;type:varchar(3);not null"`
	Active        bool      `gorm:"column:active;not null;default:true"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PayoutDestination) TableName() string { return "payout_destinations" }

func (d *PayoutDestination) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}
