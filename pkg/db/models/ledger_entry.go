package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// LedgerEntry records the commission split for one paid order line and tracks
// its progress from escrow to payout.
type LedgerEntry struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	OrderID          uuid.UUID              `gorm:"column:order_id;type:uuid;not null;uniqueIndex:uq_ledger_entries_order_id"`
	SellerID         uuid.UUID              `gorm:"column:seller_id;type:uuid;not null;index:idx_ledger_entries_seller_state_release,priority:1"`
	ChargeReference  string                 `gorm:"column:charge_reference;type:text;not null"`
	GrossAmount      int64                  `gorm:"column:gross_amount;not null"`
	CommissionAmount int64                  `gorm:"column:commission_amount;not null"`
	NetAmount        int64                  `gorm:"column:net_amount;not null"`
	Currency         string                 `gorm:"column:currency;type:varchar(3);not null"`
	State            enums.LedgerEntryState `gorm:"column:state;type:ledger_entry_state;not null;index:idx_ledger_entries_seller_state_release,priority:2"`
	EscrowReleaseAt  time.Time              `gorm:"column:escrow_release_at;not null;index:idx_ledger_entries_seller_state_release,priority:3"`
	PayoutBatchID    *uuid.UUID             `gorm:"column:payout_batch_id;type:uuid;index:idx_ledger_entries_payout_batch_id"`
	ClaimedAt        *time.Time             `gorm:"column:claimed_at"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

func (e *LedgerEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
