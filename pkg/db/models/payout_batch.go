package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbtypes "github.com/angelmondragon/commission-escrow/pkg/db/types"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// PayoutBatch groups claimed ledger entries of one seller into a single transfer.
type PayoutBatch struct {
	ID                uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	SellerID          uuid.UUID               `gorm:"column:seller_id;type:uuid;not null;index:idx_payout_batches_seller_id"`
	EntryIDs          dbtypes.UUIDArray       `gorm:"column:entry_ids;not null"`
	TotalAmount       int64                   `gorm:"column:total_amount;not null"`
	Currency          string                  `gorm:"column:currency;type:varchar(3);not null"`
	Destination       string                  `gorm:"column:destination;type:text;not null"`
	Reference         string                  `gorm:"column:reference;type:text;not null;uniqueIndex:uq_payout_batches_reference"`
	TransferReference *string                 `gorm:"column:transfer_reference;type:text"`
	Status            enums.PayoutBatchStatus `gorm:"column:status;type:payout_batch_status;not null;index:idx_payout_batches_status_updated,priority:1"`
	Attempt           int                     `gorm:"column:attempt;not null;default:0"`
	LastError         *string                 `gorm:"column:last_error;type:text"`
	FailureKind       enums.PayoutFailureKind `gorm:"column:failure_kind;type:text;not null;default:''"`
	NextAttemptAt     *time.Time              `gorm:"column:next_attempt_at"`
	SubmittedAt       *time.Time              `gorm:"column:submitted_at"`
	CompletedAt       *time.Time              `gorm:"column:completed_at"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime;index:idx_payout_batches_status_updated,priority:2"`
}

func (PayoutBatch) TableName() string { return "payout_batches" }

func (b *PayoutBatch) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.Reference == "" {
		b.Reference = PayoutReference(b.ID)
	}
	return nil
}

// PayoutReference derives the gateway idempotency reference from a batch id.
func PayoutReference(batchID uuid.UUID) string {
	return "payout_" + batchID.String()
}
