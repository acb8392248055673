package payouts

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// Repository persists payout batches and reads seller destinations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateBatch(ctx context.Context, batch *models.PayoutBatch) error
	FindBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error)
	FindByReference(ctx context.Context, reference string) (*models.PayoutBatch, error)
	UpdateBatch(ctx context.Context, update BatchUpdate) (int64, error)
	ListIdle(ctx context.Context, idleBefore, now time.Time, limit int) ([]models.PayoutBatch, error)
	FindDestination(ctx context.Context, sellerID uuid.UUID) (*models.PayoutDestination, error)
}

// BatchUpdate applies Set only while the batch is in one of From and, when
// Attempt is set, still at that attempt count.
type BatchUpdate struct {
	ID      uuid.UUID
	From    []enums.PayoutBatchStatus
	Attempt *int
	Set     map[string]any
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payout repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateBatch(ctx context.Context, batch *models.PayoutBatch) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) FindBatch(ctx context.Context, id uuid.UUID) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PayoutBatch, error) {
	var batch models.PayoutBatch
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *repository) UpdateBatch(ctx context.Context, update BatchUpdate) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PayoutBatch{}).
		Where("id = ?", update.ID)
	if len(update.From) > 0 {
		query = query.Where("status IN ?", update.From)
	}
	if update.Attempt != nil {
		query = query.Where("attempt = ?", *update.Attempt)
	}
	res := query.Updates(update.Set)
	return res.RowsAffected, res.Error
}

// ListIdle returns created batches nobody has touched since idleBefore and
// whose retry delay, if any, has elapsed.
func (r *repository) ListIdle(ctx context.Context, idleBefore, now time.Time, limit int) ([]models.PayoutBatch, error) {
	var batches []models.PayoutBatch
	query := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", enums.PayoutBatchStatusCreated, idleBefore).
		Where("next_attempt_at IS NULL OR next_attempt_at <= ?", now).
		Order("updated_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&batches).Error; err != nil {
		return nil, err
	}
	return batches, nil
}

func (r *repository) FindDestination(ctx context.Context, sellerID uuid.UUID) (*models.PayoutDestination, error) {
	var dest models.PayoutDestination
	if err := r.db.WithContext(ctx).
		Where("seller_id = ? AND active = ?", sellerID, true).
		First(&dest).Error; err != nil {
		return nil, err
	}
	return &dest, nil
}
