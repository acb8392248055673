package notifications

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/pagination"
)

// Repository exposes persistence helpers for seller notifications. Every read
// takes now and skips rows that have expired.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, notification *models.SellerNotification) error
	List(ctx context.Context, params listNotificationsParams) ([]models.SellerNotification, *pagination.Cursor, error)
	SetRead(ctx context.Context, sellerID, notificationID uuid.UUID, read bool, now time.Time) (notificationMarkResult, error)
	MarkAllRead(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error)
	CountUnread(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error)
	DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

type listNotificationsParams struct {
	SellerID   uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	UnreadOnly bool
	Now        time.Time
}

type notificationMarkResult struct {
	Updated bool
	Found   bool
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, notification *models.SellerNotification) error {
	return r.db.WithContext(ctx).Create(notification).Error
}

func (r *repositoryImpl) live(ctx context.Context, sellerID uuid.UUID, now time.Time) *gorm.DB {
	return r.db.WithContext(ctx).
		Model(&models.SellerNotification{}).
		Where("seller_id = ? AND expires_at > ?", sellerID, now)
}

func (r *repositoryImpl) List(ctx context.Context, params listNotificationsParams) ([]models.SellerNotification, *pagination.Cursor, error) {
	query := r.live(ctx, params.SellerID, params.Now)
	if params.UnreadOnly {
		query = query.Where("read = ?", false)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at < ?) OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var notifications []models.SellerNotification
	err := query.Order("created_at DESC, id DESC").Limit(pagination.FetchLimit(params.Limit)).Find(&notifications).Error
	if err != nil {
		return nil, nil, err
	}

	page, next := pagination.Page(notifications, params.Limit, func(n models.SellerNotification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	return page, next, nil
}

func (r *repositoryImpl) SetRead(ctx context.Context, sellerID, notificationID uuid.UUID, read bool, now time.Time) (notificationMarkResult, error) {
	var readAt any
	if read {
		readAt = now
	}
	result := r.live(ctx, sellerID, now).
		Where("id = ? AND read = ?", notificationID, !read).
		Updates(map[string]any{"read": read, "read_at": readAt})
	if result.Error != nil {
		return notificationMarkResult{}, result.Error
	}

	mark := notificationMarkResult{Updated: result.RowsAffected > 0}
	if mark.Updated {
		mark.Found = true
		return mark, nil
	}

	var count int64
	if err := r.live(ctx, sellerID, now).
		Where("id = ?", notificationID).
		Count(&count).Error; err != nil {
		return notificationMarkResult{}, err
	}
	mark.Found = count > 0
	return mark, nil
}

func (r *repositoryImpl) MarkAllRead(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error) {
	result := r.live(ctx, sellerID, now).
		Where("read = ?", false).
		Updates(map[string]any{"read": true, "read_at": now})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}

func (r *repositoryImpl) CountUnread(ctx context.Context, sellerID uuid.UUID, now time.Time) (int64, error) {
	var count int64
	if err := r.live(ctx, sellerID, now).Where("read = ?", false).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteExpired removes every notification whose expiry has passed.
func (r *repositoryImpl) DeleteExpired(ctx context.Context, tx *gorm.DB, now time.Time) (int64, error) {
	conn := r.db
	if tx != nil {
		conn = tx
	}
	result := conn.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&models.SellerNotification{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
