package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error)
	CompareAndSwap(ctx context.Context, update StateUpdate) (int64, error)
	SwapBatchState(ctx context.Context, batchID uuid.UUID, from, to enums.LedgerEntryState, at time.Time) (int64, error)
	AttachBatch(ctx context.Context, batchID uuid.UUID, entryIDs []uuid.UUID, at time.Time) (int64, error)
	ListReleasable(ctx context.Context, now time.Time) ([]models.LedgerEntry, error)
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.LedgerEntry, error)
	ResetStaleClaims(ctx context.Context, cutoff, at time.Time) (int64, error)
	SumBySeller(ctx context.Context, sellerID uuid.UUID) ([]StateTotal, error)
}

// StateUpdate describes a single compare-and-swap on an entry's state.
type StateUpdate struct {
	ID   uuid.UUID
	From enums.LedgerEntryState
	To   enums.LedgerEntryState
	At   time.Time
}

// StateTotal aggregates net amounts of one seller per state.
type StateTotal struct {
	State enums.LedgerEntryState
	Count int64
	Total int64
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Insert stores the entry unless one already exists for the order. The boolean
// reports whether a row was written.
func (r *repository) Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "order_id"}}, DoNothing: true}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// CompareAndSwap moves the entry to update.To only while it is still in
// update.From and returns the number of rows changed.
func (r *repository) CompareAndSwap(ctx context.Context, update StateUpdate) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id = ? AND state = ?", update.ID, update.From).
		Updates(stateColumns(update.From, update.To, update.At))
	return res.RowsAffected, res.Error
}

// SwapBatchState moves every entry of the batch that is still in from.
func (r *repository) SwapBatchState(ctx context.Context, batchID uuid.UUID, from, to enums.LedgerEntryState, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("payout_batch_id = ? AND state = ?", batchID, from).
		Updates(stateColumns(from, to, at))
	return res.RowsAffected, res.Error
}

func (r *repository) AttachBatch(ctx context.Context, batchID uuid.UUID, entryIDs []uuid.UUID, at time.Time) (int64, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("id IN ? AND state = ? AND payout_batch_id IS NULL", entryIDs, enums.LedgerEntryStateBatching).
		Updates(map[string]any{
			"payout_batch_id": batchID,
			"updated_at":      at,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) ListReleasable(ctx context.Context, now time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("state = ? AND escrow_release_at <= ?", enums.LedgerEntryStateEscrowed, now).
		Order("seller_id ASC").
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("payout_batch_id = ?", batchID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// ResetStaleClaims returns claimed entries that never made it into a batch to
// escrow.
func (r *repository) ResetStaleClaims(ctx context.Context, cutoff, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Where("state = ? AND payout_batch_id IS NULL AND claimed_at < ?", enums.LedgerEntryStateBatching, cutoff).
		Updates(stateColumns(enums.LedgerEntryStateBatching, enums.LedgerEntryStateEscrowed, at))
	return res.RowsAffected, res.Error
}

func (r *repository) SumBySeller(ctx context.Context, sellerID uuid.UUID) ([]StateTotal, error) {
	var rows []StateTotal
	if err := r.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("state, COUNT(*) AS count, COALESCE(SUM(net_amount), 0) AS total").
		Where("seller_id = ?", sellerID).
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func stateColumns(from, to enums.LedgerEntryState, at time.Time) map[string]any {
	cols := map[string]any{
		"state":      to,
		"updated_at": at,
	}
	switch {
	case from == enums.LedgerEntryStateEscrowed && to == enums.LedgerEntryStateBatching:
		cols["claimed_at"] = at
	case to == enums.LedgerEntryStateEscrowed:
		cols["claimed_at"] = nil
		cols["payout_batch_id"] = nil
	}
	return cols
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
