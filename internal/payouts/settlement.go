package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
)

// Settlement describes what a gateway transfer event did to a batch.
type Settlement struct {
	Batch   *models.PayoutBatch
	Changed bool
}

// CompleteTransfer records a successful transfer: the batch succeeds and its
// entries end in paid. It runs inside the caller's transaction.
func (b *Batcher) CompleteTransfer(ctx context.Context, tx *gorm.DB, reference, transferReference string) (Settlement, error) {
	repo := b.repo.WithTx(tx)
	batch, err := b.findByReference(ctx, repo, reference)
	if err != nil {
		return Settlement{}, err
	}
	switch {
	case batch.Status.IsActive():
	case batch.Status == enums.PayoutBatchStatusFailed && batch.FailureKind.HoldsEntries():
		return b.completeHeldBatch(ctx, tx, batch, transferReference)
	case batch.Status == enums.PayoutBatchStatusFailed:
		b.alertLateTransfer(ctx, batch, transferReference)
		return Settlement{Batch: batch}, nil
	default:
		return Settlement{Batch: batch}, nil
	}

	now := b.now().UTC()
	set := map[string]any{
		"status":          enums.PayoutBatchStatusSucceeded,
		"completed_at":    now,
		"next_attempt_at": nil,
		"updated_at":      now,
	}
	if transferReference != "" {
		set["transfer_reference"] = transferReference
	}
	changed, err := repo.UpdateBatch(ctx, BatchUpdate{
		ID:   batch.ID,
		From: []enums.PayoutBatchStatus{enums.PayoutBatchStatusCreated, enums.PayoutBatchStatusSubmitted},
		Set:  set,
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("mark batch succeeded: %w", err)
	}
	if changed == 0 {
		return Settlement{Batch: batch}, nil
	}

	ledgerTx := b.ledger.WithTx(tx)
	if _, err := ledgerTx.TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateBatching, enums.LedgerEntryStateReleased); err != nil {
		return Settlement{}, err
	}
	if _, err := ledgerTx.TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateReleased, enums.LedgerEntryStatePaid); err != nil {
		return Settlement{}, err
	}

	batch.Status = enums.PayoutBatchStatusSucceeded
	batch.CompletedAt = &now
	if transferReference != "" {
		batch.TransferReference = &transferReference
	}
	return Settlement{Batch: batch, Changed: true}, nil
}

// completeHeldBatch settles a batch whose transfer was reported non-retriable
// but went through anyway. Its entries are still claimed, so they end in paid
// instead of going back to escrow through RetryHeldBatch.
func (b *Batcher) completeHeldBatch(ctx context.Context, tx *gorm.DB, batch *models.PayoutBatch, transferReference string) (Settlement, error) {
	repo := b.repo.WithTx(tx)
	now := b.now().UTC()
	set := map[string]any{
		"status":       enums.PayoutBatchStatusSucceeded,
		"failure_kind": enums.PayoutFailureNone,
		"completed_at": now,
		"updated_at":   now,
	}
	if transferReference != "" {
		set["transfer_reference"] = transferReference
	}
	changed, err := repo.UpdateBatch(ctx, BatchUpdate{
		ID:   batch.ID,
		From: []enums.PayoutBatchStatus{enums.PayoutBatchStatusFailed},
		Set:  set,
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("mark held batch succeeded: %w", err)
	}
	if changed == 0 {
		return Settlement{Batch: batch}, nil
	}

	ledgerTx := b.ledger.WithTx(tx)
	if _, err := ledgerTx.TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateBatching, enums.LedgerEntryStateReleased); err != nil {
		return Settlement{}, err
	}
	paid, err := ledgerTx.TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateReleased, enums.LedgerEntryStatePaid)
	if err != nil {
		return Settlement{}, err
	}

	logCtx := b.logg.WithFields(b.logg.WithBatchID(ctx, batch.ID.String()), map[string]any{"entries_paid": paid})
	b.logg.Warn(logCtx, "held payout batch settled by a late transfer success")

	batch.Status = enums.PayoutBatchStatusSucceeded
	batch.FailureKind = enums.PayoutFailureNone
	batch.CompletedAt = &now
	if transferReference != "" {
		batch.TransferReference = &transferReference
	}
	return Settlement{Batch: batch, Changed: true}, nil
}

// FailTransfer records a failed or reversed transfer: the batch fails and its
// entries return to escrow. A batch that already succeeded is left alone.
func (b *Batcher) FailTransfer(ctx context.Context, tx *gorm.DB, reference, reason string) (Settlement, error) {
	repo := b.repo.WithTx(tx)
	batch, err := b.findByReference(ctx, repo, reference)
	if err != nil {
		return Settlement{}, err
	}
	if !batch.Status.IsActive() {
		return Settlement{Batch: batch}, nil
	}

	now := b.now().UTC()
	changed, err := repo.UpdateBatch(ctx, BatchUpdate{
		ID:   batch.ID,
		From: []enums.PayoutBatchStatus{enums.PayoutBatchStatusCreated, enums.PayoutBatchStatusSubmitted},
		Set: map[string]any{
			"status":          enums.PayoutBatchStatusFailed,
			"failure_kind":    enums.PayoutFailureGateway,
			"last_error":      reason,
			"completed_at":    now,
			"next_attempt_at": nil,
			"updated_at":      now,
		},
	})
	if err != nil {
		return Settlement{}, fmt.Errorf("mark batch failed: %w", err)
	}
	if changed == 0 {
		return Settlement{Batch: batch}, nil
	}

	ledgerTx := b.ledger.WithTx(tx)
	for _, from := range []enums.LedgerEntryState{enums.LedgerEntryStateReleased, enums.LedgerEntryStateBatching} {
		if _, err := ledgerTx.TransitionBatch(ctx, batch.ID, from, enums.LedgerEntryStateEscrowed); err != nil {
			return Settlement{}, err
		}
	}

	b.metrics.IncBatchFailed(string(enums.PayoutFailureGateway))
	batch.Status = enums.PayoutBatchStatusFailed
	batch.FailureKind = enums.PayoutFailureGateway
	batch.CompletedAt = &now
	return Settlement{Batch: batch, Changed: true}, nil
}

func (b *Batcher) findByReference(ctx context.Context, repo Repository, reference string) (*models.PayoutBatch, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference required")
	}
	batch, err := repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: reference %s", ErrBatchNotFound, reference)
		}
		return nil, fmt.Errorf("load batch by reference: %w", err)
	}
	return batch, nil
}

// RetryHeldBatch releases the entries a non-retriable failure kept claimed so
// the next sweep can pay them out again, typically after the seller fixed
// their destination. It returns how many entries went back to escrow.
func (b *Batcher) RetryHeldBatch(ctx context.Context, batchID uuid.UUID) (int64, error) {
	var released int64
	err := b.db.WithTx(ctx, func(tx *gorm.DB) error {
		batch, err := b.repo.WithTx(tx).FindBatch(ctx, batchID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrBatchNotFound
			}
			return fmt.Errorf("load batch: %w", err)
		}
		if batch.Status != enums.PayoutBatchStatusFailed || !batch.FailureKind.HoldsEntries() {
			return pkgerrors.New(pkgerrors.CodeNonRetriable, "batch is not holding entries").
				WithDetails(map[string]any{"status": batch.Status, "failure_kind": batch.FailureKind})
		}
		now := b.now().UTC()
		changed, err := b.repo.WithTx(tx).UpdateBatch(ctx, BatchUpdate{
			ID:   batchID,
			From: []enums.PayoutBatchStatus{enums.PayoutBatchStatusFailed},
			Set:  map[string]any{"failure_kind": enums.PayoutFailureReleased, "updated_at": now},
		})
		if err != nil {
			return fmt.Errorf("mark held batch released: %w", err)
		}
		if changed == 0 {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "batch changed while releasing held entries")
		}
		released, err = b.ledger.WithTx(tx).TransitionBatch(ctx, batchID, enums.LedgerEntryStateBatching, enums.LedgerEntryStateEscrowed)
		return err
	})
	if err != nil {
		return 0, err
	}

	logCtx := b.logg.WithFields(b.logg.WithBatchID(ctx, batchID.String()), map[string]any{"entries_released": released})
	b.logg.Info(logCtx, "held payout batch released to escrow")
	return released, nil
}

// ResumeIdle re-queues created batches that have sat untouched for idleFor,
// for example after a restart lost the in-memory queue. Reusing the batch
// reference keeps the gateway call single-effect.
func (b *Batcher) ResumeIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	now := b.now().UTC()
	batches, err := b.repo.ListIdle(ctx, now.Add(-idleFor), now, cap(b.queue))
	if err != nil {
		return 0, fmt.Errorf("list idle batches: %w", err)
	}
	resumed := 0
	for _, batch := range batches {
		if b.enqueue(ctx, batch.ID) {
			resumed++
		}
	}
	return resumed, nil
}
