package payouts

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
)

const jitterWindow = 250 * time.Millisecond

// Run starts the worker pool and blocks until ctx is cancelled. Transfers that
// are already in flight finish before Run returns.
func (b *Batcher) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		group.Go(func() error {
			for {
				select {
				case <-groupCtx.Done():
					return nil
				case batchID := <-b.queue:
					if err := b.limiter.Wait(groupCtx); err != nil {
						return nil
					}
					b.processQueued(context.WithoutCancel(groupCtx), batchID)
				}
			}
		})
	}
	return group.Wait()
}

func (b *Batcher) processQueued(ctx context.Context, batchID uuid.UUID) {
	if _, busy := b.inflight.LoadOrStore(batchID, struct{}{}); busy {
		return
	}
	defer b.inflight.Delete(batchID)

	if err := b.process(ctx, batchID); err != nil {
		logCtx := b.logg.WithBatchID(ctx, batchID.String())
		b.logg.Error(logCtx, "payout batch processing failed", err)
	}
}

// process makes one transfer attempt for a created batch and records the
// outcome.
func (b *Batcher) process(ctx context.Context, batchID uuid.UUID) error {
	batch, err := b.repo.FindBatch(ctx, batchID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBatchNotFound
		}
		return fmt.Errorf("load batch: %w", err)
	}
	if batch.Status != enums.PayoutBatchStatusCreated {
		return nil
	}

	logCtx := b.logg.WithSellerID(b.logg.WithBatchID(ctx, batch.ID.String()), batch.SellerID.String())
	result, callErr := b.gateway.CreateTransfer(ctx, gateway.TransferRequest{
		Destination: batch.Destination,
		Amount:      batch.TotalAmount,
		Currency:    batch.Currency,
		Reference:   batch.Reference,
		Reason:      "seller payout",
	})

	switch {
	case callErr == nil:
		b.metrics.IncAttempt("success")
		return b.recordSubmitted(ctx, batch, result)
	case gateway.IsTransient(callErr):
		b.metrics.IncAttempt("transient")
		attempt := batch.Attempt + 1
		if attempt < b.attempts {
			delay := b.retryDelay(attempt, gateway.RetryAfter(callErr))
			if err := b.recordRetry(ctx, batch, attempt, delay, callErr); err != nil {
				return err
			}
			logCtx = b.logg.WithFields(logCtx, map[string]any{"attempt": attempt, "retry_in": delay.String()})
			b.logg.Warn(logCtx, "payout transfer failed transiently, retry scheduled")
			return nil
		}
		return b.recordFailed(ctx, batch, attempt, enums.PayoutFailureTransientExhausted, callErr)
	default:
		b.metrics.IncAttempt("non_retriable")
		return b.recordFailed(ctx, batch, batch.Attempt+1, enums.PayoutFailureNonRetriable, callErr)
	}
}

func (b *Batcher) recordSubmitted(ctx context.Context, batch *models.PayoutBatch, result *gateway.TransferResult) error {
	now := b.now().UTC()
	set := map[string]any{
		"status":          enums.PayoutBatchStatusSubmitted,
		"attempt":         batch.Attempt + 1,
		"submitted_at":    now,
		"next_attempt_at": nil,
		"last_error":      nil,
		"updated_at":      now,
	}
	if result != nil && result.TransferReference != "" {
		set["transfer_reference"] = result.TransferReference
	}

	return b.db.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := b.repo.WithTx(tx).UpdateBatch(ctx, BatchUpdate{
			ID:      batch.ID,
			From:    []enums.PayoutBatchStatus{enums.PayoutBatchStatusCreated},
			Attempt: &batch.Attempt,
			Set:     set,
		})
		if err != nil {
			return fmt.Errorf("mark batch submitted: %w", err)
		}
		if changed == 0 {
			// settled by a webhook or another worker first
			return nil
		}
		_, err = b.ledger.WithTx(tx).TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateBatching, enums.LedgerEntryStateReleased)
		return err
	})
}

func (b *Batcher) recordRetry(ctx context.Context, batch *models.PayoutBatch, attempt int, delay time.Duration, callErr error) error {
	now := b.now().UTC()
	changed, err := b.repo.UpdateBatch(ctx, BatchUpdate{
		ID:      batch.ID,
		From:    []enums.PayoutBatchStatus{enums.PayoutBatchStatusCreated},
		Attempt: &batch.Attempt,
		Set: map[string]any{
			"attempt":         attempt,
			"last_error":      callErr.Error(),
			"next_attempt_at": now.Add(delay),
			"updated_at":      now,
		},
	})
	if err != nil {
		return fmt.Errorf("record retry: %w", err)
	}
	if changed > 0 {
		b.enqueueAfter(batch.ID, delay)
	}
	return nil
}

func (b *Batcher) recordFailed(ctx context.Context, batch *models.PayoutBatch, attempt int, kind enums.PayoutFailureKind, callErr error) error {
	now := b.now().UTC()
	var returned int64
	applied := false
	err := b.db.WithTx(ctx, func(tx *gorm.DB) error {
		changed, err := b.repo.WithTx(tx).UpdateBatch(ctx, BatchUpdate{
			ID:      batch.ID,
			From:    []enums.PayoutBatchStatus{enums.PayoutBatchStatusCreated},
			Attempt: &batch.Attempt,
			Set: map[string]any{
				"status":          enums.PayoutBatchStatusFailed,
				"attempt":         attempt,
				"failure_kind":    kind,
				"last_error":      callErr.Error(),
				"next_attempt_at": nil,
				"completed_at":    now,
				"updated_at":      now,
			},
		})
		if err != nil {
			return fmt.Errorf("mark batch failed: %w", err)
		}
		if changed == 0 {
			return nil
		}
		applied = true
		if kind.HoldsEntries() {
			return nil
		}
		returned, err = b.ledger.WithTx(tx).TransitionBatch(ctx, batch.ID, enums.LedgerEntryStateBatching, enums.LedgerEntryStateEscrowed)
		return err
	})
	if err != nil || !applied {
		return err
	}

	b.metrics.IncBatchFailed(string(kind))
	b.alertOps(ctx, batch, kind, callErr)
	if !kind.HoldsEntries() {
		b.noticeSeller(ctx, batch, returned, callErr)
	}
	return nil
}

func (b *Batcher) alertOps(ctx context.Context, batch *models.PayoutBatch, kind enums.PayoutFailureKind, cause error) {
	message := fmt.Sprintf("Payout %s for seller %s failed (%s). Amount %d %s.",
		batch.Reference, batch.SellerID, kind, batch.TotalAmount, batch.Currency)
	b.raiseOpsAlert(ctx, batch, "payout batch failed", message, cause, map[string]any{"failure_kind": string(kind)})
}

// alertLateTransfer flags a success for a batch whose entries were already
// returned to escrow. They may be batched and paid a second time.
func (b *Batcher) alertLateTransfer(ctx context.Context, batch *models.PayoutBatch, transferReference string) {
	entryIDs := make([]string, 0, len(batch.EntryIDs))
	for _, id := range batch.EntryIDs {
		entryIDs = append(entryIDs, id.String())
	}
	message := fmt.Sprintf("Payout %s for seller %s was reported failed (%s) but the gateway confirmed transfer %s. %d entries may be paid twice.",
		batch.Reference, batch.SellerID, batch.FailureKind, transferReference, len(entryIDs))
	b.raiseOpsAlert(ctx, batch, "transfer succeeded for a failed payout batch", message, ErrLateTransferSuccess, map[string]any{
		"entry_ids":          entryIDs,
		"transfer_reference": transferReference,
	})
}

func (b *Batcher) raiseOpsAlert(ctx context.Context, batch *models.PayoutBatch, msg, notice string, cause error, extra map[string]any) {
	b.metrics.IncOpsAlert()
	fields := map[string]any{
		"event":        "payout.ops_alert",
		"batch_id":     batch.ID.String(),
		"seller_id":    batch.SellerID.String(),
		"failure_kind": string(batch.FailureKind),
		"amount":       batch.TotalAmount,
		"currency":     batch.Currency,
	}
	for k, v := range extra {
		fields[k] = v
	}
	logCtx := b.logg.WithFields(ctx, fields)
	b.logg.Error(logCtx, msg, cause)

	if b.opsAccount == uuid.Nil {
		return
	}
	if err := b.notifier.Notify(ctx, b.opsAccount, enums.SellerNotificationSystem, "Payout needs attention", truncate(notice, 500),
		notifications.SystemData{Severity: "critical", Reference: batch.Reference}); err != nil {
		b.logg.Error(logCtx, "failed to queue ops notification", err)
	}
}

func (b *Batcher) noticeSeller(ctx context.Context, batch *models.PayoutBatch, returned int64, cause error) {
	batchID := batch.ID
	data := notifications.OrderUpdateData{
		BatchID: &batchID,
		Status:  "payout_delayed",
		Reason:  truncate(cause.Error(), 255),
	}
	message := fmt.Sprintf("We could not send your payout of %d %s. %d order(s) are back in escrow and will be retried.",
		batch.TotalAmount, batch.Currency, returned)
	if err := b.notifier.Notify(ctx, batch.SellerID, enums.SellerNotificationOrderUpdate, "Payout delayed", message, data); err != nil {
		logCtx := b.logg.WithBatchID(ctx, batch.ID.String())
		b.logg.Error(logCtx, "failed to queue seller payout notice", err)
	}
}

// retryDelay is base*2^(attempt-1) capped at max, jittered, and never shorter
// than what the gateway asked for.
func (b *Batcher) retryDelay(attempt int, retryAfter time.Duration) time.Duration {
	delay := b.backoffBase
	for i := 1; i < attempt; i++ {
		delay = nextBackoff(delay, b.backoffBase, b.backoffMax)
	}
	delay = withJitter(delay)
	if retryAfter > delay {
		return retryAfter
	}
	return delay
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int64N(int64(jitterWindow)))
	return d + jitter
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
