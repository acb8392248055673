package controllers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/api/responses"
	"github.com/angelmondragon/commission-escrow/api/validators"
	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

type ledgerOperator interface {
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.LedgerEntryState) error
}

type heldBatchRetrier interface {
	RetryHeldBatch(ctx context.Context, batchID uuid.UUID) (int64, error)
}

type transitionRequest struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Reason string `json:"reason" validate:"required,max=255"`
}

// AdminTransitionLedgerEntry lets an operator resolve an entry by hand, for
// example writing off a batching entry as failed. The move is a
// compare-and-swap on from.
func AdminTransitionLedgerEntry(svc ledgerOperator, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entryID, err := validators.ParseURLUUID(r, "entryId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body transitionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		from, err := enums.ParseLedgerEntryState(body.From)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from state"))
			return
		}
		to, err := enums.ParseLedgerEntryState(body.To)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to state"))
			return
		}

		if err := svc.Transition(r.Context(), entryID, from, to); err != nil {
			if errors.Is(err, ledger.ErrConflict) {
				if _, getErr := svc.Get(r.Context(), entryID); errors.Is(getErr, ledger.ErrNotFound) {
					err = getErr
				}
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entry, err := svc.Get(r.Context(), entryID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"entry_id": entryID.String(),
				"from":     string(from),
				"to":       string(to),
				"reason":   body.Reason,
				"event":    "audit.ledger_transition",
			})
			logg.Info(ctx, "ledger entry transitioned by operator")
		}
		responses.WriteSuccess(w, entry)
	}
}

// AdminRetryPayoutBatch returns the entries held by a non-retriable batch to
// escrow so the next sweep pays them again.
func AdminRetryPayoutBatch(svc heldBatchRetrier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		batchID, err := validators.ParseURLUUID(r, "batchId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		released, err := svc.RetryHeldBatch(r.Context(), batchID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"batch_id":         batchID,
			"entries_released": released,
		})
	}
}
