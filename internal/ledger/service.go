package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
)

var (
	// ErrConflict means the entry was not in the expected state when the swap ran.
	ErrConflict = pkgerrors.New(pkgerrors.CodeConflict, "ledger entry state changed concurrently")
	// ErrInvalidTransition means the requested edge is not part of the lifecycle.
	ErrInvalidTransition = pkgerrors.New(pkgerrors.CodeStateConflict, "ledger transition not allowed")
	// ErrNotFound means no entry matched.
	ErrNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "ledger entry not found")
)

// Service owns the commission ledger.
type Service interface {
	WithTx(tx *gorm.DB) Service
	CreateEntry(ctx context.Context, input CreateEntryInput) (*models.LedgerEntry, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.LedgerEntryState) error
	TransitionBatch(ctx context.Context, batchID uuid.UUID, from, to enums.LedgerEntryState) (int64, error)
	Releasable(ctx context.Context, now time.Time) ([]models.LedgerEntry, error)
	ClaimForBatch(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	AttachToBatch(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) error
	ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.LedgerEntry, error)
	ResetStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error)
	SellerBalance(ctx context.Context, sellerID uuid.UUID) (Balance, error)
}

// CreateEntryInput carries a confirmed charge for one order.
type CreateEntryInput struct {
	OrderID         uuid.UUID
	SellerID        uuid.UUID
	ChargeReference string
	GrossAmount     int64
	Currency        string
	ProcessedAt     time.Time
}

// Balance summarizes a seller's net amounts by lifecycle stage.
type Balance struct {
	SellerID uuid.UUID `json:"seller_id"`
	Escrowed int64     `json:"escrowed"`
	InFlight int64     `json:"in_flight"`
	Paid     int64     `json:"paid"`
	Failed   int64     `json:"failed"`
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Repo           Repository
	CommissionRate decimal.Decimal
	EscrowPeriod   time.Duration
	Now            func() time.Time
}

type service struct {
	repo   Repository
	rate   decimal.Decimal
	period time.Duration
	now    func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if params.CommissionRate.IsNegative() || params.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("commission rate must be within [0,1]")
	}
	if params.EscrowPeriod < 0 {
		return nil, fmt.Errorf("escrow period must not be negative")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:   params.Repo,
		rate:   params.CommissionRate,
		period: params.EscrowPeriod,
		now:    now,
	}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	clone := *s
	clone.repo = s.repo.WithTx(tx)
	return &clone
}

// SplitCommission returns the commission and net parts of gross at rate,
// rounding the commission half away from zero.
func SplitCommission(gross int64, rate decimal.Decimal) (commission, net int64) {
	commission = decimal.NewFromInt(gross).Mul(rate).Round(0).IntPart()
	return commission, gross - commission
}

// CreateEntry records a charge in escrow. A second charge for the same order
// returns the stored entry and false.
func (s *service) CreateEntry(ctx context.Context, input CreateEntryInput) (*models.LedgerEntry, bool, error) {
	if err := validateCreate(input); err != nil {
		return nil, false, err
	}

	processedAt := input.ProcessedAt.UTC()
	commission, net := SplitCommission(input.GrossAmount, s.rate)
	entry := &models.LedgerEntry{
		OrderID:          input.OrderID,
		SellerID:         input.SellerID,
		ChargeReference:  input.ChargeReference,
		GrossAmount:      input.GrossAmount,
		CommissionAmount: commission,
		NetAmount:        net,
		Currency:         strings.ToUpper(input.Currency),
		State:            enums.LedgerEntryStateEscrowed,
		EscrowReleaseAt:  processedAt.Add(s.period),
	}

	created, err := s.repo.Insert(ctx, entry)
	if err != nil {
		return nil, false, fmt.Errorf("insert ledger entry: %w", err)
	}
	if created {
		return entry, true, nil
	}

	existing, err := s.repo.FindByOrderID(ctx, input.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("load existing ledger entry: %w", err)
	}
	return existing, false, nil
}

func validateCreate(input CreateEntryInput) error {
	switch {
	case input.OrderID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	case input.SellerID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "seller id is required")
	case input.GrossAmount <= 0:
		return pkgerrors.New(pkgerrors.CodeValidation, "gross amount must be positive")
	case len(input.Currency) != 3:
		return pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	case input.ProcessedAt.IsZero():
		return pkgerrors.New(pkgerrors.CodeValidation, "processed at is required")
	}
	return nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entry, nil
}

// Transition swaps one entry from -> to. It returns ErrConflict when the entry
// is no longer in from.
func (s *service) Transition(ctx context.Context, id uuid.UUID, from, to enums.LedgerEntryState) error {
	if !from.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	changed, err := s.repo.CompareAndSwap(ctx, StateUpdate{ID: id, From: from, To: to, At: s.now().UTC()})
	if err != nil {
		return fmt.Errorf("swap ledger entry %s: %w", id, err)
	}
	if changed == 0 {
		return fmt.Errorf("%w: entry %s not in %s", ErrConflict, id, from)
	}
	return nil
}

// TransitionBatch swaps every entry of the batch that is still in from.
func (s *service) TransitionBatch(ctx context.Context, batchID uuid.UUID, from, to enums.LedgerEntryState) (int64, error) {
	if !from.CanTransitionTo(to) {
		return 0, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	changed, err := s.repo.SwapBatchState(ctx, batchID, from, to, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("swap batch %s entries: %w", batchID, err)
	}
	return changed, nil
}

func (s *service) Releasable(ctx context.Context, now time.Time) ([]models.LedgerEntry, error) {
	return s.repo.ListReleasable(ctx, now.UTC())
}

// ClaimForBatch moves each entry escrowed -> batching and returns the ids it
// won. Entries claimed by someone else are skipped.
func (s *service) ClaimForBatch(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	claimed := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		err := s.Transition(ctx, id, enums.LedgerEntryStateEscrowed, enums.LedgerEntryStateBatching)
		switch {
		case err == nil:
			claimed = append(claimed, id)
		case errors.Is(err, ErrConflict):
			continue
		default:
			return claimed, err
		}
	}
	return claimed, nil
}

// AttachToBatch links claimed entries to their batch. Every entry must still
// be claimed and unattached.
func (s *service) AttachToBatch(ctx context.Context, batchID uuid.UUID, ids []uuid.UUID) error {
	changed, err := s.repo.AttachBatch(ctx, batchID, ids, s.now().UTC())
	if err != nil {
		return fmt.Errorf("attach entries to batch %s: %w", batchID, err)
	}
	if changed != int64(len(ids)) {
		return fmt.Errorf("%w: attached %d of %d entries to batch %s", ErrConflict, changed, len(ids), batchID)
	}
	return nil
}

func (s *service) ListByBatch(ctx context.Context, batchID uuid.UUID) ([]models.LedgerEntry, error) {
	return s.repo.ListByBatch(ctx, batchID)
}

func (s *service) ResetStaleClaims(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := s.now().UTC()
	return s.repo.ResetStaleClaims(ctx, now.Add(-olderThan), now)
}

func (s *service) SellerBalance(ctx context.Context, sellerID uuid.UUID) (Balance, error) {
	balance := Balance{SellerID: sellerID}
	totals, err := s.repo.SumBySeller(ctx, sellerID)
	if err != nil {
		return balance, err
	}
	for _, row := range totals {
		switch row.State {
		case enums.LedgerEntryStatePending, enums.LedgerEntryStateEscrowed:
			balance.Escrowed += row.Total
		case enums.LedgerEntryStateBatching, enums.LedgerEntryStateReleased:
			balance.InFlight += row.Total
		case enums.LedgerEntryStatePaid:
			balance.Paid += row.Total
		case enums.LedgerEntryStateFailed:
			balance.Failed += row.Total
		}
	}
	return balance, nil
}
