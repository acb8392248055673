package escrow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
)

// BatchSubmitter hands claimed entries to the payout pipeline.
type BatchSubmitter interface {
	Submit(ctx context.Context, sellerID uuid.UUID, entries []models.LedgerEntry) ([]models.PayoutBatch, error)
}

// SweeperParams wires the escrow sweep.
type SweeperParams struct {
	Ledger        ledger.Service
	Payouts       BatchSubmitter
	Logger        *logger.Logger
	Metrics       *metrics.SweepMetrics
	MinimumPayout int64
}

// Sweeper moves entries whose hold has elapsed into payout batches. Only one
// sweep runs per process at a time; overlapping ticks are skipped.
type Sweeper struct {
	ledger  ledger.Service
	payouts BatchSubmitter
	logg    *logger.Logger
	metrics *metrics.SweepMetrics
	minimum int64
	running atomic.Bool
	now     func() time.Time
}

// Report summarizes one sweep. Deferred counts seller currency groups below
// the minimum payout.
type Report struct {
	Sellers    int
	Deferred   int
	Claimed    int
	Lost       int
	Batches    int
	RolledBack int
}

// NewSweeper validates dependencies.
func NewSweeper(params SweeperParams) (*Sweeper, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout submitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.MinimumPayout < 0 {
		return nil, fmt.Errorf("minimum payout must not be negative")
	}
	return &Sweeper{
		ledger:  params.Ledger,
		payouts: params.Payouts,
		logg:    params.Logger,
		metrics: params.Metrics,
		minimum: params.MinimumPayout,
		now:     time.Now,
	}, nil
}

func (s *Sweeper) Name() string { return "escrow-sweep" }

// Run performs one sweep. It detaches from ctx cancellation so a shutdown
// lets claimed entries reach a batch or get rolled back.
func (s *Sweeper) Run(ctx context.Context) error {
	report, skipped, err := s.Sweep(context.WithoutCancel(ctx))
	if skipped {
		s.logg.Info(ctx, "escrow sweep already running; skipping")
		return nil
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"sellers":     report.Sellers,
		"deferred":    report.Deferred,
		"claimed":     report.Claimed,
		"lost_claims": report.Lost,
		"batches":     report.Batches,
		"rolled_back": report.RolledBack,
	})
	s.logg.Info(logCtx, "escrow sweep complete")
	return err
}

// Sweep claims releasable entries seller by seller and submits them. A seller
// whose submission fails has its claims rolled back and does not stop the
// others. skipped reports that another sweep held the guard.
func (s *Sweeper) Sweep(ctx context.Context) (report Report, skipped bool, err error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, true, nil
	}
	defer s.running.Store(false)

	entries, err := s.ledger.Releasable(ctx, s.now().UTC())
	if err != nil {
		return report, false, fmt.Errorf("list releasable entries: %w", err)
	}

	var errs error
	sellers := map[uuid.UUID]struct{}{}
	for _, group := range groupBySellerCurrency(entries) {
		sellers[group.sellerID] = struct{}{}
		if group.net < s.minimum {
			report.Deferred++
			continue
		}
		errs = multierr.Append(errs, s.release(ctx, group, &report))
	}
	report.Sellers = len(sellers)
	return report, false, errs
}

func (s *Sweeper) release(ctx context.Context, group payoutGroup, report *Report) error {
	logCtx := s.logg.WithField(s.logg.WithSellerID(ctx, group.sellerID.String()), "currency", group.currency)

	claimedIDs, claimErr := s.ledger.ClaimForBatch(ctx, group.ids())
	lost := len(group.entries) - len(claimedIDs)
	if claimErr == nil && lost > 0 {
		report.Lost += lost
		s.metrics.AddLostClaims(lost)
	}
	report.Claimed += len(claimedIDs)
	s.metrics.AddClaimed(len(claimedIDs))
	if claimErr != nil {
		claimErr = fmt.Errorf("claim %s entries for seller %s: %w", group.currency, group.sellerID, claimErr)
		return multierr.Append(claimErr, s.rollback(logCtx, claimedIDs, report))
	}
	if len(claimedIDs) == 0 {
		return nil
	}

	claimed := group.only(claimedIDs)
	batches, err := s.payouts.Submit(ctx, group.sellerID, claimed)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "payout submission failed; returning claims to escrow")
		submitErr := fmt.Errorf("submit %s payout for seller %s: %w", group.currency, group.sellerID, err)
		return multierr.Append(submitErr, s.rollback(logCtx, claimedIDs, report))
	}
	report.Batches += len(batches)
	return nil
}

// rollback returns claimed entries to escrow. A CAS conflict means something
// else already moved the entry, which is fine.
func (s *Sweeper) rollback(ctx context.Context, ids []uuid.UUID, report *Report) error {
	var errs error
	for _, id := range ids {
		err := s.ledger.Transition(ctx, id, enums.LedgerEntryStateBatching, enums.LedgerEntryStateEscrowed)
		switch {
		case err == nil:
			report.RolledBack++
			s.metrics.AddRolledBack(1)
		case errors.Is(err, ledger.ErrConflict):
		default:
			errs = multierr.Append(errs, fmt.Errorf("roll back entry %s: %w", id, err))
		}
	}
	if errs != nil {
		s.logg.Error(ctx, "claim rollback incomplete; stale-claim recovery will reset the rest", errs)
	}
	return errs
}
