package escrow

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
)

const defaultStaleAfter = 30 * time.Minute

// BatchResumer re-queues payout batches that never reached the gateway.
type BatchResumer interface {
	ResumeIdle(ctx context.Context, idleFor time.Duration) (int, error)
}

// RecoveryParams wires stale-claim recovery.
type RecoveryParams struct {
	Ledger     ledger.Service
	Payouts    BatchResumer
	Logger     *logger.Logger
	Metrics    *metrics.SweepMetrics
	StaleAfter time.Duration
}

// Recovery resets claims left behind by a crash between claiming and batch
// creation, and re-queues created batches whose in-memory queue was lost.
type Recovery struct {
	ledger     ledger.Service
	payouts    BatchResumer
	logg       *logger.Logger
	metrics    *metrics.SweepMetrics
	staleAfter time.Duration
}

// NewRecovery validates dependencies.
func NewRecovery(params RecoveryParams) (*Recovery, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout resumer required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	return &Recovery{
		ledger:     params.Ledger,
		payouts:    params.Payouts,
		logg:       params.Logger,
		metrics:    params.Metrics,
		staleAfter: staleAfter,
	}, nil
}

func (r *Recovery) Name() string { return "stale-claim-recovery" }

func (r *Recovery) Run(ctx context.Context) error {
	reset, resetErr := r.ledger.ResetStaleClaims(ctx, r.staleAfter)
	if resetErr != nil {
		resetErr = fmt.Errorf("reset stale claims: %w", resetErr)
	}
	r.metrics.AddStaleReset(int(reset))

	resumed, resumeErr := r.payouts.ResumeIdle(ctx, r.staleAfter)
	if resumeErr != nil {
		resumeErr = fmt.Errorf("resume idle batches: %w", resumeErr)
	}

	if reset > 0 || resumed > 0 {
		logCtx := r.logg.WithFields(ctx, map[string]any{
			"claims_reset":    reset,
			"batches_resumed": resumed,
			"stale_after":     r.staleAfter.String(),
		})
		r.logg.Warn(logCtx, "recovered stale escrow claims")
	}
	return multierr.Combine(resetErr, resumeErr)
}
