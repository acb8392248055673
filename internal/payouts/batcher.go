package payouts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	dbtypes "github.com/angelmondragon/commission-escrow/pkg/db/types"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
)

const (
	defaultBatchSize     = 50
	defaultRetryAttempts = 3
	defaultWorkers       = 4
	defaultQueueSize     = 256
	defaultBackoffBase   = 30 * time.Second
	defaultBackoffMax    = 10 * time.Minute
)

var (
	// ErrNoDestination means the seller has no active payout destination.
	ErrNoDestination = pkgerrors.New(pkgerrors.CodeValidation, "seller has no active payout destination")
	// ErrBatchNotFound means no batch matched the id or reference.
	ErrBatchNotFound = pkgerrors.New(pkgerrors.CodeNotFound, "payout batch not found")
	// ErrLateTransferSuccess marks a gateway success for a batch already failed.
	ErrLateTransferSuccess = errors.New("transfer succeeded after payout batch failed")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// TransferClient is the slice of the gateway client the batcher needs.
type TransferClient interface {
	CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error)
}

// BatcherParams wires the payout batcher.
type BatcherParams struct {
	DB            txRunner
	Repo          Repository
	Ledger        ledger.Service
	Gateway       TransferClient
	Notifier      notifications.Notifier
	Logger        *logger.Logger
	Metrics       *metrics.PayoutMetrics
	BatchSize     int
	RetryAttempts int
	Workers       int
	QueueSize     int
	RatePerSecond float64
	Burst         int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	OpsAccount    uuid.UUID
}

// Batcher turns claimed ledger entries into payout batches and drives them
// through the gateway with bounded retries.
type Batcher struct {
	db          txRunner
	repo        Repository
	ledger      ledger.Service
	gateway     TransferClient
	notifier    notifications.Notifier
	logg        *logger.Logger
	metrics     *metrics.PayoutMetrics
	batchSize   int
	attempts    int
	workers     int
	backoffBase time.Duration
	backoffMax  time.Duration
	opsAccount  uuid.UUID
	limiter     *rate.Limiter
	queue       chan uuid.UUID
	inflight    sync.Map
	now         func() time.Time
	afterFunc   func(d time.Duration, fn func())
}

// NewBatcher validates dependencies and applies defaults.
func NewBatcher(params BatcherParams) (*Batcher, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("gateway client required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}

	b := &Batcher{
		db:          params.DB,
		repo:        params.Repo,
		ledger:      params.Ledger,
		gateway:     params.Gateway,
		notifier:    params.Notifier,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchSize:   params.BatchSize,
		attempts:    params.RetryAttempts,
		workers:     params.Workers,
		backoffBase: params.BackoffBase,
		backoffMax:  params.BackoffMax,
		opsAccount:  params.OpsAccount,
		now:         time.Now,
		afterFunc:   func(d time.Duration, fn func()) { time.AfterFunc(d, fn) },
	}
	if b.batchSize <= 0 {
		b.batchSize = defaultBatchSize
	}
	if b.attempts <= 0 {
		b.attempts = defaultRetryAttempts
	}
	if b.workers <= 0 {
		b.workers = defaultWorkers
	}
	if b.backoffBase <= 0 {
		b.backoffBase = defaultBackoffBase
	}
	if b.backoffMax < b.backoffBase {
		b.backoffMax = defaultBackoffMax
		if b.backoffMax < b.backoffBase {
			b.backoffMax = b.backoffBase
		}
	}
	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	b.queue = make(chan uuid.UUID, queueSize)

	limit := rate.Inf
	if params.RatePerSecond > 0 {
		limit = rate.Limit(params.RatePerSecond)
	}
	burst := params.Burst
	if burst <= 0 {
		burst = 1
	}
	b.limiter = rate.NewLimiter(limit, burst)
	return b, nil
}

// Submit groups claimed entries of one seller into batches of at most the
// configured size, attaches the entries and queues the batches for transfer.
// It does not wait for the gateway. Entries must already be in batching.
func (b *Batcher) Submit(ctx context.Context, sellerID uuid.UUID, entries []models.LedgerEntry) ([]models.PayoutBatch, error) {
	if sellerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	}
	if len(entries) == 0 {
		return nil, nil
	}
	for _, entry := range entries {
		if entry.SellerID != sellerID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "entries belong to another seller").
				WithDetails(map[string]any{"entry_id": entry.ID.String()})
		}
	}

	var batches []models.PayoutBatch
	err := b.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := b.repo.WithTx(tx)
		ledgerTx := b.ledger.WithTx(tx)

		dest, err := repo.FindDestination(ctx, sellerID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: seller %s", ErrNoDestination, sellerID)
			}
			return fmt.Errorf("load payout destination: %w", err)
		}

		now := b.now().UTC()
		for _, chunk := range chunkEntries(entries, b.batchSize) {
			ids := make([]uuid.UUID, 0, len(chunk))
			var total int64
			for _, entry := range chunk {
				ids = append(ids, entry.ID)
				total += entry.NetAmount
			}
			batch := models.PayoutBatch{
				ID:          uuid.New(),
				SellerID:    sellerID,
				EntryIDs:    dbtypes.UUIDArray(ids),
				TotalAmount: total,
				Currency:    chunk[0].Currency,
				Destination: dest.RecipientCode,
				Status:      enums.PayoutBatchStatusCreated,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := repo.CreateBatch(ctx, &batch); err != nil {
				return fmt.Errorf("create payout batch: %w", err)
			}
			if err := ledgerTx.AttachToBatch(ctx, batch.ID, ids); err != nil {
				return err
			}
			batches = append(batches, batch)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	b.metrics.AddBatchesCreated(len(batches))
	for _, batch := range batches {
		b.enqueue(ctx, batch.ID)
	}
	return batches, nil
}

// chunkEntries splits entries by currency and then into slices of at most size.
func chunkEntries(entries []models.LedgerEntry, size int) [][]models.LedgerEntry {
	byCurrency := map[string][]models.LedgerEntry{}
	var currencies []string
	for _, entry := range entries {
		key := strings.ToUpper(entry.Currency)
		if _, ok := byCurrency[key]; !ok {
			currencies = append(currencies, key)
		}
		byCurrency[key] = append(byCurrency[key], entry)
	}
	sort.Strings(currencies)

	var chunks [][]models.LedgerEntry
	for _, currency := range currencies {
		group := byCurrency[currency]
		for start := 0; start < len(group); start += size {
			end := start + size
			if end > len(group) {
				end = len(group)
			}
			chunks = append(chunks, group[start:end])
		}
	}
	return chunks
}

// enqueue hands a batch to the worker pool. A full queue leaves the batch in
// created for ResumeIdle to pick up.
func (b *Batcher) enqueue(ctx context.Context, batchID uuid.UUID) bool {
	select {
	case b.queue <- batchID:
		return true
	default:
		logCtx := b.logg.WithBatchID(ctx, batchID.String())
		b.logg.Warn(logCtx, "payout queue full, batch left for resume")
		return false
	}
}

func (b *Batcher) enqueueAfter(batchID uuid.UUID, delay time.Duration) {
	b.afterFunc(delay, func() {
		b.enqueue(context.Background(), batchID)
	})
}
