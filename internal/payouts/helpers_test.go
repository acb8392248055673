package payouts

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/db/dbtest"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

type fakeGateway struct {
	mu    sync.Mutex
	errs  []error
	calls []gateway.TransferRequest
}

// CreateTransfer returns the queued errors in order; the last one repeats.
func (f *fakeGateway) CreateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.TransferResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		if len(f.errs) > 1 {
			f.errs = f.errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	return &gateway.TransferResult{TransferReference: "TRF_" + req.Reference, Status: "pending"}, nil
}

func (f *fakeGateway) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type sentNotification struct {
	SellerID uuid.UUID
	Type     enums.SellerNotificationType
	Title    string
	Data     notifications.Data
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (r *recordingNotifier) Notify(ctx context.Context, sellerID uuid.UUID, typ enums.SellerNotificationType, title, message string, data notifications.Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, sentNotification{SellerID: sellerID, Type: typ, Title: title, Data: data})
	return nil
}

func (r *recordingNotifier) all() []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentNotification(nil), r.sent...)
}

type harness struct {
	conn     *gorm.DB
	ledger   ledger.Service
	batcher  *Batcher
	gateway  *fakeGateway
	notifier *recordingNotifier
	logs     *bytes.Buffer
	now      time.Time
	delays   []time.Duration
	ops      uuid.UUID
}

func newHarness(t *testing.T, configure func(*BatcherParams)) *harness {
	t.Helper()
	conn := dbtest.Open(t, &models.LedgerEntry{}, &models.PayoutBatch{}, &models.PayoutDestination{})
	h := &harness{
		conn:     conn,
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
		logs:     &bytes.Buffer{},
		now:      time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
		ops:      uuid.New(),
	}
	clock := func() time.Time { return h.now }

	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{
		Repo:           ledger.NewRepository(conn),
		CommissionRate: decimal.RequireFromString("0.10"),
		EscrowPeriod:   0,
		Now:            clock,
	})
	require.NoError(t, err)
	h.ledger = ledgerSvc

	params := BatcherParams{
		DB:            db.FromConn(conn),
		Repo:          NewRepository(conn),
		Ledger:        ledgerSvc,
		Gateway:       h.gateway,
		Notifier:      h.notifier,
		Logger:        logger.New(logger.Options{ServiceName: "test", Output: h.logs}),
		RetryAttempts: 3,
		BackoffBase:   time.Second,
		BackoffMax:    time.Minute,
		OpsAccount:    h.ops,
	}
	if configure != nil {
		configure(&params)
	}
	batcher, err := NewBatcher(params)
	require.NoError(t, err)
	batcher.now = clock
	batcher.afterFunc = func(d time.Duration, fn func()) { h.delays = append(h.delays, d) }
	h.batcher = batcher
	return h
}

func (h *harness) addDestination(t *testing.T, sellerID uuid.UUID) {
	t.Helper()
	require.NoError(t, h.conn.Create(&models.PayoutDestination{
		SellerID:      sellerID,
		RecipientCode: "RCP_" + sellerID.String()[:8],
		Currency:      "NGN",
		Active:        true,
	}).Error)
}

// claimed creates n charges of gross 500 (net 450) for seller and claims them.
func (h *harness) claimed(t *testing.T, sellerID uuid.UUID, n int) []models.LedgerEntry {
	t.Helper()
	ctx := context.Background()
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		entry, _, err := h.ledger.CreateEntry(ctx, ledger.CreateEntryInput{
			OrderID:         uuid.New(),
			SellerID:        sellerID,
			ChargeReference: "ch_test",
			GrossAmount:     500,
			Currency:        "NGN",
			ProcessedAt:     h.now,
		})
		require.NoError(t, err)
		ids = append(ids, entry.ID)
	}
	claimed, err := h.ledger.ClaimForBatch(ctx, ids)
	require.NoError(t, err)
	require.Len(t, claimed, n)

	entries := make([]models.LedgerEntry, 0, n)
	for _, id := range ids {
		entry, err := h.ledger.Get(ctx, id)
		require.NoError(t, err)
		entries = append(entries, *entry)
	}
	return entries
}

func (h *harness) batch(t *testing.T, id uuid.UUID) *models.PayoutBatch {
	t.Helper()
	batch, err := h.batcher.repo.FindBatch(context.Background(), id)
	require.NoError(t, err)
	return batch
}

func (h *harness) entryStates(t *testing.T, entries []models.LedgerEntry) []enums.LedgerEntryState {
	t.Helper()
	states := make([]enums.LedgerEntryState, 0, len(entries))
	for _, entry := range entries {
		got, err := h.ledger.Get(context.Background(), entry.ID)
		require.NoError(t, err)
		states = append(states, got.State)
	}
	return states
}

func repeatState(state enums.LedgerEntryState, n int) []enums.LedgerEntryState {
	out := make([]enums.LedgerEntryState, n)
	for i := range out {
		out[i] = state
	}
	return out
}
