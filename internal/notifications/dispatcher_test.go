package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

type flakyRepository struct {
	Repository
	mu       sync.Mutex
	failures int
	calls    int
	created  []models.SellerNotification
}

func (f *flakyRepository) Create(ctx context.Context, notification *models.SellerNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.created = append(f.created, *notification)
	return nil
}

func (f *flakyRepository) WithTx(tx *gorm.DB) Repository { return f }

func (f *flakyRepository) snapshot() (int, []models.SellerNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]models.SellerNotification(nil), f.created...)
}

func newTestDispatcher(t *testing.T, repo Repository, params DispatcherParams) (*Dispatcher, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	params.Repo = repo
	params.Logger = logger.New(logger.Options{ServiceName: "test", Output: buf})
	d, err := NewDispatcher(params)
	require.NoError(t, err)
	d.now = func() time.Time { return baseTime }
	d.sleep = func(context.Context, time.Duration) error { return nil }
	return d, buf
}

func paymentData() PaymentReceivedData {
	return PaymentReceivedData{BatchID: uuid.New(), Amount: 450, Currency: "NGN"}
}

func TestNotifyValidatesSynchronously(t *testing.T) {
	d, _ := newTestDispatcher(t, &flakyRepository{}, DispatcherParams{})
	ctx := context.Background()
	seller := uuid.New()

	tests := []struct {
		name    string
		seller  uuid.UUID
		typ     enums.SellerNotificationType
		title   string
		message string
		data    Data
	}{
		{name: "missing seller", seller: uuid.Nil, typ: enums.SellerNotificationPaymentReceived, title: "Paid", message: "ok", data: paymentData()},
		{name: "unknown type", seller: seller, typ: "promo", title: "Paid", message: "ok", data: paymentData()},
		{name: "empty title", seller: seller, typ: enums.SellerNotificationPaymentReceived, title: "  ", message: "ok", data: paymentData()},
		{name: "long title", seller: seller, typ: enums.SellerNotificationPaymentReceived, title: strings.Repeat("t", 101), message: "ok", data: paymentData()},
		{name: "long message", seller: seller, typ: enums.SellerNotificationPaymentReceived, title: "Paid", message: strings.Repeat("m", 501), data: paymentData()},
		{name: "nil data", seller: seller, typ: enums.SellerNotificationPaymentReceived, title: "Paid", message: "ok"},
		{name: "mismatched variant", seller: seller, typ: enums.SellerNotificationNewOrder, title: "Paid", message: "ok", data: paymentData()},
		{name: "invalid variant fields", seller: seller, typ: enums.SellerNotificationPaymentReceived, title: "Paid", message: "ok", data: PaymentReceivedData{Amount: 1, Currency: "NGN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := d.Notify(ctx, tt.seller, tt.typ, tt.title, tt.message, tt.data)
			require.Error(t, err)
			assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
	assert.Empty(t, d.queue)

	require.NoError(t, d.Notify(ctx, seller, enums.SellerNotificationPaymentReceived,
		strings.Repeat("t", 100), strings.Repeat("m", 500), paymentData()))
	assert.Len(t, d.queue, 1)
}

func TestNotifySetsNinetyDayExpiry(t *testing.T) {
	d, _ := newTestDispatcher(t, &flakyRepository{}, DispatcherParams{})
	require.NoError(t, d.Notify(context.Background(), uuid.New(), enums.SellerNotificationPaymentReceived, "Paid", "Payout sent", paymentData()))

	queued := <-d.queue
	assert.True(t, queued.CreatedAt.Equal(baseTime))
	assert.True(t, queued.ExpiresAt.Equal(baseTime.Add(90*24*time.Hour)))

	var decoded PaymentReceivedData
	require.NoError(t, json.Unmarshal(queued.Data, &decoded))
	assert.Equal(t, int64(450), decoded.Amount)
	assert.Equal(t, "NGN", decoded.Currency)
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	d, buf := newTestDispatcher(t, &flakyRepository{}, DispatcherParams{QueueSize: 1})
	ctx := context.Background()
	seller := uuid.New()

	require.NoError(t, d.Notify(ctx, seller, enums.SellerNotificationPaymentReceived, "Paid", "first", paymentData()))
	require.NoError(t, d.Notify(ctx, seller, enums.SellerNotificationPaymentReceived, "Paid", "second", paymentData()))
	assert.Len(t, d.queue, 1)
	assert.Contains(t, buf.String(), "notification queue full")
}

func TestRunRetriesThenPersists(t *testing.T) {
	repo := &flakyRepository{failures: 2}
	d, _ := newTestDispatcher(t, repo, DispatcherParams{RetryAttempts: 3, Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Notify(ctx, uuid.New(), enums.SellerNotificationPaymentReceived, "Paid", "Payout sent", paymentData()))
	require.Eventually(t, func() bool {
		_, created := repo.snapshot()
		return len(created) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	calls, _ := repo.snapshot()
	assert.Equal(t, 3, calls)
}

func TestRunDropsAfterRetryBudget(t *testing.T) {
	repo := &flakyRepository{failures: 10}
	d, buf := newTestDispatcher(t, repo, DispatcherParams{RetryAttempts: 3, Workers: 1})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.NoError(t, d.Notify(ctx, uuid.New(), enums.SellerNotificationPaymentReceived, "Paid", "Payout sent", paymentData()))
	require.Eventually(t, func() bool {
		calls, _ := repo.snapshot()
		return calls == 3
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	_, created := repo.snapshot()
	assert.Empty(t, created)
	assert.Contains(t, buf.String(), "failed to persist seller notification")
}

func TestRunDrainsQueueOnShutdown(t *testing.T) {
	repo := &flakyRepository{}
	d, _ := newTestDispatcher(t, repo, DispatcherParams{})
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Notify(context.Background(), uuid.New(), enums.SellerNotificationPaymentReceived, "Paid", "Payout sent", paymentData()))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	_, created := repo.snapshot()
	assert.Len(t, created, 3)
}
