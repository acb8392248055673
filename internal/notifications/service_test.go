package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/dbtest"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
)

var baseTime = time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*gorm.DB, Repository) {
	t.Helper()
	conn := dbtest.Open(t, &models.SellerNotification{})
	return conn, NewRepository(conn)
}

func newTestService(t *testing.T, repo Repository, now time.Time) Service {
	t.Helper()
	svc, err := NewService(repo)
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return now }
	return svc
}

func seedNotification(t *testing.T, repo Repository, sellerID uuid.UUID, createdAt time.Time) models.SellerNotification {
	t.Helper()
	row := models.SellerNotification{
		SellerID:  sellerID,
		Type:      enums.SellerNotificationSystem,
		Title:     "Heads up",
		Message:   "Scheduled maintenance tonight",
		Data:      []byte(`{"severity":"info"}`),
		CreatedAt: createdAt,
		ExpiresAt: createdAt.Add(defaultRetention),
	}
	require.NoError(t, repo.Create(context.Background(), &row))
	return row
}

func TestListPaginatesNewestFirst(t *testing.T) {
	_, repo := newTestStore(t)
	seller := uuid.New()
	var seeded []models.SellerNotification
	for i := 0; i < 3; i++ {
		seeded = append(seeded, seedNotification(t, repo, seller, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	seedNotification(t, repo, uuid.New(), baseTime)

	svc := newTestService(t, repo, baseTime.Add(time.Hour))
	ctx := context.Background()

	page, err := svc.List(ctx, ListParams{SellerID: seller, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, seeded[2].ID, page.Items[0].ID)
	assert.Equal(t, seeded[1].ID, page.Items[1].ID)
	require.NotEmpty(t, page.Cursor)

	next, err := svc.List(ctx, ListParams{SellerID: seller, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, next.Items, 1)
	assert.Equal(t, seeded[0].ID, next.Items[0].ID)
	assert.Empty(t, next.Cursor)
}

func TestListHidesExpiredNotifications(t *testing.T) {
	_, repo := newTestStore(t)
	seller := uuid.New()
	seedNotification(t, repo, seller, baseTime)

	present := newTestService(t, repo, baseTime.Add(89*24*time.Hour))
	page, err := present.List(context.Background(), ListParams{SellerID: seller})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)

	gone := newTestService(t, repo, baseTime.Add(91*24*time.Hour))
	page, err = gone.List(context.Background(), ListParams{SellerID: seller})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	count, err := gone.UnreadCount(context.Background(), seller)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReadToggle(t *testing.T) {
	_, repo := newTestStore(t)
	seller := uuid.New()
	row := seedNotification(t, repo, seller, baseTime)
	svc := newTestService(t, repo, baseTime.Add(time.Minute))
	ctx := context.Background()

	require.NoError(t, svc.MarkRead(ctx, seller, row.ID))
	require.NoError(t, svc.MarkRead(ctx, seller, row.ID), "marking twice is a no-op")

	unread, err := svc.List(ctx, ListParams{SellerID: seller, UnreadOnly: true})
	require.NoError(t, err)
	assert.Empty(t, unread.Items)

	require.NoError(t, svc.MarkUnread(ctx, seller, row.ID))
	count, err := svc.UnreadCount(ctx, seller)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	err = svc.MarkRead(ctx, uuid.New(), row.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound), "other sellers cannot see the row")
}

func TestMarkAllRead(t *testing.T) {
	_, repo := newTestStore(t)
	seller := uuid.New()
	seedNotification(t, repo, seller, baseTime)
	seedNotification(t, repo, seller, baseTime.Add(time.Second))
	svc := newTestService(t, repo, baseTime.Add(time.Minute))

	updated, err := svc.MarkAllRead(context.Background(), seller)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated)

	count, err := svc.UnreadCount(context.Background(), seller)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestServiceValidation(t *testing.T) {
	_, repo := newTestStore(t)
	svc := newTestService(t, repo, baseTime)
	ctx := context.Background()

	_, err := svc.List(ctx, ListParams{})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.List(ctx, ListParams{SellerID: uuid.New(), Cursor: "%%%"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = svc.MarkRead(ctx, uuid.New(), uuid.Nil)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewService(nil)
	assert.Error(t, err)
}

func TestDeleteExpired(t *testing.T) {
	conn, repo := newTestStore(t)
	seller := uuid.New()
	old := seedNotification(t, repo, seller, baseTime)
	fresh := seedNotification(t, repo, seller, baseTime.Add(30*24*time.Hour))

	deleted, err := repo.DeleteExpired(context.Background(), nil, old.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var remaining []models.SellerNotification
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, fresh.ID, remaining[0].ID)
}
