package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	dbtypes "github.com/angelmondragon/commission-escrow/pkg/db/types"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
	"github.com/angelmondragon/commission-escrow/pkg/validation"
)

const (
	MaxTitleLength   = 100
	MaxMessageLength = 500

	defaultQueueSize     = 1024
	defaultWorkers       = 2
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 200 * time.Millisecond
	defaultRetention     = 90 * 24 * time.Hour
	drainTimeout         = 5 * time.Second
)

// Notifier is the write side used by the ledger and payout flows.
type Notifier interface {
	Notify(ctx context.Context, sellerID uuid.UUID, typ enums.SellerNotificationType, title, message string, data Data) error
}

// DispatcherParams wires the notification dispatcher.
type DispatcherParams struct {
	Repo          Repository
	Logger        *logger.Logger
	Metrics       *metrics.NotificationMetrics
	QueueSize     int
	Workers       int
	RetryAttempts int
	RetryBackoff  time.Duration
	Retention     time.Duration
}

// Dispatcher validates notifications synchronously and persists them from a
// bounded queue so callers never wait on the notification store.
type Dispatcher struct {
	repo      Repository
	logg      *logger.Logger
	metrics   *metrics.NotificationMetrics
	queue     chan models.SellerNotification
	workers   int
	attempts  int
	backoff   time.Duration
	retention time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a dispatcher. Call Run to start persisting.
func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	d := &Dispatcher{
		repo:      params.Repo,
		logg:      params.Logger,
		metrics:   params.Metrics,
		workers:   params.Workers,
		attempts:  params.RetryAttempts,
		backoff:   params.RetryBackoff,
		retention: params.Retention,
		now:       time.Now,
		sleep:     sleepCtx,
	}
	queueSize := params.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if d.workers <= 0 {
		d.workers = defaultWorkers
	}
	if d.attempts <= 0 {
		d.attempts = defaultRetryAttempts
	}
	if d.backoff <= 0 {
		d.backoff = defaultRetryBackoff
	}
	if d.retention <= 0 {
		d.retention = defaultRetention
	}
	d.queue = make(chan models.SellerNotification, queueSize)
	return d, nil
}

// Notify validates the notification and queues it. Invalid input returns a
// validation error. A full queue drops the notification and returns nil.
func (d *Dispatcher) Notify(ctx context.Context, sellerID uuid.UUID, typ enums.SellerNotificationType, title, message string, data Data) error {
	notification, err := d.build(sellerID, typ, title, message, data)
	if err != nil {
		return err
	}

	select {
	case d.queue <- notification:
		return nil
	default:
		d.metrics.IncDropped("queue_full")
		logCtx := d.logg.WithFields(ctx, map[string]any{
			"seller_id":         sellerID.String(),
			"notification_type": string(typ),
		})
		d.logg.Warn(logCtx, "notification queue full, dropping notification")
		return nil
	}
}

func (d *Dispatcher) build(sellerID uuid.UUID, typ enums.SellerNotificationType, title, message string, data Data) (models.SellerNotification, error) {
	title = strings.TrimSpace(title)
	message = strings.TrimSpace(message)
	switch {
	case sellerID == uuid.Nil:
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "seller id required")
	case !typ.IsValid():
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid notification type").
			WithDetails(map[string]any{"type": string(typ)})
	case title == "" || utf8.RuneCountInString(title) > MaxTitleLength:
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "title must be 1-100 characters").
			WithDetails(map[string]any{"length": utf8.RuneCountInString(title)})
	case message == "" || utf8.RuneCountInString(message) > MaxMessageLength:
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "message must be 1-500 characters").
			WithDetails(map[string]any{"length": utf8.RuneCountInString(message)})
	case data == nil:
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "notification data required")
	case data.NotificationType() != typ:
		return models.SellerNotification{}, pkgerrors.New(pkgerrors.CodeValidation, "notification data does not match type").
			WithDetails(map[string]any{"type": string(typ), "data_type": string(data.NotificationType())})
	}
	if err := validation.Struct(data); err != nil {
		return models.SellerNotification{}, err
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return models.SellerNotification{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "encode notification data")
	}

	now := d.now().UTC()
	return models.SellerNotification{
		ID:        uuid.New(),
		SellerID:  sellerID,
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      dbtypes.JSONPayload(payload),
		CreatedAt: now,
		ExpiresAt: now.Add(d.retention),
	}, nil
}

// Run persists queued notifications until ctx is cancelled, then drains what is
// left in the queue within a short deadline.
func (d *Dispatcher) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case notification := <-d.queue:
					d.persist(ctx, notification)
				}
			}
		}()
	}
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainTimeout)
	defer cancel()
	for {
		select {
		case notification := <-d.queue:
			d.persist(drainCtx, notification)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) persist(ctx context.Context, notification models.SellerNotification) {
	var lastErr error
	for attempt := 1; attempt <= d.attempts; attempt++ {
		row := notification
		err := d.repo.Create(ctx, &row)
		if err == nil || db.IsUniqueViolation(err, "") {
			d.metrics.IncPersisted()
			return
		}
		lastErr = err
		if attempt == d.attempts {
			break
		}
		if err := d.sleep(ctx, d.backoff*time.Duration(1<<(attempt-1))); err != nil {
			lastErr = err
			break
		}
	}

	d.metrics.IncDropped("persist_failed")
	logCtx := d.logg.WithFields(ctx, map[string]any{
		"seller_id":         notification.SellerID.String(),
		"notification_id":   notification.ID.String(),
		"notification_type": string(notification.Type),
		"attempts":          d.attempts,
	})
	d.logg.Error(logCtx, "failed to persist seller notification", lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
