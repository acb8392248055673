package gatewaywebhook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/internal/ledger"
	"github.com/angelmondragon/commission-escrow/internal/notifications"
	"github.com/angelmondragon/commission-escrow/internal/payouts"
	"github.com/angelmondragon/commission-escrow/internal/subscriptions"
	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	pkgerrors "github.com/angelmondragon/commission-escrow/pkg/errors"
	"github.com/angelmondragon/commission-escrow/pkg/gateway"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/metrics"
	"github.com/angelmondragon/commission-escrow/pkg/validation"
)

// ErrInvalidSignature rejects a webhook whose signature does not match.
var ErrInvalidSignature = pkgerrors.New(pkgerrors.CodeInvalidSignature, "invalid webhook signature")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Settler applies transfer outcomes to payout batches.
type Settler interface {
	CompleteTransfer(ctx context.Context, tx *gorm.DB, reference, transferReference string) (payouts.Settlement, error)
	FailTransfer(ctx context.Context, tx *gorm.DB, reference, reason string) (payouts.Settlement, error)
}

type seenCache interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

// ServiceParams wires webhook ingestion.
type ServiceParams struct {
	DB        txRunner
	Repo      Repository
	Ledger    ledger.Service
	Payouts   Settler
	Forwarder subscriptions.Forwarder
	Notifier  notifications.Notifier
	SeenCache *SeenCache
	Logger    *logger.Logger
	Metrics   *metrics.WebhookMetrics
	Secret    string
}

// Result is the outcome reported back to the gateway.
type Result struct {
	Status    enums.WebhookEventStatus `json:"status"`
	EventID   string                   `json:"event_id,omitempty"`
	EventType string                   `json:"event_type,omitempty"`
}

// Service authenticates, dedupes and applies gateway webhooks.
type Service struct {
	db        txRunner
	repo      Repository
	ledger    ledger.Service
	payouts   Settler
	forwarder subscriptions.Forwarder
	notifier  notifications.Notifier
	seen      seenCache
	logg      *logger.Logger
	metrics   *metrics.WebhookMetrics
	secret    string
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("webhook repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout settler required")
	}
	if params.Forwarder == nil {
		return nil, fmt.Errorf("subscription forwarder required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("notifier required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Secret == "" {
		return nil, fmt.Errorf("webhook secret required")
	}
	s := &Service{
		db:        params.DB,
		repo:      params.Repo,
		ledger:    params.Ledger,
		payouts:   params.Payouts,
		forwarder: params.Forwarder,
		notifier:  params.Notifier,
		logg:      params.Logger,
		metrics:   params.Metrics,
		secret:    params.Secret,
		now:       time.Now,
	}
	if params.SeenCache != nil {
		s.seen = params.SeenCache
	}
	return s, nil
}

// notice is a seller notification emitted once the ledger change commits.
type notice struct {
	sellerID uuid.UUID
	typ      enums.SellerNotificationType
	title    string
	message  string
	data     notifications.Data
}

// Ingest verifies payload against signature, records the event exactly once
// and applies it to the ledger in the same transaction. Rejected events are
// not stored.
func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) (Result, error) {
	rejected := Result{Status: enums.WebhookEventStatusRejected}
	if !gateway.VerifySignature(payload, signature, s.secret) {
		s.metrics.IncSignatureFailure()
		s.metrics.IncResult(string(enums.WebhookEventStatusRejected), "unknown")
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event":         "security.webhook_signature",
			"payload_bytes": len(payload),
		})
		s.logg.Warn(logCtx, "webhook signature mismatch")
		return rejected, ErrInvalidSignature
	}

	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		s.metrics.IncResult(string(enums.WebhookEventStatusRejected), "unknown")
		return rejected, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook payload")
	}
	if err := validation.Struct(env); err != nil {
		s.metrics.IncResult(string(enums.WebhookEventStatusRejected), "unknown")
		return rejected, err
	}
	rejected.EventID, rejected.EventType = env.ID, env.Event
	ctx = s.logg.WithFields(s.logg.WithEventID(ctx, env.ID), map[string]any{"event_type": env.Event})

	if s.seen != nil {
		seen, err := s.seen.Seen(ctx, env.ID)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "seen cache unavailable; falling back to database")
		} else if seen {
			s.metrics.IncResult(string(enums.WebhookEventStatusDuplicate), env.Event)
			return Result{Status: enums.WebhookEventStatusDuplicate, EventID: env.ID, EventType: env.Event}, nil
		}
	}

	status, notices, err := s.apply(ctx, env, payload)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			s.metrics.IncResult(string(enums.WebhookEventStatusRejected), env.Event)
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "webhook event rejected")
			return rejected, err
		}
		s.logg.Error(ctx, "webhook processing failed", err)
		if db.IsSerializationFailure(err) {
			return rejected, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook processing conflicted; retry")
		}
		if pkgerrors.IsCode(err, pkgerrors.CodeDependency) {
			return rejected, err
		}
		return rejected, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook processing failed")
	}

	if s.seen != nil {
		if err := s.seen.Mark(ctx, env.ID); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to mark webhook as seen")
		}
	}
	for _, n := range notices {
		if err := s.notifier.Notify(ctx, n.sellerID, n.typ, n.title, n.message, n.data); err != nil {
			s.logg.Error(s.logg.WithSellerID(ctx, n.sellerID.String()), "failed to queue seller notification", err)
		}
	}

	s.metrics.IncResult(string(status), env.Event)
	if status == enums.WebhookEventStatusDuplicate {
		s.logg.Info(ctx, "duplicate webhook acknowledged")
	}
	return Result{Status: status, EventID: env.ID, EventType: env.Event}, nil
}

func (s *Service) apply(ctx context.Context, env Envelope, payload []byte) (enums.WebhookEventStatus, []notice, error) {
	now := s.now().UTC()
	sum := sha256.Sum256(payload)
	status := enums.WebhookEventStatusAccepted
	var notices []notice

	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		event := &models.WebhookEvent{
			ExternalEventID: env.ID,
			Type:            env.Event,
			Status:          enums.WebhookEventStatusAccepted,
			PayloadHash:     hex.EncodeToString(sum[:]),
			DeliveryCount:   1,
			ReceivedAt:      now,
			LastDeliveredAt: now,
		}
		created, err := repo.Insert(ctx, event)
		if err != nil {
			return fmt.Errorf("record webhook event: %w", err)
		}
		if !created {
			status = enums.WebhookEventStatusDuplicate
			return repo.RecordRedelivery(ctx, env.ID, now)
		}

		notices, err = s.dispatch(ctx, tx, env, payload, now)
		if err != nil {
			return err
		}
		return repo.MarkProcessed(ctx, event.ID, now)
	})
	if err != nil {
		return "", nil, err
	}
	return status, notices, nil
}

func (s *Service) dispatch(ctx context.Context, tx *gorm.DB, env Envelope, payload []byte, now time.Time) ([]notice, error) {
	eventType := enums.GatewayEventType(env.Event)
	switch {
	case eventType == enums.GatewayEventChargeSuccess:
		return s.handleCharge(ctx, tx, env, now)
	case eventType == enums.GatewayEventTransferSuccess:
		return s.handleTransferSuccess(ctx, tx, env)
	case eventType == enums.GatewayEventTransferFailed, eventType == enums.GatewayEventTransferReversed:
		return s.handleTransferFailed(ctx, tx, env)
	case eventType.IsSubscriptionLifecycle():
		err := s.forwarder.NotifySubscriptionEvent(ctx, tx, subscriptions.Event{
			ID:        env.ID,
			Type:      env.Event,
			CreatedAt: env.CreatedAt,
			Payload:   payload,
		})
		if err != nil {
			return nil, fmt.Errorf("queue subscription event: %w", err)
		}
		return nil, nil
	default:
		s.logg.Debug(ctx, "unhandled webhook event type acknowledged")
		return nil, nil
	}
}

func (s *Service) handleCharge(ctx context.Context, tx *gorm.DB, env Envelope, now time.Time) ([]notice, error) {
	var data ChargeData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, err
	}
	processedAt := now
	switch {
	case data.PaidAt != nil && !data.PaidAt.IsZero():
		processedAt = *data.PaidAt
	case !env.CreatedAt.IsZero():
		processedAt = env.CreatedAt
	}

	entry, created, err := s.ledger.WithTx(tx).CreateEntry(ctx, ledger.CreateEntryInput{
		OrderID:         data.Metadata.OrderID,
		SellerID:        data.Metadata.SellerID,
		ChargeReference: data.Reference,
		GrossAmount:     data.Amount,
		Currency:        data.Currency,
		ProcessedAt:     processedAt,
	})
	if err != nil {
		return nil, err
	}
	if !created {
		s.logg.Info(s.logg.WithField(ctx, "order_id", data.Metadata.OrderID.String()), "order already credited by an earlier event")
		return nil, nil
	}

	return []notice{{
		sellerID: entry.SellerID,
		typ:      enums.SellerNotificationNewOrder,
		title:    "New order paid",
		message: fmt.Sprintf("Order %s was paid. %d %s is held in escrow until %s.",
			entry.OrderID, entry.NetAmount, entry.Currency, entry.EscrowReleaseAt.Format("2 Jan 2006")),
		data: notifications.NewOrderData{OrderID: entry.OrderID, Amount: entry.GrossAmount, Currency: entry.Currency},
	}}, nil
}

func (s *Service) handleTransferSuccess(ctx context.Context, tx *gorm.DB, env Envelope) ([]notice, error) {
	var data TransferData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, err
	}
	settled, err := s.payouts.CompleteTransfer(ctx, tx, data.Reference, data.TransferCode)
	if errors.Is(err, payouts.ErrBatchNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "reference", data.Reference), "transfer event for unknown payout reference")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("complete transfer %s: %w", data.Reference, err)
	}
	if !settled.Changed {
		logCtx := s.logg.WithField(ctx, "reference", data.Reference)
		if settled.Batch != nil {
			logCtx = s.logg.WithFields(s.logg.WithBatchID(logCtx, settled.Batch.ID.String()), map[string]any{
				"batch_status": string(settled.Batch.Status),
				"failure_kind": string(settled.Batch.FailureKind),
			})
		}
		s.logg.Warn(logCtx, "transfer success for a settled payout ignored")
		return nil, nil
	}

	batch := settled.Batch
	transferRef := data.TransferCode
	if transferRef == "" && batch.TransferReference != nil {
		transferRef = *batch.TransferReference
	}
	return []notice{{
		sellerID: batch.SellerID,
		typ:      enums.SellerNotificationPaymentReceived,
		title:    "Payout sent",
		message:  fmt.Sprintf("Your payout of %d %s has been sent to your account.", batch.TotalAmount, batch.Currency),
		data: notifications.PaymentReceivedData{
			BatchID:           batch.ID,
			Amount:            batch.TotalAmount,
			Currency:          batch.Currency,
			TransferReference: transferRef,
		},
	}}, nil
}

func (s *Service) handleTransferFailed(ctx context.Context, tx *gorm.DB, env Envelope) ([]notice, error) {
	var data TransferData
	if err := decodeData(env.Data, &data); err != nil {
		return nil, err
	}
	reason := data.Reason
	if reason == "" {
		reason = env.Event
	}
	settled, err := s.payouts.FailTransfer(ctx, tx, data.Reference, reason)
	if errors.Is(err, payouts.ErrBatchNotFound) {
		s.logg.Warn(s.logg.WithField(ctx, "reference", data.Reference), "transfer event for unknown payout reference")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail transfer %s: %w", data.Reference, err)
	}
	if !settled.Changed {
		s.logg.Warn(s.logg.WithField(ctx, "reference", data.Reference), "transfer failure for a settled payout ignored")
		return nil, nil
	}

	batch := settled.Batch
	batchID := batch.ID
	return []notice{{
		sellerID: batch.SellerID,
		typ:      enums.SellerNotificationOrderUpdate,
		title:    "Payout failed",
		message: fmt.Sprintf("Your payout of %d %s did not go through. The funds are back in escrow and will be retried.",
			batch.TotalAmount, batch.Currency),
		data: notifications.OrderUpdateData{BatchID: &batchID, Status: "payout_failed", Reason: truncate(reason, 255)},
	}}, nil
}

func decodeData(raw json.RawMessage, dest any) error {
	if err := json.Unmarshal(raw, dest); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed webhook data")
	}
	return validation.Struct(dest)
}

func truncate(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
