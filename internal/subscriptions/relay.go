package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/outbox"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 5 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
	eventSource           = "payment-gateway"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type pinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type publisher interface {
	Publish(context.Context, *gcppubsub.Message) publishResult
}

type publishResult interface {
	Get(context.Context) (string, error)
}

// RelayParams wires the outbox relay.
type RelayParams struct {
	DB             dbClient
	PubSub         pinger
	Repository     outboxRepository
	Publisher      *gcppubsub.Publisher
	Logger         *logger.Logger
	BatchSize      int
	MaxAttempts    int
	PollInterval   time.Duration
	PublishTimeout time.Duration
}

// Relay drains queued subscription events to Pub/Sub. Each message carries the
// raw gateway payload as data; consumers dedupe on the event_id attribute.
type Relay struct {
	db             dbClient
	pubsub         pinger
	repo           outboxRepository
	publisher      publisher
	logg           *logger.Logger
	batchSize      int
	maxAttempts    int
	pollInterval   time.Duration
	publishTimeout time.Duration
}

func NewRelay(params RelayParams) (*Relay, error) {
	if params.Publisher == nil {
		return nil, errors.New("pubsub publisher required")
	}
	return newRelay(params, &gcpPublisher{Publisher: params.Publisher})
}

func newRelay(params RelayParams, pub publisher) (*Relay, error) {
	if params.DB == nil {
		return nil, errors.New("database client required")
	}
	if params.Repository == nil {
		return nil, errors.New("outbox repository required")
	}
	if pub == nil {
		return nil, errors.New("pubsub publisher required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	r := &Relay{
		db:             params.DB,
		pubsub:         params.PubSub,
		repo:           params.Repository,
		publisher:      pub,
		logg:           params.Logger,
		batchSize:      params.BatchSize,
		maxAttempts:    params.MaxAttempts,
		pollInterval:   params.PollInterval,
		publishTimeout: params.PublishTimeout,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.pollInterval <= 0 {
		r.pollInterval = defaultPollInterval
	}
	if r.publishTimeout <= 0 {
		r.publishTimeout = defaultPublishTimeout
	}
	return r, nil
}

// Run polls the outbox until ctx is canceled. Batch errors back off
// exponentially up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.ensureReadiness(ctx); err != nil {
		return err
	}
	ctx = r.logg.WithField(ctx, "component", "subscription-relay")
	r.logg.Info(ctx, "subscription event relay started")

	backoff := r.pollInterval
	for {
		select {
		case <-ctx.Done():
			r.logg.Info(ctx, "subscription event relay stopped")
			return ctx.Err()
		default:
		}

		processed, err := r.processBatch(ctx)
		if err != nil {
			r.logg.Error(ctx, "subscription relay batch error", err)
			backoff = nextBackoff(backoff, r.pollInterval, maxBackoff)
			if err := sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = r.pollInterval
		if processed {
			continue
		}
		if err := sleep(ctx, withJitter(r.pollInterval)); err != nil {
			return err
		}
	}
}

func (r *Relay) ensureReadiness(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if r.pubsub != nil {
		if err := r.pubsub.Ping(ctx); err != nil {
			return fmt.Errorf("pubsub ping failed: %w", err)
		}
	}
	return nil
}

// processBatch publishes one batch of pending rows. It reports whether any
// rows were picked up.
func (r *Relay) processBatch(ctx context.Context) (bool, error) {
	processed := false
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		processed = true

		for _, event := range events {
			fields := eventFields(event)
			env, err := outbox.DecodeEnvelope(event.Payload)
			if err != nil {
				if markErr := r.handleTerminal(ctx, tx, event, err, fields); markErr != nil {
					return markErr
				}
				continue
			}

			messageID, err := r.publish(ctx, event, env)
			if err != nil {
				nextAttempt := event.AttemptCount + 1
				fields["attempt_count"] = nextAttempt
				if nextAttempt >= r.maxAttempts {
					terminalErr := fmt.Errorf("max publish attempts reached: %w", err)
					if markErr := r.handleTerminal(ctx, tx, event, terminalErr, fields); markErr != nil {
						return markErr
					}
					continue
				}
				logCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error())
				r.logg.Warn(logCtx, "subscription event publish failed")
				if markErr := r.repo.MarkFailedTx(tx, event.ID, err); markErr != nil {
					return fmt.Errorf("mark failure %s: %w", event.ID, markErr)
				}
				continue
			}

			if markErr := r.repo.MarkPublishedTx(tx, event.ID); markErr != nil {
				return fmt.Errorf("mark published %s: %w", event.ID, markErr)
			}
			fields["message_id"] = messageID
			r.logg.Info(r.logg.WithFields(ctx, fields), "subscription event published")
		}
		return nil
	})
	return processed, err
}

func (r *Relay) handleTerminal(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, cause error, fields map[string]any) error {
	r.logg.Error(r.logg.WithFields(ctx, fields), "subscription event will not be retried", cause)
	if err := r.repo.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	return nil
}

func (r *Relay) publish(ctx context.Context, event models.OutboxEvent, env outbox.PayloadEnvelope) (string, error) {
	msg := &gcppubsub.Message{
		Data: env.Data,
		Attributes: map[string]string{
			"event_id":       env.EventID,
			"event_type":     event.EventType,
			"aggregate_type": string(event.AggregateType),
			"aggregate_id":   event.AggregateID,
			"source":         eventSource,
			"created_at":     env.OccurredAt.UTC().Format(time.RFC3339Nano),
		},
	}

	publishCtx, cancel := context.WithTimeout(ctx, r.publishTimeout)
	defer cancel()
	result := r.publisher.Publish(publishCtx, msg)
	if result == nil {
		return "", errors.New("publisher returned no result")
	}
	return result.Get(publishCtx)
}

func eventFields(event models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_id":       event.EventID,
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"attempt_count":  event.AttemptCount,
	}
	if event.LastError != nil {
		fields["last_error"] = *event.LastError
	}
	return fields
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, limit time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > limit {
		return limit
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + rand.N(jitterWindow)
}

type gcpPublisher struct {
	*gcppubsub.Publisher
}

func (p *gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) publishResult {
	if p == nil || p.Publisher == nil {
		return nil
	}
	return &gcpPublishResult{PublishResult: p.Publisher.Publish(ctx, msg)}
}

type gcpPublishResult struct {
	*gcppubsub.PublishResult
}

func (r *gcpPublishResult) Get(ctx context.Context) (string, error) {
	if r == nil || r.PublishResult == nil {
		return "", errors.New("publish result is nil")
	}
	return r.PublishResult.Get(ctx)
}
