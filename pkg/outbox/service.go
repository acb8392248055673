package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
)

const envelopeVersion = 1

// DomainEvent is an event to queue. EventID is the producer's identifier and
// doubles as the downstream dedupe key.
type DomainEvent struct {
	EventID       string
	EventType     string
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Data          json.RawMessage
	OccurredAt    time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("outbox repository required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	return &Service{repo: repo, logg: logg}, nil
}

// Emit records event inside tx. The row commits or rolls back with the
// caller's transaction.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	if tx == nil {
		return errTxRequired
	}
	if event.EventID == "" || event.EventType == "" {
		return errors.New("outbox event id and type are required")
	}
	data := event.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	aggregateID := event.AggregateID
	if aggregateID == "" {
		aggregateID = event.EventID
	}
	payload, err := json.Marshal(PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    event.EventID,
		OccurredAt: event.OccurredAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return err
	}

	row := &models.OutboxEvent{
		EventID:       event.EventID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   aggregateID,
		Payload:       string(payload),
		CreatedAt:     time.Now().UTC(),
	}
	created, err := s.repo.Insert(tx.WithContext(ctx), row)
	if err != nil {
		return err
	}

	logCtx := s.logg.WithFields(s.logg.WithEventID(ctx, event.EventID), map[string]any{
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   aggregateID,
	})
	if !created {
		s.logg.Debug(logCtx, "outbox event already queued")
		return nil
	}
	s.logg.Info(logCtx, "outbox event queued")
	return nil
}
