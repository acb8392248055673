package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/outbox"
)

// Event is a gateway subscription or invoice event passed through unchanged.
type Event struct {
	ID        string
	Type      string
	CreatedAt time.Time
	Payload   json.RawMessage
}

// Forwarder hands subscription lifecycle events to the billing system that
// owns them. The event is recorded in tx so it is only handed off if the
// webhook that carried it commits.
type Forwarder interface {
	NotifySubscriptionEvent(ctx context.Context, tx *gorm.DB, event Event) error
}

type emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// OutboxForwarder queues events in the outbox; the relay publishes them.
type OutboxForwarder struct {
	outbox emitter
}

func NewOutboxForwarder(o emitter) (*OutboxForwarder, error) {
	if o == nil {
		return nil, errors.New("outbox service required")
	}
	return &OutboxForwarder{outbox: o}, nil
}

func (f *OutboxForwarder) NotifySubscriptionEvent(ctx context.Context, tx *gorm.DB, event Event) error {
	if event.ID == "" || event.Type == "" {
		return errors.New("subscription event id and type are required")
	}
	aggregate, ok := enums.AggregateForGatewayEvent(enums.GatewayEventType(event.Type))
	if !ok {
		return errors.New("not a subscription lifecycle event: " + event.Type)
	}
	return f.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventID:       event.ID,
		EventType:     event.Type,
		AggregateType: aggregate,
		AggregateID:   aggregateID(event.Payload),
		Data:          event.Payload,
		OccurredAt:    event.CreatedAt,
	})
}

// aggregateID pulls the subscription or invoice code out of the gateway
// payload. An empty result falls back to the event id.
func aggregateID(payload json.RawMessage) string {
	var ref struct {
		Data struct {
			SubscriptionCode string `json:"subscription_code"`
			InvoiceCode      string `json:"invoice_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &ref); err != nil {
		return ""
	}
	if ref.Data.SubscriptionCode != "" {
		return ref.Data.SubscriptionCode
	}
	return ref.Data.InvoiceCode
}
