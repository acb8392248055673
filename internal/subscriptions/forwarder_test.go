package subscriptions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/commission-escrow/pkg/db"
	"github.com/angelmondragon/commission-escrow/pkg/db/dbtest"
	"github.com/angelmondragon/commission-escrow/pkg/db/models"
	"github.com/angelmondragon/commission-escrow/pkg/enums"
	"github.com/angelmondragon/commission-escrow/pkg/logger"
	"github.com/angelmondragon/commission-escrow/pkg/outbox"
)

func newOutboxForwarder(t *testing.T) (*gorm.DB, *OutboxForwarder, *bytes.Buffer) {
	t.Helper()
	conn := dbtest.Open(t, &models.OutboxEvent{})
	var logs bytes.Buffer
	svc, err := outbox.NewService(outbox.NewRepository(conn), logger.New(logger.Options{ServiceName: "test", Output: &logs}))
	if err != nil {
		t.Fatalf("outbox service: %v", err)
	}
	forwarder, err := NewOutboxForwarder(svc)
	if err != nil {
		t.Fatalf("new forwarder: %v", err)
	}
	return conn, forwarder, &logs
}

func outboxRows(t *testing.T, conn *gorm.DB) []models.OutboxEvent {
	t.Helper()
	var rows []models.OutboxEvent
	if err := conn.Order("created_at ASC").Find(&rows).Error; err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	return rows
}

func TestOutboxForwarderQueuesRawPayload(t *testing.T) {
	conn, forwarder, logs := newOutboxForwarder(t)
	payload := json.RawMessage(`{"event":"subscription.create","data":{"subscription_code":"SUB_1"}}`)
	createdAt := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	err := db.FromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		return forwarder.NotifySubscriptionEvent(context.Background(), tx, Event{
			ID:        "evt_sub_1",
			Type:      "subscription.create",
			CreatedAt: createdAt,
			Payload:   payload,
		})
	})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}

	rows := outboxRows(t, conn)
	if len(rows) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(rows))
	}
	row := rows[0]
	if row.EventID != "evt_sub_1" || row.EventType != "subscription.create" {
		t.Fatalf("unexpected row identity %+v", row)
	}
	if row.AggregateType != enums.AggregateSubscription || row.AggregateID != "SUB_1" {
		t.Fatalf("unexpected aggregate %s/%s", row.AggregateType, row.AggregateID)
	}
	if row.PublishedAt != nil {
		t.Fatal("row must wait for the relay")
	}
	env, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	var got, want any
	_ = json.Unmarshal(env.Data, &got)
	_ = json.Unmarshal(payload, &want)
	if !jsonEqual(got, want) {
		t.Fatalf("payload changed: %s", env.Data)
	}
	if !env.OccurredAt.Equal(createdAt) {
		t.Fatalf("unexpected occurred_at %s", env.OccurredAt)
	}
	if !bytes.Contains(logs.Bytes(), []byte("outbox event queued")) {
		t.Fatalf("expected queue log, got %s", logs.String())
	}
}

func TestOutboxForwarderRollsBackWithTransaction(t *testing.T) {
	conn, forwarder, _ := newOutboxForwarder(t)
	boom := errors.New("webhook processing failed")

	err := db.FromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
		if err := forwarder.NotifySubscriptionEvent(context.Background(), tx, Event{
			ID:      "evt_inv_1",
			Type:    "invoice.payment_failed",
			Payload: json.RawMessage(`{"data":{"invoice_code":"INV_1"}}`),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected rollback cause, got %v", err)
	}
	if rows := outboxRows(t, conn); len(rows) != 0 {
		t.Fatalf("rolled back transaction left %d outbox rows", len(rows))
	}
}

func TestOutboxForwarderIgnoresRepeatedEvent(t *testing.T) {
	conn, forwarder, _ := newOutboxForwarder(t)
	event := Event{ID: "evt_inv_2", Type: "invoice.update", Payload: json.RawMessage(`{"data":{"invoice_code":"INV_2"}}`)}
	for i := 0; i < 2; i++ {
		err := db.FromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
			return forwarder.NotifySubscriptionEvent(context.Background(), tx, event)
		})
		if err != nil {
			t.Fatalf("forward %d: %v", i, err)
		}
	}
	rows := outboxRows(t, conn)
	if len(rows) != 1 {
		t.Fatalf("expected one outbox row, got %d", len(rows))
	}
	if rows[0].AggregateType != enums.AggregateInvoice || rows[0].AggregateID != "INV_2" {
		t.Fatalf("unexpected aggregate %s/%s", rows[0].AggregateType, rows[0].AggregateID)
	}
}

func TestOutboxForwarderRejectsInvalidEvents(t *testing.T) {
	conn, forwarder, _ := newOutboxForwarder(t)
	cases := []Event{
		{Type: "invoice.update"},
		{ID: "evt_3"},
		{ID: "evt_4", Type: "charge.success"},
	}
	for _, event := range cases {
		err := db.FromConn(conn).WithTx(context.Background(), func(tx *gorm.DB) error {
			return forwarder.NotifySubscriptionEvent(context.Background(), tx, event)
		})
		if err == nil {
			t.Fatalf("expected error for %+v", event)
		}
	}
	if err := forwarder.NotifySubscriptionEvent(context.Background(), nil, Event{ID: "evt_5", Type: "invoice.update"}); err == nil {
		t.Fatal("expected error without a transaction")
	}
	if rows := outboxRows(t, conn); len(rows) != 0 {
		t.Fatalf("expected no rows, got %d", len(rows))
	}
}

func jsonEqual(a, b any) bool {
	left, _ := json.Marshal(a)
	right, _ := json.Marshal(b)
	return bytes.Equal(left, right)
}
