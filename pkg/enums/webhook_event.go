package enums

import (
	"fmt"
	"strings"
)

// WebhookEventStatus maps to the webhook_event_status enum in Postgres.
type WebhookEventStatus string

const (
	WebhookEventStatusAccepted  WebhookEventStatus = "accepted"
	WebhookEventStatusDuplicate WebhookEventStatus = "duplicate"
	WebhookEventStatusRejected  WebhookEventStatus = "rejected"
)

var validWebhookEventStatuses = []WebhookEventStatus{
	WebhookEventStatusAccepted,
	WebhookEventStatusDuplicate,
	WebhookEventStatusRejected,
}

// IsValid reports whether the status is recognized.
func (s WebhookEventStatus) IsValid() bool {
	for _, candidate := range validWebhookEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseWebhookEventStatus converts raw input into WebhookEventStatus.
func ParseWebhookEventStatus(value string) (WebhookEventStatus, error) {
	for _, candidate := range validWebhookEventStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid webhook event status %q", value)
}

// GatewayEventType is the event name carried by gateway webhooks.
type GatewayEventType string

const (
	GatewayEventChargeSuccess    GatewayEventType = "charge.success"
	GatewayEventTransferSuccess  GatewayEventType = "transfer.success"
	GatewayEventTransferFailed   GatewayEventType = "transfer.failed"
	GatewayEventTransferReversed GatewayEventType = "transfer.reversed"
)

// IsSubscriptionLifecycle reports whether the event belongs to the
// subscription collaborator rather than the ledger.
func (t GatewayEventType) IsSubscriptionLifecycle() bool {
	value := string(t)
	return strings.HasPrefix(value, "subscription.") || strings.HasPrefix(value, "invoice.")
}
