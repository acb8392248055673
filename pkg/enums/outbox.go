package enums

import "strings"

// OutboxAggregateType names what an outbox event is about.
type OutboxAggregateType string

const (
	AggregateSubscription OutboxAggregateType = "subscription"
	AggregateInvoice      OutboxAggregateType = "invoice"
)

// AggregateForGatewayEvent maps a gateway event name onto its aggregate.
func AggregateForGatewayEvent(t GatewayEventType) (OutboxAggregateType, bool) {
	switch {
	case strings.HasPrefix(string(t), "subscription."):
		return AggregateSubscription, true
	case strings.HasPrefix(string(t), "invoice."):
		return AggregateInvoice, true
	}
	return "", false
}
