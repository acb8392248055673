package enums

import "fmt"

// SellerNotificationType maps to the seller_notification_type enum in Postgres.
type SellerNotificationType string

const (
	SellerNotificationNewOrder        SellerNotificationType = "new_order"
	SellerNotificationOrderUpdate     SellerNotificationType = "order_update"
	SellerNotificationCustomerMessage SellerNotificationType = "customer_message"
	SellerNotificationSystem          SellerNotificationType = "system"
	SellerNotificationPaymentReceived SellerNotificationType = "payment_received"
	SellerNotificationReviewReceived  SellerNotificationType = "review_received"
)

var validSellerNotificationTypes = []SellerNotificationType{
	SellerNotificationNewOrder,
	SellerNotificationOrderUpdate,
	SellerNotificationCustomerMessage,
	SellerNotificationSystem,
	SellerNotificationPaymentReceived,
	SellerNotificationReviewReceived,
}

// IsValid checks whether the given type matches the canonical enum.
func (n SellerNotificationType) IsValid() bool {
	for _, candidate := range validSellerNotificationTypes {
		if candidate == n {
			return true
		}
	}
	return false
}

// ParseSellerNotificationType converts raw strings into SellerNotificationType.
func ParseSellerNotificationType(value string) (SellerNotificationType, error) {
	for _, candidate := range validSellerNotificationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid notification type %q", value)
}
