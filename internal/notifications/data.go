package notifications

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/commission-escrow/pkg/enums"
)

// Data is the typed payload attached to a notification. Each notification type
// accepts exactly one variant.
type Data interface {
	NotificationType() enums.SellerNotificationType
}

type NewOrderData struct {
	OrderID  uuid.UUID `json:"order_id" validate:"required"`
	Amount   int64     `json:"amount" validate:"gt=0"`
	Currency string    `json:"currency" validate:"len=3"`
}

func (NewOrderData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationNewOrder
}

// OrderUpdateData reports progress on the funds of one or more orders, for
// example a payout that failed and went back to escrow.
type OrderUpdateData struct {
	BatchID *uuid.UUID `json:"batch_id,omitempty"`
	OrderID *uuid.UUID `json:"order_id,omitempty"`
	Status  string     `json:"status" validate:"required,max=64"`
	Reason  string     `json:"reason,omitempty" validate:"max=255"`
}

func (OrderUpdateData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationOrderUpdate
}

type CustomerMessageData struct {
	CustomerID     uuid.UUID `json:"customer_id" validate:"required"`
	ConversationID string    `json:"conversation_id" validate:"required,max=128"`
}

func (CustomerMessageData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationCustomerMessage
}

type SystemData struct {
	Severity  string `json:"severity" validate:"oneof=info warning critical"`
	Reference string `json:"reference,omitempty" validate:"max=255"`
}

func (SystemData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationSystem
}

type PaymentReceivedData struct {
	BatchID           uuid.UUID `json:"batch_id" validate:"required"`
	Amount            int64     `json:"amount" validate:"gt=0"`
	Currency          string    `json:"currency" validate:"len=3"`
	TransferReference string    `json:"transfer_reference,omitempty"`
}

func (PaymentReceivedData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationPaymentReceived
}

type ReviewReceivedData struct {
	ReviewID uuid.UUID `json:"review_id" validate:"required"`
	Rating   int       `json:"rating" validate:"min=1,max=5"`
}

func (ReviewReceivedData) NotificationType() enums.SellerNotificationType {
	return enums.SellerNotificationReviewReceived
}
