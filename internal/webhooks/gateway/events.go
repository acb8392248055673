package gatewaywebhook

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the outer shape of every gateway webhook.
type Envelope struct {
	ID        string          `json:"id" validate:"required,max=255"`
	Event     string          `json:"event" validate:"required,max=128"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data" validate:"required"`
}

// ChargeData is the data of a charge.success event. Amounts are in minor
// units.
type ChargeData struct {
	Reference string         `json:"reference" validate:"required,max=255"`
	Amount    int64          `json:"amount" validate:"gt=0"`
	Currency  string         `json:"currency" validate:"len=3"`
	PaidAt    *time.Time     `json:"paid_at"`
	Metadata  ChargeMetadata `json:"metadata"`
}

// ChargeMetadata links a charge to the marketplace order it paid for.
type ChargeMetadata struct {
	OrderID  uuid.UUID `json:"order_id" validate:"required"`
	SellerID uuid.UUID `json:"seller_id" validate:"required"`
}

// TransferData is the data of transfer.* events. Reference is the payout
// batch reference sent with the transfer.
type TransferData struct {
	Reference    string `json:"reference" validate:"required,max=255"`
	TransferCode string `json:"transfer_code" validate:"max=255"`
	Reason       string `json:"reason" validate:"max=255"`
}
