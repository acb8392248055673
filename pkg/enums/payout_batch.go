package enums

import "fmt"

// PayoutBatchStatus maps to the payout_batch_status enum in Postgres.
type PayoutBatchStatus string

const (
	PayoutBatchStatusCreated   PayoutBatchStatus = "created"
	PayoutBatchStatusSubmitted PayoutBatchStatus = "submitted"
	PayoutBatchStatusSucceeded PayoutBatchStatus = "succeeded"
	PayoutBatchStatusFailed    PayoutBatchStatus = "failed"
)

var validPayoutBatchStatuses = []PayoutBatchStatus{
	PayoutBatchStatusCreated,
	PayoutBatchStatusSubmitted,
	PayoutBatchStatusSucceeded,
	PayoutBatchStatusFailed,
}

// IsValid reports whether the status is recognized.
func (s PayoutBatchStatus) IsValid() bool {
	for _, candidate := range validPayoutBatchStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsActive reports whether the batch still owns its entries.
func (s PayoutBatchStatus) IsActive() bool {
	return s == PayoutBatchStatusCreated || s == PayoutBatchStatusSubmitted
}

// ParsePayoutBatchStatus converts raw input into PayoutBatchStatus.
func ParsePayoutBatchStatus(value string) (PayoutBatchStatus, error) {
	for _, candidate := range validPayoutBatchStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payout batch status %q", value)
}

// PayoutFailureKind records why a batch ended in the failed status.
type PayoutFailureKind string

const (
	PayoutFailureNone               PayoutFailureKind = ""
	PayoutFailureTransientExhausted PayoutFailureKind = "transient_exhausted"
	PayoutFailureNonRetriable       PayoutFailureKind = "non_retriable"
	PayoutFailureGateway            PayoutFailureKind = "gateway_failed"
	// PayoutFailureReleased is a non-retriable failure whose entries an
	// operator returned to escrow.
	PayoutFailureReleased PayoutFailureKind = "released_to_escrow"
)

// HoldsEntries reports whether entries stay claimed after this failure.
func (k PayoutFailureKind) HoldsEntries() bool {
	return k == PayoutFailureNonRetriable
}
