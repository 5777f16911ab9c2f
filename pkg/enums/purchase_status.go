package enums

import "fmt"

// PurchaseStatus maps to the purchase_status enum in Postgres.
type PurchaseStatus string

const (
	PurchaseStatusPending    PurchaseStatus = "pending"
	PurchaseStatusIncomplete PurchaseStatus = "incomplete"
	PurchaseStatusProcessing PurchaseStatus = "processing"
	PurchaseStatusCompleted  PurchaseStatus = "completed"
	PurchaseStatusFailed     PurchaseStatus = "failed"
	PurchaseStatusCancelled  PurchaseStatus = "cancelled"
	PurchaseStatusRefunded   PurchaseStatus = "refunded"
	PurchaseStatusExpired    PurchaseStatus = "expired"
)

var validPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusIncomplete,
	PurchaseStatusProcessing,
	PurchaseStatusCompleted,
	PurchaseStatusFailed,
	PurchaseStatusCancelled,
	PurchaseStatusRefunded,
	PurchaseStatusExpired,
}

// OpenPurchaseStatuses are the statuses covered by the one-open-purchase-per-course rule.
var OpenPurchaseStatuses = []PurchaseStatus{
	PurchaseStatusPending,
	PurchaseStatusIncomplete,
	PurchaseStatusProcessing,
}

// String implements fmt.Stringer.
func (p PurchaseStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PurchaseStatus.
func (p PurchaseStatus) IsValid() bool {
	for _, candidate := range validPurchaseStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsOpen reports whether the purchase can still move towards an outcome.
func (p PurchaseStatus) IsOpen() bool {
	for _, candidate := range OpenPurchaseStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal is the complement of IsOpen for valid statuses.
func (p PurchaseStatus) IsTerminal() bool {
	return p.IsValid() && !p.IsOpen()
}

// ParsePurchaseStatus converts raw input into a PurchaseStatus.
func ParsePurchaseStatus(value string) (PurchaseStatus, error) {
	for _, candidate := range validPurchaseStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid purchase status %q", value)
}
