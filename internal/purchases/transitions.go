package purchases

import "github.com/learnloop/coursemarket-backend/pkg/enums"

// allowedSources lists, per target status, the statuses a purchase may move from.
// Anything not listed is a no-op: terminal statuses absorb every later event
// except the completed -> refunded edge.
var allowedSources = map[enums.PurchaseStatus][]enums.PurchaseStatus{
	enums.PurchaseStatusProcessing: {
		enums.PurchaseStatusPending,
	},
	enums.PurchaseStatusCompleted: {
		enums.PurchaseStatusPending,
		enums.PurchaseStatusProcessing,
		enums.PurchaseStatusIncomplete,
	},
	enums.PurchaseStatusFailed: {
		enums.PurchaseStatusPending,
		enums.PurchaseStatusIncomplete,
		enums.PurchaseStatusProcessing,
	},
	enums.PurchaseStatusCancelled: {
		enums.PurchaseStatusPending,
		enums.PurchaseStatusIncomplete,
	},
	enums.PurchaseStatusRefunded: {
		enums.PurchaseStatusCompleted,
	},
	enums.PurchaseStatusExpired: {
		enums.PurchaseStatusPending,
		enums.PurchaseStatusIncomplete,
	},
}

// AllowedSources returns the statuses from which target can be reached.
func AllowedSources(target enums.PurchaseStatus) []enums.PurchaseStatus {
	return allowedSources[target]
}

// CanTransition reports whether from -> to is a legal forward move.
func CanTransition(from, to enums.PurchaseStatus) bool {
	for _, candidate := range allowedSources[to] {
		if candidate == from {
			return true
		}
	}
	return false
}

// Expirable statuses are swept to expired once they age past the window.
var Expirable = AllowedSources(enums.PurchaseStatusExpired)
