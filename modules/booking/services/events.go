package services

import (
	"time"

	"github.com/medtrail/casesync/modules/booking/domain/aggregates/cases"
)

// OfflineFallbackEvent is published when a mutation could not reach the
// backend and was queued for later replay instead.
type OfflineFallbackEvent struct {
	CaseID      string
	OperationID string
	Kind        string
	At          time.Time
}

// SyncCommittedEvent is published when a queued operation was accepted by
// the backend. For creates, Case carries the promoted canonical snapshot.
type SyncCommittedEvent struct {
	CaseID      string
	OperationID string
	Kind        string
	Case        *cases.Case
	At          time.Time
}

// SyncFailedEvent is published on each failed dispatch attempt that will be
// retried.
type SyncFailedEvent struct {
	CaseID      string
	OperationID string
	Kind        string
	Attempts    int
	LastError   string
	At          time.Time
}

// NeedsManualResyncEvent is published when an operation exhausted its retry
// budget and was dead-lettered. The case is flagged until an operator
// requeues or purges the operation.
type NeedsManualResyncEvent struct {
	CaseID      string
	OperationID string
	Kind        string
	LastError   string
	At          time.Time
}

// ConnectivityChangedEvent mirrors the monitor's debounced transitions onto
// the application bus.
type ConnectivityChangedEvent struct {
	Online bool
	At     time.Time
}
