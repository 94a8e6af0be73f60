package models

import "time"

// Event types
const (
	EventTypeSyncRequested = "SYNC_REQUESTED"
	EventTypeSyncCompleted = "SYNC_COMPLETED"
	EventTypeSyncFailed    = "SYNC_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncRequestedEvent is published by the external job scheduler (or the
// enqueue endpoint) to request a reconciliation pass. Mode is optional:
// an empty mode means run both modes. Since/Until are calendar dates
// (YYYY-MM-DD) in the tenant's timezone; when empty the driver defaults to
// yesterday through today.
type SyncRequestedEvent struct {
	BaseEvent
	TenantID          string `json:"tenant_id"`
	Mode              string `json:"mode,omitempty"`
	SinceDate         string `json:"since_date,omitempty"`
	UntilDate         string `json:"until_date,omitempty"`
	ExcludeTestOrders bool   `json:"exclude_test_orders"`
}

// SyncCompletedEvent is published when one (tenant, mode, window) pass
// reaches the DONE state.
type SyncCompletedEvent struct {
	BaseEvent
	RunID         string `json:"run_id"`
	TenantID      string `json:"tenant_id"`
	Mode          string `json:"mode"`
	SinceDate     string `json:"since_date"`
	UntilDate     string `json:"until_date"`
	OrdersFetched int    `json:"orders_fetched"`
	OrdersSkipped int    `json:"orders_skipped"`
	RowsWritten   int    `json:"rows_written"`
}

// SyncFailedEvent is published when a pass terminates in FAILED. Reason is a
// structured failure code plus detail; the scheduler decides whether to
// re-invoke the window.
type SyncFailedEvent struct {
	BaseEvent
	RunID     string `json:"run_id,omitempty"`
	TenantID  string `json:"tenant_id"`
	Mode      string `json:"mode"`
	SinceDate string `json:"since_date"`
	UntilDate string `json:"until_date"`
	Reason    string `json:"reason"`
}
