// Package errs defines the error taxonomy the reconciliation pipeline
// propagates to the driver. The driver classifies with errors.As: only
// TransientFetchError is ever retried (inside the fetcher, with bounded
// backoff); everything else terminates the window.
package errs

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a run for the same (tenant, mode) holds
// the run lock. Callers wait or pick another window; the engine never queues.
var ErrSyncInProgress = errors.New("sync already in progress for tenant and mode")

// ErrConnectionNotFound means no credential record exists for the tenant;
// the connection wizard has not run.
var ErrConnectionNotFound = errors.New("shop connection not found")

// TransientFetchError wraps a network or rate-limit failure that survived
// the fetcher's bounded backoff. Re-invoking the same window is the
// sanctioned retry path.
type TransientFetchError struct {
	Attempts int
	Err      error
}

func (e *TransientFetchError) Error() string {
	return fmt.Sprintf("source fetch failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// AuthError means the tenant's credential was rejected by the source
// platform. It is never retried here; the external connection store owns
// re-authentication.
type AuthError struct {
	TenantID   string
	StatusCode int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("source platform rejected credentials for tenant %s (status %d): re-authentication required", e.TenantID, e.StatusCode)
}

// MalformedSourceRecordError marks a raw order missing a required field.
// The normalizer skips and logs the single offending order; one bad record
// must not block a whole day's reconciliation.
type MalformedSourceRecordError struct {
	OrderID int64
	Field   string
}

func (e *MalformedSourceRecordError) Error() string {
	return fmt.Sprintf("raw order %d is missing required field %q", e.OrderID, e.Field)
}

// ReconciliationInvariantViolation reports that a computed row broke one of
// the audit identities (net = gross - discounts - refunds, or the customer
// split not summing to net). It is surfaced loudly rather than clamped:
// silently "fixing" it would hide real discrepancies from the financial
// audit this engine exists to support.
type ReconciliationInvariantViolation struct {
	TenantID string
	Date     string
	Mode     string
	Detail   string
}

func (e *ReconciliationInvariantViolation) Error() string {
	return fmt.Sprintf("reconciliation invariant violated for tenant %s on %s (%s mode): %s", e.TenantID, e.Date, e.Mode, e.Detail)
}

// Reason maps an error to the structured failure code recorded on the sync
// run and relayed to the scheduler.
func Reason(err error) string {
	var (
		transient *TransientFetchError
		auth      *AuthError
		invariant *ReconciliationInvariantViolation
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &auth):
		return "auth_error"
	case errors.As(err, &transient):
		return "transient_fetch_error"
	case errors.As(err, &invariant):
		return "invariant_violation"
	case errors.Is(err, ErrSyncInProgress):
		return "sync_in_progress"
	default:
		return "internal_error"
	}
}
