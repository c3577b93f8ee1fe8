package storage

import (
	"context"

	"github.com/zetra-hq/zetra-sync/internal/models"
)

// Operation outcomes recorded in the log
const (
	OutcomeReceived = "received" // appended, not yet processed
	OutcomeApplied  = "applied"  // mutated entity state
	OutcomeConflict = "conflict" // rejected into a SyncConflict
	OutcomeError    = "error"    // per-operation validation/checksum failure
	OutcomeNoop     = "noop"     // accepted but state unchanged (e.g. duplicate delete)
)

// OperationLog defines interface for the append-only log of client operations.
// The log is keyed by (deviceID, operationID): a device resubmitting the same
// batch after a network partition must not duplicate applies.
type OperationLog interface {
	// Append records an incoming operation with OutcomeReceived.
	// Idempotent upsert: returns false without touching the stored record
	// when the operation was already appended by an earlier submission.
	Append(ctx context.Context, op *models.SyncOperation) (bool, error)

	// MarkOutcome finalizes the outcome of a logged operation.
	// appliedVersion is the entity version the apply produced (0 when the
	// operation did not change state).
	MarkOutcome(ctx context.Context, deviceID, opID, outcome string, appliedVersion int64) error

	// GetOutcome returns the recorded outcome and applied version.
	// Returns empty outcome (no error) when the operation is unknown.
	GetOutcome(ctx context.Context, deviceID, opID string) (string, int64, error)

	// AppliedFieldsSince returns the union of top-level payload field names
	// of applied operations that produced versions greater than afterVersion
	// for the entity, and the number of distinct versions those operations
	// account for. Drives the disjoint-field-set check of the conflict
	// detector without keeping full version history snapshots. Conflict
	// resolutions advance versions without passing through the log, so the
	// field set is only trustworthy when the version count covers the whole
	// window the caller cares about.
	AppliedFieldsSince(ctx context.Context, userID string, key models.EntityKey, afterVersion int64) (map[string]bool, int64, error)

	// ListDeviceOperations returns logged operations of a user's device,
	// most recent first, up to limit. Used for the operation history
	// endpoint and diagnostics.
	ListDeviceOperations(ctx context.Context, userID, deviceID string, limit int) ([]*models.OperationLogEntry, error)
}
