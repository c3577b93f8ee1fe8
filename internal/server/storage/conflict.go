package storage

import (
	"context"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/models"
)

// ConflictStore defines interface for sync conflict persistence.
// Conflicts are created by the detector and remain queryable until an
// explicit resolution; they are never deleted.
type ConflictStore interface {
	// CreateConflict stores a newly detected conflict
	CreateConflict(ctx context.Context, conflict *models.SyncConflict) error

	// GetConflict retrieves a conflict by ID.
	// Returns ErrConflictNotFound if it doesn't exist.
	GetConflict(ctx context.Context, id string) (*models.SyncConflict, error)

	// PendingConflicts retrieves unresolved conflicts of a user,
	// oldest first. Returns empty slice if none.
	PendingConflicts(ctx context.Context, userID string) ([]*models.SyncConflict, error)

	// MarkResolved transitions a conflict to resolved.
	// Returns ErrConflictNotFound for unknown ids and ErrConflictResolved
	// when the conflict was already resolved.
	MarkResolved(ctx context.Context, id string, resolution models.ResolutionStrategy, resolvedBy string, resolvedAt time.Time) error
}
