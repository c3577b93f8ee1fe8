package storage

import (
	"context"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/models"
)

// EntityStore defines interface for authoritative entity state persistence.
// One EntityVersionRecord per (userID, entityType, entityID); versions only
// ever move forward through the compare-and-swap in UpsertEntity.
type EntityStore interface {
	// GetEntity retrieves the version record for an entity.
	// Soft-deleted records are returned with Deleted=true so that callers
	// can classify delete conflicts. Returns ErrEntityNotFound if the
	// entity was never created.
	GetEntity(ctx context.Context, userID string, key models.EntityKey) (*models.EntityVersionRecord, error)

	// UpsertEntity writes rec using optimistic concurrency.
	// expectedVersion == 0 inserts a fresh record (rec.CurrentVersion must
	// be 1); otherwise the write succeeds only if the stored version still
	// equals expectedVersion and rec.CurrentVersion == expectedVersion+1.
	// Returns ErrVersionMismatch when another writer got there first.
	UpsertEntity(ctx context.Context, rec *models.EntityVersionRecord, expectedVersion int64) error

	// ChangedSince retrieves records of the user modified at or after the
	// watermark, excluding those whose last modifier is excludeDevice
	// (echo suppression). Includes soft-deleted records so devices learn
	// about deletions. Ordered by LastModifiedAt ascending.
	ChangedSince(ctx context.Context, userID string, since time.Time, excludeDevice string) ([]*models.EntityVersionRecord, error)

	// AllEntities retrieves every record of the user (full sync mode),
	// with the same echo suppression as ChangedSince.
	AllEntities(ctx context.Context, userID string, excludeDevice string) ([]*models.EntityVersionRecord, error)
}
