package storage

import (
	"context"
	"encoding/json"
	"time"
)

// CachedEntity представляет локальную копию сущности.
// Version всегда отражает последнюю подтвержденную серверную версию:
// локальные правки меняют Payload и ставят Dirty, но версию двигает
// только применение серверной дельты.
type CachedEntity struct {
	UpdatedAt  time.Time       `json:"updated_at"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Version    int64           `json:"version"`
	Deleted    bool            `json:"deleted"`
	Dirty      bool            `json:"dirty"` // Dirty есть несинхронизированные локальные правки
}

// EntityCache defines interface for the local entity mirror
type EntityCache interface {
	// SaveEntity stores or replaces a cached entity
	SaveEntity(ctx context.Context, entity *CachedEntity) error

	// GetEntity retrieves a cached entity
	// Returns ErrEntityNotFound if entity doesn't exist
	GetEntity(ctx context.Context, entityType, entityID string) (*CachedEntity, error)

	// ListEntities returns all non-deleted cached entities of a type
	// Empty entityType returns all types
	ListEntities(ctx context.Context, entityType string) ([]*CachedEntity, error)

	// DeleteEntity removes a cached entity outright
	DeleteEntity(ctx context.Context, entityType, entityID string) error

	// Clear removes all cached entities (full re-sync)
	Clear(ctx context.Context) error
}
