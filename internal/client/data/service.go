package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/zetra-hq/zetra-sync/internal/checksum"
	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс локального сервиса данных.
// Каждая мутация применяется к локальному кешу и ставится в очередь
// отправки; на сервер изменения уходят при следующем sync.
type Service interface {
	// Create создает новую сущность локально и ставит операцию в очередь
	Create(ctx context.Context, entityType string, payload json.RawMessage) (*storage.CachedEntity, error)

	// Update применяет partial-патч к сущности локально и ставит операцию в очередь
	Update(ctx context.Context, entityType, entityID string, patch json.RawMessage) error

	// Delete помечает сущность удаленной локально и ставит операцию в очередь
	Delete(ctx context.Context, entityType, entityID string) error

	// Get возвращает сущность из локального кеша
	Get(ctx context.Context, entityType, entityID string) (*storage.CachedEntity, error)

	// List возвращает неудаленные сущности типа из локального кеша
	List(ctx context.Context, entityType string) ([]*storage.CachedEntity, error)
}

type service struct {
	entities storage.EntityCache
	pending  storage.PendingQueue
	now      func() time.Time
}

// NewService creates a new local data service
func NewService(entities storage.EntityCache, pending storage.PendingQueue) Service {
	return &service{
		entities: entities,
		pending:  pending,
		now:      time.Now,
	}
}

// Create создает новую сущность локально
func (s *service) Create(ctx context.Context, entityType string, payload json.RawMessage) (*storage.CachedEntity, error) {
	if !models.KnownEntityTypes[entityType] {
		return nil, fmt.Errorf("unknown entity type: %q", entityType)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("payload is required")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}

	entity := &storage.CachedEntity{
		EntityType: entityType,
		EntityID:   uuid.New().String(),
		Payload:    payload,
		Version:    0, // версию назначит сервер
		Dirty:      true,
		UpdatedAt:  s.now(),
	}

	if err := s.entities.SaveEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to cache entity: %w", err)
	}

	if err := s.enqueue(ctx, models.OpCreate, entity.EntityType, entity.EntityID, payload, 0); err != nil {
		return nil, err
	}

	return entity, nil
}

// Update применяет partial-патч к сущности.
// declared_version операции — последняя подтвержденная серверная версия:
// по ней сервер обнаруживает конкурентные изменения.
func (s *service) Update(ctx context.Context, entityType, entityID string, patch json.RawMessage) error {
	if len(patch) == 0 {
		return fmt.Errorf("patch is required")
	}

	entity, err := s.entities.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to get entity: %w", err)
	}
	if entity.Deleted {
		return fmt.Errorf("entity is deleted")
	}

	merged, err := mergePayload(entity.Payload, patch)
	if err != nil {
		return fmt.Errorf("failed to apply patch: %w", err)
	}

	entity.Payload = merged
	entity.Dirty = true
	entity.UpdatedAt = s.now()

	if err := s.entities.SaveEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to cache entity: %w", err)
	}

	return s.enqueue(ctx, models.OpUpdate, entityType, entityID, patch, entity.Version)
}

// Delete помечает сущность удаленной
func (s *service) Delete(ctx context.Context, entityType, entityID string) error {
	entity, err := s.entities.GetEntity(ctx, entityType, entityID)
	if err != nil {
		return fmt.Errorf("failed to get entity: %w", err)
	}

	entity.Deleted = true
	entity.Dirty = true
	entity.UpdatedAt = s.now()

	if err := s.entities.SaveEntity(ctx, entity); err != nil {
		return fmt.Errorf("failed to cache entity: %w", err)
	}

	return s.enqueue(ctx, models.OpDelete, entityType, entityID, nil, entity.Version)
}

// Get возвращает сущность из локального кеша
func (s *service) Get(ctx context.Context, entityType, entityID string) (*storage.CachedEntity, error) {
	entity, err := s.entities.GetEntity(ctx, entityType, entityID)
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// List возвращает неудаленные сущности типа
func (s *service) List(ctx context.Context, entityType string) ([]*storage.CachedEntity, error) {
	return s.entities.ListEntities(ctx, entityType)
}

// enqueue строит операцию и добавляет ее в очередь отправки
func (s *service) enqueue(ctx context.Context, kind models.OperationKind, entityType, entityID string, payload json.RawMessage, declaredVersion int64) error {
	sum, err := checksum.Payload(payload)
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}

	op := &api.SyncOperation{
		ID:              uuid.New().String(),
		EntityType:      entityType,
		EntityID:        entityID,
		Kind:            string(kind),
		Payload:         payload,
		ClientTimestamp: s.now(),
		DeclaredVersion: declaredVersion,
		Checksum:        sum,
	}

	if err := s.pending.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("failed to enqueue operation: %w", err)
	}

	return nil
}

// mergePayload накладывает top-level ключи патча на базовый payload
func mergePayload(base, patch json.RawMessage) (json.RawMessage, error) {
	if len(base) == 0 {
		return patch, nil
	}

	baseMap := map[string]json.RawMessage{}
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, fmt.Errorf("failed to decode base payload: %w", err)
	}

	patchMap := map[string]json.RawMessage{}
	if err := json.Unmarshal(patch, &patchMap); err != nil {
		return nil, fmt.Errorf("failed to decode patch: %w", err)
	}

	for key, value := range patchMap {
		baseMap[key] = value
	}

	merged, err := json.Marshal(baseMap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode merged payload: %w", err)
	}

	return merged, nil
}
