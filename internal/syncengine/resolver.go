package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
)

// ErrInvalidStrategy стратегия разрешения не входит в local/remote/custom
var ErrInvalidStrategy = errors.New("invalid resolution strategy")

// ErrCustomDataRequired стратегия custom требует payload
var ErrCustomDataRequired = errors.New("custom resolution requires custom data")

// Resolution результат разрешения конфликта
type Resolution struct {
	ResolvedAt time.Time
	NewState   json.RawMessage
	NewVersion int64
}

// Resolver применяет стратегии разрешения конфликтов.
// Стратегия — tagged variant (local | remote | custom), обрабатываемый
// одной функцией: решение задано данными, без иерархии resolver-типов.
type Resolver struct {
	logger    *slog.Logger
	entities  storage.EntityStore
	conflicts storage.ConflictStore
	now       func() time.Time
}

// NewResolver создает resolution engine
func NewResolver(logger *slog.Logger, entities storage.EntityStore, conflicts storage.ConflictStore) *Resolver {
	return &Resolver{
		logger:    logger,
		entities:  entities,
		conflicts: conflicts,
		now:       time.Now,
	}
}

// Resolve разрешает конфликт пользователя userID по выбранной стратегии:
//   - local: применить клиентскую операцию поверх серверного состояния
//     (версия растет на 1)
//   - remote: оставить серверное состояние нетронутым, клиент подтянет
//     текущее значение
//   - custom: применить customData как новый снимок (версия растет на 1)
//
// Возвращает ErrConflictNotFound для неизвестного либо чужого id и
// ErrConflictResolved для уже разрешенного конфликта.
func (r *Resolver) Resolve(ctx context.Context, userID, conflictID string, strategy models.ResolutionStrategy, customData json.RawMessage) (*Resolution, error) {
	if !models.ValidStrategy(strategy) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	if strategy == models.ResolveCustom && len(customData) == 0 {
		return nil, ErrCustomDataRequired
	}

	conflict, err := r.conflicts.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	// Конфликт чужого пользователя неотличим от несуществующего:
	// id не должен раскрывать чужие данные
	if conflict.UserID != userID {
		return nil, storage.ErrConflictNotFound
	}
	if conflict.Resolved() {
		return nil, storage.ErrConflictResolved
	}

	resolution := &Resolution{ResolvedAt: r.now()}

	if strategy == models.ResolveRemote {
		// Серверное состояние остается как есть, операция отбрасывается
		current, err := r.currentState(ctx, conflict)
		if err != nil {
			return nil, err
		}
		if current != nil {
			resolution.NewState = current.Payload
			resolution.NewVersion = current.CurrentVersion
		}
	} else {
		newVersion, newState, err := r.applyResolution(ctx, conflict, strategy, customData)
		if err != nil {
			return nil, err
		}
		resolution.NewState = newState
		resolution.NewVersion = newVersion
	}

	if err := r.conflicts.MarkResolved(ctx, conflictID, strategy, userID, resolution.ResolvedAt); err != nil {
		return nil, err
	}

	r.logger.InfoContext(ctx, "conflict resolved",
		"conflict_id", conflictID,
		"strategy", strategy,
		"resolved_by", userID,
		"new_version", resolution.NewVersion)

	return resolution, nil
}

// currentState возвращает текущую запись сущности конфликта (nil если нет)
func (r *Resolver) currentState(ctx context.Context, conflict *models.SyncConflict) (*models.EntityVersionRecord, error) {
	current, err := r.entities.GetEntity(ctx, conflict.UserID, models.EntityKey{
		EntityType: conflict.EntityType,
		EntityID:   conflict.EntityID,
	})
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return current, nil
}

// applyResolution применяет local/custom стратегию через CAS.
// Каждое разрешение двигает версию ровно на 1; проигрыш CAS конкурентному
// писателю повторяется со свежей версией.
func (r *Resolver) applyResolution(ctx context.Context, conflict *models.SyncConflict, strategy models.ResolutionStrategy, customData json.RawMessage) (int64, json.RawMessage, error) {
	for attempt := 0; attempt < 3; attempt++ {
		current, err := r.currentState(ctx, conflict)
		if err != nil {
			return 0, nil, err
		}

		rec, err := r.buildResolvedRecord(conflict, current, strategy, customData)
		if err != nil {
			return 0, nil, err
		}

		expected := int64(0)
		if current != nil {
			expected = current.CurrentVersion
		}

		err = r.entities.UpsertEntity(ctx, rec, expected)
		if errors.Is(err, storage.ErrVersionMismatch) {
			continue
		}
		if err != nil {
			return 0, nil, fmt.Errorf("failed to apply resolution: %w", err)
		}

		return rec.CurrentVersion, rec.Payload, nil
	}

	return 0, nil, fmt.Errorf("failed to apply resolution: %w", storage.ErrVersionMismatch)
}

// buildResolvedRecord строит новое состояние сущности по стратегии
func (r *Resolver) buildResolvedRecord(conflict *models.SyncConflict, current *models.EntityVersionRecord, strategy models.ResolutionStrategy, customData json.RawMessage) (*models.EntityVersionRecord, error) {
	now := r.now()

	rec := &models.EntityVersionRecord{
		UserID:         conflict.UserID,
		EntityType:     conflict.EntityType,
		EntityID:       conflict.EntityID,
		LastModifiedAt: now,
		CreatedAt:      now,
	}

	if current != nil {
		rec = current.Clone()
		rec.LastModifiedAt = now
	}
	rec.CurrentVersion++

	op := conflict.LocalOperation

	switch strategy {
	case models.ResolveLocal:
		if op == nil {
			return nil, fmt.Errorf("conflict has no local operation")
		}
		rec.LastModifiedBy = op.DeviceID

		if op.Kind == models.OpDelete {
			rec.Deleted = true
			return rec, nil
		}

		// Клиентская операция применяется поверх серверного состояния,
		// включая воскрешение soft-deleted записи
		rec.Deleted = false
		if current != nil {
			merged, err := current.MergePayload(op.Payload)
			if err != nil {
				return nil, fmt.Errorf("failed to merge local payload: %w", err)
			}
			rec.Payload = merged
		} else {
			rec.Payload = op.Payload
		}
		return rec, nil

	case models.ResolveCustom:
		rec.Deleted = false
		rec.Payload = customData
		if op != nil {
			rec.LastModifiedBy = op.DeviceID
		}
		return rec, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
}
