package data

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetra-hq/zetra-sync/internal/checksum"
	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// memCache хранит сущности в памяти для тестов
type memCache struct {
	entities map[string]*storage.CachedEntity
}

func newMemCache() *memCache {
	return &memCache{entities: map[string]*storage.CachedEntity{}}
}

func (m *memCache) key(entityType, entityID string) string {
	return entityType + "/" + entityID
}

func (m *memCache) SaveEntity(_ context.Context, entity *storage.CachedEntity) error {
	clone := *entity
	m.entities[m.key(entity.EntityType, entity.EntityID)] = &clone
	return nil
}

func (m *memCache) GetEntity(_ context.Context, entityType, entityID string) (*storage.CachedEntity, error) {
	entity, ok := m.entities[m.key(entityType, entityID)]
	if !ok {
		return nil, storage.ErrEntityNotFound
	}
	clone := *entity
	return &clone, nil
}

func (m *memCache) ListEntities(_ context.Context, entityType string) ([]*storage.CachedEntity, error) {
	var result []*storage.CachedEntity
	for _, entity := range m.entities {
		if entity.Deleted {
			continue
		}
		if entityType != "" && entity.EntityType != entityType {
			continue
		}
		clone := *entity
		result = append(result, &clone)
	}
	return result, nil
}

func (m *memCache) DeleteEntity(_ context.Context, entityType, entityID string) error {
	delete(m.entities, m.key(entityType, entityID))
	return nil
}

func (m *memCache) Clear(_ context.Context) error {
	m.entities = map[string]*storage.CachedEntity{}
	return nil
}

// memQueue копит операции в памяти для тестов
type memQueue struct {
	ops []*storage.PendingOperation
	seq uint64
}

func (m *memQueue) Enqueue(_ context.Context, op *api.SyncOperation) error {
	m.seq++
	m.ops = append(m.ops, &storage.PendingOperation{Operation: *op, Seq: m.seq})
	return nil
}

func (m *memQueue) List(_ context.Context) ([]*storage.PendingOperation, error) {
	return m.ops, nil
}

func (m *memQueue) Remove(_ context.Context, seqs []uint64) error {
	drop := map[uint64]bool{}
	for _, seq := range seqs {
		drop[seq] = true
	}
	kept := m.ops[:0]
	for _, op := range m.ops {
		if !drop[op.Seq] {
			kept = append(kept, op)
		}
	}
	m.ops = kept
	return nil
}

func (m *memQueue) Count(_ context.Context) (int, error) {
	return len(m.ops), nil
}

func setupService(t *testing.T) (Service, *memCache, *memQueue) {
	t.Helper()

	cache := newMemCache()
	queue := &memQueue{}
	return NewService(cache, queue), cache, queue
}

func TestCreate(t *testing.T) {
	svc, cache, queue := setupService(t)
	ctx := context.Background()

	payload := json.RawMessage(`{"title":"report"}`)

	entity, err := svc.Create(ctx, "task", payload)
	require.NoError(t, err)
	assert.NotEmpty(t, entity.EntityID)
	assert.True(t, entity.Dirty)
	assert.Zero(t, entity.Version)

	cached, err := cache.GetEntity(ctx, "task", entity.EntityID)
	require.NoError(t, err)
	assert.JSONEq(t, string(payload), string(cached.Payload))

	require.Len(t, queue.ops, 1)
	op := queue.ops[0].Operation
	assert.Equal(t, "create", op.Kind)
	assert.Equal(t, entity.EntityID, op.EntityID)
	assert.Zero(t, op.DeclaredVersion)

	wantSum, err := checksum.Payload(payload)
	require.NoError(t, err)
	assert.Equal(t, wantSum, op.Checksum)
}

func TestCreate_Validation(t *testing.T) {
	svc, _, queue := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, "widget", json.RawMessage(`{}`))
	assert.Error(t, err)

	_, err = svc.Create(ctx, "task", nil)
	assert.Error(t, err)

	_, err = svc.Create(ctx, "task", json.RawMessage(`{broken`))
	assert.Error(t, err)

	assert.Empty(t, queue.ops)
}

func TestUpdate_MergesAndDeclaresConfirmedVersion(t *testing.T) {
	svc, cache, queue := setupService(t)
	ctx := context.Background()

	// Сущность с подтвержденной серверной версией 3
	require.NoError(t, cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task",
		EntityID:   "task-1",
		Payload:    json.RawMessage(`{"title":"report","status":"open"}`),
		Version:    3,
	}))

	require.NoError(t, svc.Update(ctx, "task", "task-1", json.RawMessage(`{"status":"done"}`)))

	cached, err := cache.GetEntity(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"report","status":"done"}`, string(cached.Payload))
	assert.True(t, cached.Dirty)
	// Локальная правка не двигает версию
	assert.Equal(t, int64(3), cached.Version)

	require.Len(t, queue.ops, 1)
	op := queue.ops[0].Operation
	assert.Equal(t, "update", op.Kind)
	assert.Equal(t, int64(3), op.DeclaredVersion)
	// В операцию уходит патч, а не слитый payload
	assert.JSONEq(t, `{"status":"done"}`, string(op.Payload))
}

func TestUpdate_MissingOrDeleted(t *testing.T) {
	svc, cache, _ := setupService(t)
	ctx := context.Background()

	err := svc.Update(ctx, "task", "ghost", json.RawMessage(`{"status":"done"}`))
	assert.Error(t, err)

	require.NoError(t, cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task",
		EntityID:   "task-1",
		Payload:    json.RawMessage(`{}`),
		Deleted:    true,
	}))
	err = svc.Update(ctx, "task", "task-1", json.RawMessage(`{"status":"done"}`))
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	svc, cache, queue := setupService(t)
	ctx := context.Background()

	require.NoError(t, cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task",
		EntityID:   "task-1",
		Payload:    json.RawMessage(`{"title":"a"}`),
		Version:    2,
	}))

	require.NoError(t, svc.Delete(ctx, "task", "task-1"))

	cached, err := cache.GetEntity(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.True(t, cached.Deleted)

	require.Len(t, queue.ops, 1)
	op := queue.ops[0].Operation
	assert.Equal(t, "delete", op.Kind)
	assert.Equal(t, int64(2), op.DeclaredVersion)
	assert.Empty(t, op.Payload)
}

func TestList_SkipsDeleted(t *testing.T) {
	svc, cache, _ := setupService(t)
	ctx := context.Background()

	require.NoError(t, cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task", EntityID: "task-1", Payload: json.RawMessage(`{}`),
	}))
	require.NoError(t, cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task", EntityID: "task-2", Payload: json.RawMessage(`{}`), Deleted: true,
	}))

	entities, err := svc.List(ctx, "task")
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "task-1", entities[0].EntityID)
}
