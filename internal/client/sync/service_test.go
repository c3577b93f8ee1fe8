package sync

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetra-hq/zetra-sync/internal/client/auth"
	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

const testDeviceID = "2f9f0847-9b4a-4a2a-8f8b-111111111111"

// fakeAPI подменяет HTTP клиент и записывает отправленный запрос
type fakeAPI struct {
	syncReq  *api.SyncRequest
	syncResp *api.SyncResponse
	syncErr  error
}

func (f *fakeAPI) Register(context.Context, api.RegisterRequest) (*api.RegisterResponse, error) {
	panic("not used")
}

func (f *fakeAPI) Login(context.Context, api.LoginRequest) (*api.TokenResponse, error) {
	panic("not used")
}

func (f *fakeAPI) Refresh(context.Context, string) (*api.TokenResponse, error) {
	panic("not used")
}

func (f *fakeAPI) Logout(context.Context, string) error {
	panic("not used")
}

func (f *fakeAPI) Sync(_ context.Context, _ string, req api.SyncRequest) (*api.SyncResponse, error) {
	f.syncReq = &req
	if f.syncErr != nil {
		return nil, f.syncErr
	}
	return f.syncResp, nil
}

func (f *fakeAPI) Conflicts(context.Context, string) (*api.ConflictsResponse, error) {
	return &api.ConflictsResponse{}, nil
}

func (f *fakeAPI) ResolveConflict(_ context.Context, _ string, conflictID string, req api.ResolveConflictRequest) (*api.ResolveConflictResponse, error) {
	return &api.ResolveConflictResponse{ConflictID: conflictID, Resolution: req.Resolution}, nil
}

// fakeAuth отдает фиксированную сессию без обращения к серверу
type fakeAuth struct {
	session *storage.Session
}

func (f *fakeAuth) Register(context.Context, string, string) (*api.RegisterResponse, error) {
	panic("not used")
}

func (f *fakeAuth) Login(context.Context, string, string) (*storage.Session, error) {
	panic("not used")
}

func (f *fakeAuth) Logout(context.Context) error { panic("not used") }

func (f *fakeAuth) Session(context.Context) (*storage.Session, error) {
	return f.session, nil
}

func (f *fakeAuth) AccessToken(context.Context) (string, error) {
	return f.session.AccessToken, nil
}

var _ auth.Service = (*fakeAuth)(nil)

// memCache минимальный кеш сущностей в памяти
type memCache struct {
	entities map[string]*storage.CachedEntity
}

func (m *memCache) key(entityType, entityID string) string { return entityType + "/" + entityID }

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

func (m *memCache) ListEntities(context.Context, string) ([]*storage.CachedEntity, error) {
	return nil, nil
}

func (m *memCache) DeleteEntity(_ context.Context, entityType, entityID string) error {
	delete(m.entities, m.key(entityType, entityID))
	return nil
}

func (m *memCache) Clear(context.Context) error {
	m.entities = map[string]*storage.CachedEntity{}
	return nil
}

// memQueue минимальная очередь в памяти
type memQueue struct {
	ops []*storage.PendingOperation
	seq uint64
}

func (m *memQueue) Enqueue(_ context.Context, op *api.SyncOperation) error {
	m.seq++
	m.ops = append(m.ops, &storage.PendingOperation{Operation: *op, Seq: m.seq})
	return nil
}

func (m *memQueue) List(context.Context) ([]*storage.PendingOperation, error) {
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

func (m *memQueue) Count(context.Context) (int, error) { return len(m.ops), nil }

// memMeta хранит watermark в памяти
type memMeta struct {
	lastSync time.Time
}

func (m *memMeta) SaveLastSync(_ context.Context, t time.Time) error {
	m.lastSync = t
	return nil
}

func (m *memMeta) GetLastSync(context.Context) (time.Time, error) {
	return m.lastSync, nil
}

type fixture struct {
	svc      Service
	apiFake  *fakeAPI
	cache    *memCache
	queue    *memQueue
	metadata *memMeta
}

func setup(t *testing.T) *fixture {
	t.Helper()

	apiFake := &fakeAPI{
		syncResp: &api.SyncResponse{
			Success: true,
			Data: api.SyncResponseData{
				Timestamp:           time.Now(),
				NextSyncRecommended: time.Now().Add(5 * time.Minute),
			},
		},
	}
	authFake := &fakeAuth{session: &storage.Session{
		Username:    "alice",
		DeviceID:    testDeviceID,
		AccessToken: "token",
		ExpiresAt:   time.Now().Add(time.Hour),
	}}
	cache := &memCache{entities: map[string]*storage.CachedEntity{}}
	queue := &memQueue{}
	metadata := &memMeta{}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(apiFake, authFake, cache, queue, metadata, logger)

	return &fixture{svc: svc, apiFake: apiFake, cache: cache, queue: queue, metadata: metadata}
}

func TestSync_FirstSyncIsFull(t *testing.T) {
	f := setup(t)

	result, err := f.svc.Sync(context.Background(), Options{})
	require.NoError(t, err)

	require.NotNil(t, f.apiFake.syncReq)
	assert.Equal(t, "full", f.apiFake.syncReq.SyncMode)
	assert.Equal(t, testDeviceID, f.apiFake.syncReq.DeviceID)
	assert.Nil(t, f.apiFake.syncReq.LastSync)
	assert.Zero(t, result.Pushed)

	// Watermark сохранен из ответа сервера
	saved, err := f.metadata.GetLastSync(context.Background())
	require.NoError(t, err)
	assert.False(t, saved.IsZero())
}

func TestSync_IncrementalCarriesWatermark(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	watermark := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.metadata.SaveLastSync(ctx, watermark))

	_, err := f.svc.Sync(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, "incremental", f.apiFake.syncReq.SyncMode)
	require.NotNil(t, f.apiFake.syncReq.LastSync)
	assert.True(t, watermark.Equal(*f.apiFake.syncReq.LastSync))
}

func TestSync_ForcedFull(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.metadata.SaveLastSync(ctx, time.Now()))

	_, err := f.svc.Sync(ctx, Options{Full: true})
	require.NoError(t, err)
	assert.Equal(t, "full", f.apiFake.syncReq.SyncMode)
}

func TestSync_DrainsQueue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, &api.SyncOperation{ID: "op-1", Kind: "create"}))
	require.NoError(t, f.queue.Enqueue(ctx, &api.SyncOperation{ID: "op-2", Kind: "update"}))

	result, err := f.svc.Sync(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, result.Pushed)
	require.Len(t, f.apiFake.syncReq.Operations, 2)
	assert.Equal(t, "op-1", f.apiFake.syncReq.Operations[0].ID)

	// Подтвержденные операции ушли из очереди
	count, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSync_AppliesOperationResults(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// Локально созданная сущность ждет подтверждения версии
	require.NoError(t, f.cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "task",
		EntityID:   "task-1",
		Payload:    json.RawMessage(`{"title":"a"}`),
		Version:    0,
		Dirty:      true,
	}))

	f.apiFake.syncResp.Data.SyncResult = api.SyncBatchResult{
		Applied: 1,
		Results: []api.OperationResult{
			{OperationID: "op-1", EntityType: "task", EntityID: "task-1", Outcome: "applied", NewVersion: 1},
			{OperationID: "op-2", EntityType: "task", EntityID: "ghost", Outcome: "conflict"},
		},
	}

	result, err := f.svc.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Applied)

	cached, err := f.cache.GetEntity(ctx, "task", "task-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cached.Version)
	assert.False(t, cached.Dirty)
}

func TestSync_AppliesServerChanges(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.apiFake.syncResp.Data.SyncResult = api.SyncBatchResult{
		ServerChanges: []api.ServerChange{
			{
				EntityType:     "task",
				EntityID:       "task-9",
				Version:        4,
				Payload:        json.RawMessage(`{"title":"from server"}`),
				LastModifiedAt: time.Now(),
			},
		},
	}

	result, err := f.svc.Sync(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Pulled)

	cached, err := f.cache.GetEntity(ctx, "task", "task-9")
	require.NoError(t, err)
	assert.Equal(t, int64(4), cached.Version)
	assert.JSONEq(t, `{"title":"from server"}`, string(cached.Payload))
	assert.False(t, cached.Dirty)
}

func TestSync_ElidedPayloadKeepsCachedBody(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.cache.SaveEntity(ctx, &storage.CachedEntity{
		EntityType: "document",
		EntityID:   "doc-1",
		Payload:    json.RawMessage(`{"body":"full text"}`),
		Version:    2,
	}))

	f.apiFake.syncResp.Data.SyncResult = api.SyncBatchResult{
		ServerChanges: []api.ServerChange{
			{
				EntityType:    "document",
				EntityID:      "doc-1",
				Version:       3,
				PayloadElided: true,
			},
		},
	}

	_, err := f.svc.Sync(ctx, Options{Compact: true})
	require.NoError(t, err)
	assert.True(t, f.apiFake.syncReq.CompactPayloads)

	cached, err := f.cache.GetEntity(ctx, "document", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), cached.Version)
	// Тело осталось от прежней версии до следующего full sync
	assert.JSONEq(t, `{"body":"full text"}`, string(cached.Payload))
}

func TestSync_SurfacesConflictsAndErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	require.NoError(t, f.queue.Enqueue(ctx, &api.SyncOperation{ID: "op-1", Kind: "update"}))

	f.apiFake.syncResp.Data.SyncResult = api.SyncBatchResult{
		Conflicts: []api.SyncConflict{{ID: "c-1", EntityType: "task", EntityID: "task-1"}},
		Errors:    []api.OperationError{{OperationID: "op-9", Reason: "bad checksum"}},
	}

	result, err := f.svc.Sync(ctx, Options{})
	require.NoError(t, err)

	require.Len(t, result.Conflicts, 1)
	assert.Equal(t, "c-1", result.Conflicts[0].ID)
	require.Len(t, result.Errors, 1)

	// Конфликтная операция тоже покидает очередь: она запаркована на сервере
	count, err := f.queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}
