package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
)

func setupStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func taskRecord(version int64, payload string) *models.EntityVersionRecord {
	return &models.EntityVersionRecord{
		UserID:         "user-1",
		EntityType:     models.EntityTask,
		EntityID:       "task-1",
		CurrentVersion: version,
		Payload:        json.RawMessage(payload),
		LastModifiedAt: time.Now(),
		LastModifiedBy: "device-a",
		CreatedAt:      time.Now(),
	}
}

func TestEntityStore_InsertAndGet(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, taskRecord(1, `{"title":"a"}`), 0))

	rec, err := s.GetEntity(ctx, "user-1", models.EntityKey{EntityType: models.EntityTask, EntityID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.CurrentVersion)
	assert.JSONEq(t, `{"title":"a"}`, string(rec.Payload))
}

func TestEntityStore_GetMissing(t *testing.T) {
	s := setupStorage(t)

	_, err := s.GetEntity(context.Background(), "user-1", models.EntityKey{EntityType: models.EntityTask, EntityID: "ghost"})
	assert.ErrorIs(t, err, storage.ErrEntityNotFound)
}

func TestEntityStore_CompareAndSwap(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, taskRecord(1, `{"title":"a"}`), 0))

	// Повторная вставка с expected 0 отклоняется
	err := s.UpsertEntity(ctx, taskRecord(1, `{"title":"b"}`), 0)
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)

	// Обновление с неверной ожидаемой версией отклоняется
	err = s.UpsertEntity(ctx, taskRecord(3, `{"title":"b"}`), 2)
	assert.ErrorIs(t, err, storage.ErrVersionMismatch)

	// Корректный CAS проходит
	require.NoError(t, s.UpsertEntity(ctx, taskRecord(2, `{"title":"b"}`), 1))

	rec, err := s.GetEntity(ctx, "user-1", models.EntityKey{EntityType: models.EntityTask, EntityID: "task-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.CurrentVersion)
}

func TestEntityStore_SoftDeletedStillReadable(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	rec := taskRecord(1, `{"title":"a"}`)
	rec.Deleted = true
	require.NoError(t, s.UpsertEntity(ctx, rec, 0))

	got, err := s.GetEntity(ctx, "user-1", models.EntityKey{EntityType: models.EntityTask, EntityID: "task-1"})
	require.NoError(t, err)
	assert.True(t, got.Deleted)
}

func TestEntityStore_ChangedSinceExcludesDevice(t *testing.T) {
	s := setupStorage(t)
	ctx := context.Background()

	recA := taskRecord(1, `{"title":"a"}`)
	require.NoError(t, s.UpsertEntity(ctx, recA, 0))

	recB := taskRecord(1, `{"title":"b"}`)
	recB.EntityID = "task-2"
	recB.LastModifiedBy = "device-b"
	require.NoError(t, s.UpsertEntity(ctx, recB, 0))

	// Echo suppression: изменения самого устройства не возвращаются
	changes, err := s.ChangedSince(ctx, "user-1", time.Time{}, "device-a")
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "task-2", changes[0].EntityID)

	// Watermark отсекает старые изменения
	changes, err = s.ChangedSince(ctx, "user-1", time.Now().Add(time.Hour), "device-a")
	require.NoError(t, err)
	assert.Empty(t, changes)
}
