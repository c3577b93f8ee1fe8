package handlers

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/syncengine"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

const testDeviceID = "2f9f0847-9b4a-4a2a-8f8b-111111111111"

// fakeProcessor подменяет оркестратор в handler-тестах
type fakeProcessor struct {
	result       *syncengine.BatchResult
	err          error
	gotUserID    string
	gotDeviceID  string
	gotOps       []*models.SyncOperation
	gotWatermark *time.Time
	gotFullSync  bool
}

func (f *fakeProcessor) ProcessBatch(ctx context.Context, userID, deviceID string, ops []*models.SyncOperation, watermark *time.Time, fullSync bool) (*syncengine.BatchResult, error) {
	f.gotUserID = userID
	f.gotDeviceID = deviceID
	f.gotOps = ops
	f.gotWatermark = watermark
	f.gotFullSync = fullSync
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &syncengine.BatchResult{}, nil
}

// fakeHistorian подменяет журнал операций в handler-тестах
type fakeHistorian struct {
	entries     []*models.OperationLogEntry
	err         error
	gotUserID   string
	gotDeviceID string
	gotLimit    int
}

func (f *fakeHistorian) ListDeviceOperations(ctx context.Context, userID, deviceID string, limit int) ([]*models.OperationLogEntry, error) {
	f.gotUserID = userID
	f.gotDeviceID = deviceID
	f.gotLimit = limit
	return f.entries, f.err
}

func syncRequest(t *testing.T, body any) *http.Request {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")

	ctx := context.WithValue(req.Context(), UserIDKey, "user-1")
	return req.WithContext(ctx)
}

func decodeSyncResponse(t *testing.T, rec *httptest.ResponseRecorder) api.SyncResponse {
	t.Helper()

	var resp api.SyncResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSyncHandler_Unauthorized(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, &fakeHistorian{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader([]byte("{}")))
	rec := httptest.NewRecorder()
	h.HandleSync(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSyncHandler_InvalidBody(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, &fakeHistorian{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync", bytes.NewReader([]byte("{not json")))
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec := httptest.NewRecorder()
	h.HandleSync(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_InvalidDeviceID(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: "not-a-uuid",
		SyncMode: "incremental",
	}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_BatchPassedToOrchestrator(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	lastSync := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: testDeviceID,
		SyncMode: "incremental",
		LastSync: &lastSync,
		Operations: []api.SyncOperation{
			{
				ID:         "5c3d2f8e-0000-4000-8000-000000000001",
				EntityType: "task",
				EntityID:   "task-1",
				Kind:       "create",
				Payload:    json.RawMessage(`{"title":"a"}`),
			},
		},
	}))

	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "user-1", processor.gotUserID)
	assert.Equal(t, testDeviceID, processor.gotDeviceID)
	assert.False(t, processor.gotFullSync)
	require.NotNil(t, processor.gotWatermark)
	assert.True(t, lastSync.Equal(*processor.gotWatermark))

	// user_id и device_id операции назначает сервер, не клиент
	require.Len(t, processor.gotOps, 1)
	assert.Equal(t, "user-1", processor.gotOps[0].UserID)
	assert.Equal(t, testDeviceID, processor.gotOps[0].DeviceID)
}

func TestSyncHandler_FullSyncMode(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: testDeviceID,
		SyncMode: "full",
	}))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, processor.gotFullSync)
}

func TestSyncHandler_ConflictsShortenNextSync(t *testing.T) {
	processor := &fakeProcessor{
		result: &syncengine.BatchResult{
			Processed: 1,
			Conflicts: []*models.SyncConflict{
				{
					ID:           "c-1",
					EntityType:   "task",
					EntityID:     "task-1",
					ConflictType: models.ConflictConcurrent,
					LocalOperation: &models.SyncOperation{
						ID:   "op-1",
						Kind: models.OpUpdate,
					},
					RemoteVersion: 3,
					DetectedAt:    time.Now(),
				},
			},
		},
	}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: testDeviceID,
		SyncMode: "incremental",
	}))

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSyncResponse(t, rec)
	require.Len(t, resp.Data.SyncResult.Conflicts, 1)
	assert.Equal(t, "concurrent", resp.Data.SyncResult.Conflicts[0].ConflictType)

	// При конфликтах следующий sync рекомендуется раньше обычного
	gap := resp.Data.NextSyncRecommended.Sub(resp.Data.Timestamp)
	assert.LessOrEqual(t, gap, 2*time.Minute)
}

func TestSyncHandler_ServerChangesCarryChecksum(t *testing.T) {
	processor := &fakeProcessor{
		result: &syncengine.BatchResult{
			ServerChanges: []*models.EntityVersionRecord{
				{
					EntityType:     "note",
					EntityID:       "note-1",
					CurrentVersion: 4,
					Payload:        json.RawMessage(`{"text":"hello"}`),
					LastModifiedAt: time.Now(),
				},
			},
		},
	}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: testDeviceID,
		SyncMode: "incremental",
	}))

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSyncResponse(t, rec)
	require.Len(t, resp.Data.SyncResult.ServerChanges, 1)

	change := resp.Data.SyncResult.ServerChanges[0]
	assert.Equal(t, int64(4), change.Version)
	assert.NotEmpty(t, change.Checksum)
}

func TestSyncHandler_CompactPayloads(t *testing.T) {
	large := bytes.Repeat([]byte("x"), syncengine.DefaultMaxPayloadBytes)
	payload, err := json.Marshal(map[string]string{"blob": string(large)})
	require.NoError(t, err)

	processor := &fakeProcessor{
		result: &syncengine.BatchResult{
			ServerChanges: []*models.EntityVersionRecord{
				{
					EntityType:     "document",
					EntityID:       "doc-1",
					CurrentVersion: 2,
					Payload:        payload,
					LastModifiedAt: time.Now(),
				},
			},
		},
	}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID:        testDeviceID,
		SyncMode:        "incremental",
		CompactPayloads: true,
	}))

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSyncResponse(t, rec)
	require.Len(t, resp.Data.SyncResult.ServerChanges, 1)

	change := resp.Data.SyncResult.ServerChanges[0]
	assert.True(t, change.PayloadElided)
	assert.Empty(t, change.Payload)
	assert.NotEmpty(t, change.Checksum)
}

func TestSyncHandler_GzipResponse(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, &fakeHistorian{})

	req := syncRequest(t, api.SyncRequest{
		DeviceID:           testDeviceID,
		SyncMode:           "incremental",
		CompressionEnabled: true,
	})
	req.Header.Set("Accept-Encoding", "gzip")

	rec := httptest.NewRecorder()
	h.HandleSync(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)

	var resp api.SyncResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.True(t, resp.Success)
}

func TestSyncHandler_GetDelta(t *testing.T) {
	processor := &fakeProcessor{}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync?device_id="+testDeviceID+"&since=2025-06-01T12:00:00Z", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec := httptest.NewRecorder()
	h.HandleSync(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.gotOps)
	require.NotNil(t, processor.gotWatermark)
	assert.Equal(t, 2025, processor.gotWatermark.Year())
}

func TestSyncHandler_WatermarkIsBatchStart(t *testing.T) {
	// Watermark ответа — момент начала обработки батча, а не момент
	// формирования ответа: запись, сделанная параллельно обработке,
	// не должна проваливаться между watermark'ами
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	processor := &fakeProcessor{
		result: &syncengine.BatchResult{Timestamp: start},
	}
	h := NewSyncHandler(testLogger(), processor, &fakeHistorian{})

	rec := httptest.NewRecorder()
	h.HandleSync(rec, syncRequest(t, api.SyncRequest{
		DeviceID: testDeviceID,
		SyncMode: "incremental",
	}))

	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeSyncResponse(t, rec)
	assert.True(t, start.Equal(resp.Data.Timestamp))
	assert.True(t, resp.Data.NextSyncRecommended.After(start))
}

func TestSyncHandler_History(t *testing.T) {
	history := &fakeHistorian{
		entries: []*models.OperationLogEntry{
			{
				ReceivedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
				Operation: models.SyncOperation{
					ID:              "op-1",
					EntityType:      "task",
					EntityID:        "task-1",
					Kind:            models.OpUpdate,
					DeclaredVersion: 2,
				},
				Outcome:        "applied",
				AppliedVersion: 3,
			},
		},
	}
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/operations?device_id="+testDeviceID+"&limit=10", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", history.gotUserID)
	assert.Equal(t, testDeviceID, history.gotDeviceID)
	assert.Equal(t, 10, history.gotLimit)

	var resp api.OperationHistoryResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Operations, 1)
	assert.Equal(t, "op-1", resp.Operations[0].OperationID)
	assert.Equal(t, "applied", resp.Operations[0].Outcome)
	assert.Equal(t, int64(3), resp.Operations[0].AppliedVersion)
}

func TestSyncHandler_History_InvalidParams(t *testing.T) {
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, &fakeHistorian{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/operations?device_id=not-a-uuid", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/sync/operations?device_id="+testDeviceID+"&limit=zero", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec = httptest.NewRecorder()
	h.HandleHistory(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncHandler_History_LimitCapped(t *testing.T) {
	history := &fakeHistorian{}
	h := NewSyncHandler(testLogger(), &fakeProcessor{}, history)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/operations?device_id="+testDeviceID+"&limit=100000", nil)
	req = req.WithContext(context.WithValue(req.Context(), UserIDKey, "user-1"))
	rec := httptest.NewRecorder()
	h.HandleHistory(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, historyMaxLimit, history.gotLimit)
}
