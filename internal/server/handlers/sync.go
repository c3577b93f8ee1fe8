package handlers

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/checksum"
	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/syncengine"
	"github.com/zetra-hq/zetra-sync/internal/validation"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// UserIDKey ключ для хранения user_id в контексте
	UserIDKey contextKey = "user_id"
	// UsernameKey ключ для хранения username в контексте
	UsernameKey contextKey = "username"
)

// GetUserID извлекает user_id из контекста запроса
func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok
}

// GetUsername извлекает username из контекста запроса
func GetUsername(ctx context.Context) (string, bool) {
	username, ok := ctx.Value(UsernameKey).(string)
	return username, ok
}

// Рекомендуемые интервалы до следующей синхронизации
const (
	nextSyncDefault       = 5 * time.Minute
	nextSyncWithConflicts = time.Minute
)

// BatchProcessor определяет интерфейс оркестратора для обработки sync-батчей
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, userID, deviceID string, ops []*models.SyncOperation, watermark *time.Time, fullSync bool) (*syncengine.BatchResult, error)
}

// OperationHistorian отдает журнал операций устройства пользователя
type OperationHistorian interface {
	ListDeviceOperations(ctx context.Context, userID, deviceID string, limit int) ([]*models.OperationLogEntry, error)
}

// SyncHandler handles synchronization requests
type SyncHandler struct {
	logger       *slog.Logger
	orchestrator BatchProcessor
	history      OperationHistorian
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(logger *slog.Logger, orchestrator BatchProcessor, history OperationHistorian) *SyncHandler {
	return &SyncHandler{
		logger:       logger,
		orchestrator: orchestrator,
		history:      history,
	}
}

// HandleSync обрабатывает POST и GET запросы для синхронизации
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Получаем user_id из контекста (установлен AuthMiddleware)
	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.handlePostSync(w, r, ctx, userID)
	case http.MethodGet:
		h.handleGetSync(w, r, ctx, userID)
	default:
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handlePostSync обрабатывает POST /api/v1/sync
// Принимает батч операций устройства и возвращает исход каждой операции
// плюс серверную дельту с echo suppression
func (h *SyncHandler) handlePostSync(w http.ResponseWriter, r *http.Request, ctx context.Context, userID string) {
	var req api.SyncRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode sync request", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Батч-уровневая валидация: ее провал отклоняет весь запрос,
	// в отличие от ошибок отдельных операций
	if err := validation.ValidateSyncRequest(&req); err != nil {
		h.logger.Warn("Invalid sync request", "error", err, "device_id", req.DeviceID)
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("POST sync request",
		"user_id", userID,
		"device_id", req.DeviceID,
		"sync_mode", req.SyncMode,
		"operations_count", len(req.Operations))

	ops := make([]*models.SyncOperation, 0, len(req.Operations))
	for i := range req.Operations {
		ops = append(ops, operationFromAPI(&req.Operations[i], userID, req.DeviceID))
	}

	result, err := h.orchestrator.ProcessBatch(ctx, userID, req.DeviceID, ops, req.LastSync, req.SyncMode == "full")
	if err != nil {
		h.logger.Error("Failed to process sync batch", "error", err, "user_id", userID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.respond(w, r, &req, result)
}

// handleGetSync обрабатывает GET /api/v1/sync?device_id=...&since=RFC3339
// Pull-only синхронизация: возвращает серверную дельту без операций
func (h *SyncHandler) handleGetSync(w http.ResponseWriter, r *http.Request, ctx context.Context, userID string) {
	req := api.SyncRequest{
		DeviceID: r.URL.Query().Get("device_id"),
		SyncMode: "incremental",
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339Nano, sinceStr)
		if err != nil {
			h.logger.Warn("Invalid since parameter", "since", sinceStr, "error", err)
			h.sendError(w, "invalid since parameter", http.StatusBadRequest)
			return
		}
		req.LastSync = &since
	}

	if err := validation.ValidateDeviceID(req.DeviceID); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.logger.Info("GET sync request", "user_id", userID, "device_id", req.DeviceID)

	result, err := h.orchestrator.ProcessBatch(ctx, userID, req.DeviceID, nil, req.LastSync, false)
	if err != nil {
		h.logger.Error("Failed to compute sync delta", "error", err, "user_id", userID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.respond(w, r, &req, result)
}

// Границы истории операций устройства
const (
	historyDefaultLimit = 50
	historyMaxLimit     = 200
)

// HandleHistory обрабатывает GET /api/v1/sync/operations?device_id=...&limit=N
// Возвращает журнал операций устройства с исходом обработки каждой:
// диагностика для поддержки и для клиента, потерявшего ответ на батч
func (h *SyncHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	deviceID := r.URL.Query().Get("device_id")
	if err := validation.ValidateDeviceID(deviceID); err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	limit := historyDefaultLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			h.sendError(w, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = min(n, historyMaxLimit)
	}

	entries, err := h.history.ListDeviceOperations(ctx, userID, deviceID, limit)
	if err != nil {
		h.logger.Error("Failed to list device operations", "error", err,
			"user_id", userID, "device_id", deviceID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.OperationHistoryResponse{
		Operations: make([]api.OperationHistoryEntry, 0, len(entries)),
	}
	for _, entry := range entries {
		resp.Operations = append(resp.Operations, api.OperationHistoryEntry{
			OperationID:     entry.Operation.ID,
			EntityType:      entry.Operation.EntityType,
			EntityID:        entry.Operation.EntityID,
			Kind:            string(entry.Operation.Kind),
			DeclaredVersion: entry.Operation.DeclaredVersion,
			ClientTimestamp: entry.Operation.ClientTimestamp,
			Outcome:         entry.Outcome,
			AppliedVersion:  entry.AppliedVersion,
			ReceivedAt:      entry.ReceivedAt,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode history response", "error", err)
	}
}

// respond конвертирует результат батча в wire-формат и отправляет ответ.
// HTTP статус всегда 200: per-operation ошибки и конфликты — ожидаемые
// исходы, клиент обязан проверять errors и conflicts независимо от статуса.
// Watermark ответа — момент начала обработки батча, а не отправки ответа:
// конкурентная запись между вычислением дельты и ответом не должна
// оказаться позади сохраненного клиентом watermark.
func (h *SyncHandler) respond(w http.ResponseWriter, r *http.Request, req *api.SyncRequest, result *syncengine.BatchResult) {
	batch := api.SyncBatchResult{
		Results:             make([]api.OperationResult, 0, len(result.Results)),
		Errors:              make([]api.OperationError, 0, len(result.Errors)),
		Conflicts:           make([]api.SyncConflict, 0, len(result.Conflicts)),
		ServerChanges:       make([]api.ServerChange, 0, len(result.ServerChanges)),
		OperationsProcessed: result.Processed,
		Applied:             result.Applied,
	}

	for _, opResult := range result.Results {
		batch.Results = append(batch.Results, api.OperationResult{
			OperationID: opResult.OperationID,
			EntityType:  opResult.EntityType,
			EntityID:    opResult.EntityID,
			Outcome:     opResult.Outcome,
			NewVersion:  opResult.NewVersion,
		})
	}

	for _, opErr := range result.Errors {
		batch.Errors = append(batch.Errors, api.OperationError{
			OperationID: opErr.OperationID,
			Reason:      opErr.Reason,
		})
	}

	for _, conflict := range result.Conflicts {
		batch.Conflicts = append(batch.Conflicts, conflictToAPI(conflict))
	}

	for _, rec := range result.ServerChanges {
		change, err := changeToAPI(rec)
		if err != nil {
			h.logger.Error("Failed to encode server change", "error", err,
				"entity_type", rec.EntityType, "entity_id", rec.EntityID)
			continue
		}
		batch.ServerChanges = append(batch.ServerChanges, change)
	}

	// Response shaping для ограниченных клиентов
	if req.CompactPayloads {
		batch.ServerChanges = syncengine.CompactChanges(batch.ServerChanges, syncengine.DefaultMaxPayloadBytes)
	}

	nextSync := result.Timestamp.Add(nextSyncDefault)
	if len(batch.Conflicts) > 0 {
		// Есть конфликты: рекомендуем синхронизироваться раньше
		nextSync = result.Timestamp.Add(nextSyncWithConflicts)
	}

	resp := api.SyncResponse{
		Success: true,
		Data: api.SyncResponseData{
			Timestamp:           result.Timestamp,
			NextSyncRecommended: nextSync,
			SyncResult:          batch,
		},
	}

	h.sendJSONCompressed(w, r, resp, req.CompressionEnabled)
}

// sendJSONCompressed отправляет JSON, при необходимости сжимая ответ gzip
func (h *SyncHandler) sendJSONCompressed(w http.ResponseWriter, r *http.Request, data any, compress bool) {
	w.Header().Set("Content-Type", "application/json")

	if compress && strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusOK)

		gz := gzip.NewWriter(w)
		defer func() {
			if err := gz.Close(); err != nil {
				h.logger.Error("failed to close gzip writer", "error", err)
			}
		}()

		if err := json.NewEncoder(gz).Encode(data); err != nil {
			h.logger.Error("Failed to encode response", "error", err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *SyncHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := api.ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("failed to encode error response", "error", err)
	}
}

// operationFromAPI конвертирует wire-операцию в доменную.
// user_id и device_id берутся из аутентифицированного запроса.
func operationFromAPI(op *api.SyncOperation, userID, deviceID string) *models.SyncOperation {
	return &models.SyncOperation{
		ID:              op.ID,
		EntityType:      op.EntityType,
		EntityID:        op.EntityID,
		Kind:            models.OperationKind(op.Kind),
		Payload:         op.Payload,
		ClientTimestamp: op.ClientTimestamp,
		DeclaredVersion: op.DeclaredVersion,
		Checksum:        op.Checksum,
		DeviceID:        deviceID,
		UserID:          userID,
	}
}

// conflictToAPI конвертирует доменный конфликт в wire-формат
func conflictToAPI(conflict *models.SyncConflict) api.SyncConflict {
	result := api.SyncConflict{
		ID:            conflict.ID,
		EntityType:    conflict.EntityType,
		EntityID:      conflict.EntityID,
		ConflictType:  string(conflict.ConflictType),
		RemoteState:   conflict.RemoteState,
		RemoteVersion: conflict.RemoteVersion,
		RemoteDeleted: conflict.RemoteDeleted,
		DetectedAt:    conflict.DetectedAt,
		ResolvedAt:    conflict.ResolvedAt,
		Resolution:    string(conflict.Resolution),
		ResolvedBy:    conflict.ResolvedBy,
	}

	if op := conflict.LocalOperation; op != nil {
		result.LocalOperation = api.SyncOperation{
			ID:              op.ID,
			EntityType:      op.EntityType,
			EntityID:        op.EntityID,
			Kind:            string(op.Kind),
			Payload:         op.Payload,
			ClientTimestamp: op.ClientTimestamp,
			DeclaredVersion: op.DeclaredVersion,
			Checksum:        op.Checksum,
		}
	}

	return result
}

// changeToAPI конвертирует запись сущности в wire-формат серверного изменения
func changeToAPI(rec *models.EntityVersionRecord) (api.ServerChange, error) {
	sum, err := checksum.Payload(rec.Payload)
	if err != nil {
		return api.ServerChange{}, err
	}

	return api.ServerChange{
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		Version:        rec.CurrentVersion,
		Payload:        rec.Payload,
		Deleted:        rec.Deleted,
		LastModifiedAt: rec.LastModifiedAt,
		Checksum:       sum,
	}, nil
}
