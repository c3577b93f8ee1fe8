package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
	"github.com/zetra-hq/zetra-sync/internal/syncengine"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// ConflictLister определяет доступ к неразрешенным конфликтам
type ConflictLister interface {
	PendingConflicts(ctx context.Context, userID string) ([]*models.SyncConflict, error)
}

// ConflictResolver применяет стратегию разрешения к конфликту пользователя
type ConflictResolver interface {
	Resolve(ctx context.Context, userID, conflictID string, strategy models.ResolutionStrategy, customData json.RawMessage) (*syncengine.Resolution, error)
}

// ConflictsHandler handles conflict inspection and resolution requests
type ConflictsHandler struct {
	logger    *slog.Logger
	conflicts ConflictLister
	resolver  ConflictResolver
}

// NewConflictsHandler creates a new conflicts handler
func NewConflictsHandler(logger *slog.Logger, conflicts ConflictLister, resolver ConflictResolver) *ConflictsHandler {
	return &ConflictsHandler{
		logger:    logger,
		conflicts: conflicts,
		resolver:  resolver,
	}
}

// HandleList обрабатывает GET /api/v1/sync/conflicts
// Возвращает неразрешенные конфликты пользователя со статистикой
func (h *ConflictsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	pending, err := h.conflicts.PendingConflicts(ctx, userID)
	if err != nil {
		h.logger.Error("Failed to list conflicts", "error", err, "user_id", userID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.ConflictsResponse{
		Conflicts: make([]api.SyncConflict, 0, len(pending)),
	}

	for _, conflict := range pending {
		resp.Conflicts = append(resp.Conflicts, conflictToAPI(conflict))

		resp.Stats.Pending++
		switch conflict.ConflictType {
		case models.ConflictConcurrent:
			resp.Stats.Concurrent++
		case models.ConflictDelete:
			// Delete-конфликты никогда не разрешаются автоматически
			resp.Stats.Delete++
			resp.RequiresAttention = true
		}
	}
	resp.HasConflicts = resp.Stats.Pending > 0

	h.sendJSON(w, resp, http.StatusOK)
}

// HandleResolve обрабатывает PUT /api/v1/sync/conflicts/{id}
// Применяет выбранную стратегию (local | remote | custom) к конфликту
func (h *ConflictsHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID, ok := GetUserID(ctx)
	if !ok {
		h.logger.Error("User ID not found in context")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conflictID := r.PathValue("id")
	if conflictID == "" {
		h.sendError(w, "conflict id is required", http.StatusBadRequest)
		return
	}

	var req api.ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode resolve request", "error", err)
		h.sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resolution, err := h.resolver.Resolve(ctx, userID, conflictID, models.ResolutionStrategy(req.Resolution), req.CustomData)
	if err != nil {
		h.handleResolveError(w, err, conflictID, userID)
		return
	}

	resp := api.ResolveConflictResponse{
		ConflictID: conflictID,
		Resolution: req.Resolution,
		ResolvedBy: userID,
		ResolvedAt: resolution.ResolvedAt,
		NewState:   resolution.NewState,
		NewVersion: resolution.NewVersion,
	}

	h.sendJSON(w, resp, http.StatusOK)
}

// handleResolveError мапит ошибки разрешения на HTTP статусы
func (h *ConflictsHandler) handleResolveError(w http.ResponseWriter, err error, conflictID, userID string) {
	switch {
	case errors.Is(err, storage.ErrConflictNotFound):
		h.sendError(w, "conflict not found", http.StatusNotFound)
	case errors.Is(err, storage.ErrConflictResolved):
		// Повторное разрешение — это конфликт запроса, а не успех
		h.sendError(w, "conflict already resolved", http.StatusConflict)
	case errors.Is(err, syncengine.ErrInvalidStrategy),
		errors.Is(err, syncengine.ErrCustomDataRequired):
		h.sendError(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Error("Failed to resolve conflict", "error", err,
			"conflict_id", conflictID, "user_id", userID)
		h.sendError(w, "internal server error", http.StatusInternalServerError)
	}
}

// sendJSON отправляет JSON ответ
func (h *ConflictsHandler) sendJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// sendError отправляет JSON ответ с ошибкой
func (h *ConflictsHandler) sendError(w http.ResponseWriter, message string, statusCode int) {
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
