package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	httpClient "github.com/zetra-hq/zetra-sync/internal/client/api"
	"github.com/zetra-hq/zetra-sync/internal/client/auth"
	"github.com/zetra-hq/zetra-sync/internal/client/storage"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

//go:generate moq -out service_mock.go . Service

// Service определяет интерфейс сервиса синхронизации клиента
type Service interface {
	// Sync выполняет цикл синхронизации с сервером
	Sync(ctx context.Context, opts Options) (*Result, error)

	// PendingCount возвращает количество операций, ожидающих отправки
	PendingCount(ctx context.Context) (int, error)

	// Conflicts возвращает неразрешенные конфликты с сервера
	Conflicts(ctx context.Context) (*api.ConflictsResponse, error)

	// Resolve разрешает конфликт выбранной стратегией
	Resolve(ctx context.Context, conflictID, strategy string, customData json.RawMessage) (*api.ResolveConflictResponse, error)
}

// Options параметры цикла синхронизации
type Options struct {
	Full     bool // Full запросить полный снимок вместо инкрементальной дельты
	Compress bool // Compress попросить сервер сжать ответ gzip
	Compact  bool // Compact урезать крупные payload в дельте (mobile)
}

// Result итоги цикла синхронизации
type Result struct {
	NextSync  time.Time            // NextSync рекомендованное время следующей синхронизации
	Errors    []api.OperationError // Errors отклоненные сервером операции
	Conflicts []api.SyncConflict   // Conflicts операции, ушедшие в ручное разрешение
	Pushed    int                  // Pushed отправлено операций
	Applied   int                  // Applied применено сервером
	Pulled    int                  // Pulled получено серверных изменений
}

type service struct {
	apiClient   httpClient.ClientAPI
	authService auth.Service
	entities    storage.EntityCache
	pending     storage.PendingQueue
	metadata    storage.MetadataStorage
	logger      *slog.Logger
}

// NewService creates a new client sync service
func NewService(
	apiClient httpClient.ClientAPI,
	authService auth.Service,
	entities storage.EntityCache,
	pending storage.PendingQueue,
	metadata storage.MetadataStorage,
	logger *slog.Logger,
) Service {
	return &service{
		apiClient:   apiClient,
		authService: authService,
		entities:    entities,
		pending:     pending,
		metadata:    metadata,
		logger:      logger,
	}
}

// Sync выполняет цикл синхронизации:
//  1. Собирает очередь локальных операций
//  2. Отправляет батч вместе с watermark последней синхронизации
//  3. Убирает подтвержденные операции из очереди
//  4. Применяет серверную дельту к локальному кешу
//  5. Сохраняет новый watermark
//
// Конфликтные операции сервер паркует для ручного разрешения: из очереди
// они убираются, повторная отправка их не вылечит.
func (s *service) Sync(ctx context.Context, opts Options) (*Result, error) {
	token, err := s.authService.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	session, err := s.authService.Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	lastSync, err := s.metadata.GetLastSync(ctx)
	if err != nil {
		s.logger.Warn("Failed to get last sync watermark, forcing full sync", "error", err)
		lastSync = time.Time{}
	}

	pendingOps, err := s.pending.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending operations: %w", err)
	}

	req := api.SyncRequest{
		DeviceID:           session.DeviceID,
		SyncMode:           "incremental",
		Operations:         make([]api.SyncOperation, 0, len(pendingOps)),
		CompressionEnabled: opts.Compress,
		CompactPayloads:    opts.Compact,
	}

	// Первая синхронизация и принудительная идут в full режиме
	if opts.Full || lastSync.IsZero() {
		req.SyncMode = "full"
	} else {
		req.LastSync = &lastSync
	}

	seqs := make([]uint64, 0, len(pendingOps))
	for _, pending := range pendingOps {
		req.Operations = append(req.Operations, pending.Operation)
		seqs = append(seqs, pending.Seq)
	}

	s.logger.Info("Starting synchronization",
		"device_id", session.DeviceID,
		"sync_mode", req.SyncMode,
		"operations", len(req.Operations))

	resp, err := s.apiClient.Sync(ctx, token, req)
	if err != nil {
		return nil, fmt.Errorf("sync request failed: %w", err)
	}

	syncResult := resp.Data.SyncResult

	// Сервер записал операции идемпотентно: из очереди уходят все,
	// включая отклоненные и конфликтные
	if err := s.pending.Remove(ctx, seqs); err != nil {
		return nil, fmt.Errorf("failed to remove acked operations: %w", err)
	}

	// Фиксируем подтвержденные версии: дельта не содержит эха наших
	// собственных изменений, версию дает только operation_results
	for i := range syncResult.Results {
		if err := s.applyOperationResult(ctx, &syncResult.Results[i]); err != nil {
			s.logger.Warn("Failed to apply operation result",
				"operation_id", syncResult.Results[i].OperationID,
				"error", err)
		}
	}

	// Применяем серверную дельту к локальному кешу
	for i := range syncResult.ServerChanges {
		if err := s.applyChange(ctx, &syncResult.ServerChanges[i]); err != nil {
			s.logger.Warn("Failed to apply server change",
				"entity_type", syncResult.ServerChanges[i].EntityType,
				"entity_id", syncResult.ServerChanges[i].EntityID,
				"error", err)
		}
	}

	// Сохраняем watermark только после применения дельты
	if err := s.metadata.SaveLastSync(ctx, resp.Data.Timestamp); err != nil {
		s.logger.Warn("Failed to save sync watermark", "error", err)
	}

	result := &Result{
		Pushed:    len(req.Operations),
		Applied:   syncResult.Applied,
		Pulled:    len(syncResult.ServerChanges),
		Errors:    syncResult.Errors,
		Conflicts: syncResult.Conflicts,
		NextSync:  resp.Data.NextSyncRecommended,
	}

	s.logger.Info("Synchronization completed",
		"pushed", result.Pushed,
		"applied", result.Applied,
		"pulled", result.Pulled,
		"errors", len(result.Errors),
		"conflicts", len(result.Conflicts))

	return result, nil
}

// applyOperationResult обновляет локальный кеш по исходу операции
func (s *service) applyOperationResult(ctx context.Context, opResult *api.OperationResult) error {
	if opResult.Outcome != "applied" {
		return nil
	}

	entity, err := s.entities.GetEntity(ctx, opResult.EntityType, opResult.EntityID)
	if err != nil {
		// Сущности нет в кеше (например, удалена локально) — не страшно
		return nil
	}

	entity.Version = opResult.NewVersion
	entity.Dirty = false
	return s.entities.SaveEntity(ctx, entity)
}

// applyChange применяет одно серверное изменение к локальному кешу.
// Серверная версия авторитетна и затирает локальные правки сущности.
func (s *service) applyChange(ctx context.Context, change *api.ServerChange) error {
	entity := &storage.CachedEntity{
		EntityType: change.EntityType,
		EntityID:   change.EntityID,
		Version:    change.Version,
		Payload:    change.Payload,
		Deleted:    change.Deleted,
		UpdatedAt:  change.LastModifiedAt,
	}

	// Урезанный payload: версию обновляем, тело оставляем старое,
	// оно подтянется следующим full sync или отдельным запросом
	if change.PayloadElided {
		if existing, err := s.entities.GetEntity(ctx, change.EntityType, change.EntityID); err == nil {
			entity.Payload = existing.Payload
		}
	}

	return s.entities.SaveEntity(ctx, entity)
}

// PendingCount возвращает количество операций, ожидающих отправки
func (s *service) PendingCount(ctx context.Context) (int, error) {
	return s.pending.Count(ctx)
}

// Conflicts возвращает неразрешенные конфликты с сервера
func (s *service) Conflicts(ctx context.Context) (*api.ConflictsResponse, error) {
	token, err := s.authService.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	return s.apiClient.Conflicts(ctx, token)
}

// Resolve разрешает конфликт выбранной стратегией.
// Новое серверное состояние сразу применяется к локальному кешу.
func (s *service) Resolve(ctx context.Context, conflictID, strategy string, customData json.RawMessage) (*api.ResolveConflictResponse, error) {
	token, err := s.authService.AccessToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := s.apiClient.ResolveConflict(ctx, token, conflictID, api.ResolveConflictRequest{
		Resolution: strategy,
		CustomData: customData,
	})
	if err != nil {
		return nil, err
	}

	return resp, nil
}
