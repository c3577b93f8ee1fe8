package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
)

// OperationError описывает отказ одной операции внутри батча
type OperationError struct {
	OperationID string
	Reason      string
}

// OperationResult исход одной операции батча. Дельта подавляет эхо
// собственных изменений устройства, поэтому новая версия сущности
// доставляется клиенту именно здесь.
type OperationResult struct {
	OperationID string
	EntityType  string
	EntityID    string
	Outcome     string
	NewVersion  int64
}

// BatchResult агрегирует исход обработки одного sync-батча.
// Отказы отдельных операций не роняют батч: каждая операция получает
// независимый исход в Results, Errors или Conflicts.
// Timestamp фиксируется до обработки: сохраненный клиентом watermark
// не должен перешагивать конкурентные записи, легшие между вычислением
// дельты и отправкой ответа.
type BatchResult struct {
	Timestamp     time.Time
	Results       []OperationResult
	Errors        []OperationError
	Conflicts     []*models.SyncConflict
	ServerChanges []*models.EntityVersionRecord
	Processed     int
	Applied       int
}

// Orchestrator управляет обработкой sync-батчей: валидация -> детекция
// конфликтов -> применение -> вычисление дельты. Единственный владелец
// переходов EntityVersionRecord.CurrentVersion внутри батча.
type Orchestrator struct {
	logger    *slog.Logger
	entities  storage.EntityStore
	oplog     storage.OperationLog
	conflicts storage.ConflictStore
	now       func() time.Time
}

// NewOrchestrator создает оркестратор синхронизации
func NewOrchestrator(logger *slog.Logger, entities storage.EntityStore, oplog storage.OperationLog, conflicts storage.ConflictStore) *Orchestrator {
	return &Orchestrator{
		logger:    logger,
		entities:  entities,
		oplog:     oplog,
		conflicts: conflicts,
		now:       time.Now,
	}
}

// ProcessBatch обрабатывает батч операций одного устройства.
// Операции применяются в порядке отправки: последовательная обработка
// сериализует операции против одной сущности, поэтому батч не гоняется
// сам с собой за версию.
// watermark == nil означает первый sync устройства (дельта с нуля);
// fullSync игнорирует watermark и возвращает все сущности пользователя.
func (o *Orchestrator) ProcessBatch(ctx context.Context, userID, deviceID string, ops []*models.SyncOperation, watermark *time.Time, fullSync bool) (*BatchResult, error) {
	result := &BatchResult{
		Timestamp: o.now(),
		Results:   []OperationResult{},
		Errors:    []OperationError{},
		Conflicts: []*models.SyncConflict{},
	}

	for _, op := range ops {
		// user_id и device_id авторитативны на сервере, клиентским
		// значениям в операции не доверяем
		op.UserID = userID
		op.DeviceID = deviceID

		o.processOperation(ctx, op, result)
	}

	changes, err := o.computeDelta(ctx, userID, deviceID, watermark, fullSync)
	if err != nil {
		return nil, fmt.Errorf("failed to compute server delta: %w", err)
	}
	result.ServerChanges = changes

	o.logger.InfoContext(ctx, "sync batch processed",
		"user_id", userID,
		"device_id", deviceID,
		"operations", len(ops),
		"applied", result.Applied,
		"conflicts", len(result.Conflicts),
		"errors", len(result.Errors),
		"server_changes", len(changes))

	return result, nil
}

// processOperation обрабатывает одну операцию. Любой отказ записывается
// в result, не прерывая остальные операции батча.
func (o *Orchestrator) processOperation(ctx context.Context, op *models.SyncOperation, result *BatchResult) {
	result.Processed++

	if err := ValidateOperation(op); err != nil {
		o.logger.WarnContext(ctx, "operation rejected",
			"op_id", op.ID, "error", err)
		result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: err.Error()})
		return
	}

	// Идемпотентный append: повтор операции из переотправленного батча
	// пропускается без повторного применения
	inserted, err := o.oplog.Append(ctx, op)
	if err != nil {
		result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to log operation"})
		o.logger.ErrorContext(ctx, "oplog append failed", "op_id", op.ID, "error", err)
		return
	}

	if !inserted {
		outcome, appliedVersion, err := o.oplog.GetOutcome(ctx, op.DeviceID, op.ID)
		if err != nil {
			result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to read operation outcome"})
			return
		}
		if outcome != storage.OutcomeReceived {
			// Операция уже обработана предыдущей отправкой: повторяем
			// записанный исход без повторного применения
			o.logger.DebugContext(ctx, "duplicate operation skipped", "op_id", op.ID, "outcome", outcome)
			result.Results = append(result.Results, OperationResult{
				OperationID: op.ID,
				EntityType:  op.EntityType,
				EntityID:    op.EntityID,
				Outcome:     outcome,
				NewVersion:  appliedVersion,
			})
			return
		}
		// OutcomeReceived: предыдущая попытка оборвалась до завершения,
		// дообрабатываем операцию
	}

	outcome, appliedVersion := o.applyOperation(ctx, op, result)

	if err := o.oplog.MarkOutcome(ctx, op.DeviceID, op.ID, outcome, appliedVersion); err != nil {
		o.logger.ErrorContext(ctx, "failed to mark operation outcome",
			"op_id", op.ID, "outcome", outcome, "error", err)
	}

	result.Results = append(result.Results, OperationResult{
		OperationID: op.ID,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		Outcome:     outcome,
		NewVersion:  appliedVersion,
	})
}

// applyOperation ведет операцию через детектор и CAS-применение.
// Возвращает исход для лога операций и версию, которую дало применение.
func (o *Orchestrator) applyOperation(ctx context.Context, op *models.SyncOperation, result *BatchResult) (string, int64) {
	// Одна повторная попытка: проигрыш CAS конкурентному устройству
	// уводит операцию обратно в детектор со свежей версией, а не
	// перезаписывает чужую запись вслепую
	for attempt := 0; attempt < 2; attempt++ {
		current, err := o.loadEntity(ctx, op)
		if err != nil {
			result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to load entity state"})
			return storage.OutcomeError, 0
		}

		switch Classify(op, current) {
		case Clean:
			newVersion, err := o.applyClean(ctx, op, current)
			if errors.Is(err, storage.ErrVersionMismatch) {
				continue
			}
			if err != nil {
				result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to apply operation"})
				o.logger.ErrorContext(ctx, "clean apply failed", "op_id", op.ID, "error", err)
				return storage.OutcomeError, 0
			}
			result.Applied++
			return storage.OutcomeApplied, newVersion

		case NoopDelete:
			// Удаление уже несуществующего: принимаем без изменения состояния
			return storage.OutcomeNoop, 0

		case NoEntity:
			result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "entity does not exist"})
			return storage.OutcomeError, 0

		case FutureVersion:
			result.Errors = append(result.Errors, OperationError{
				OperationID: op.ID,
				Reason:      fmt.Sprintf("%s: declared %d, server %d", ErrFutureVersion, op.DeclaredVersion, current.CurrentVersion),
			})
			return storage.OutcomeError, 0

		case ConcurrentConflict:
			newVersion, merged, err := o.tryAutoMerge(ctx, op, current)
			if errors.Is(err, storage.ErrVersionMismatch) {
				continue
			}
			if err != nil {
				result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to merge operation"})
				o.logger.ErrorContext(ctx, "auto-merge failed", "op_id", op.ID, "error", err)
				return storage.OutcomeError, 0
			}
			if merged {
				result.Applied++
				return storage.OutcomeApplied, newVersion
			}
			return o.recordConflict(ctx, op, current, models.ConflictConcurrent, result)

		case DeleteConflict:
			return o.recordConflict(ctx, op, current, models.ConflictDelete, result)
		}
	}

	// Обе попытки проиграли CAS: фиксируем конфликт по свежему состоянию
	current, err := o.loadEntity(ctx, op)
	if err != nil || current == nil {
		result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to apply operation after retries"})
		return storage.OutcomeError, 0
	}
	return o.recordConflict(ctx, op, current, models.ConflictConcurrent, result)
}

// loadEntity возвращает текущую запись сущности или nil, если ее нет
func (o *Orchestrator) loadEntity(ctx context.Context, op *models.SyncOperation) (*models.EntityVersionRecord, error) {
	current, err := o.entities.GetEntity(ctx, op.UserID, op.Key())
	if err != nil {
		if errors.Is(err, storage.ErrEntityNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return current, nil
}

// applyClean применяет операцию с совпавшей версией.
// Каждое успешное применение увеличивает версию ровно на 1.
func (o *Orchestrator) applyClean(ctx context.Context, op *models.SyncOperation, current *models.EntityVersionRecord) (int64, error) {
	now := o.now()

	if current == nil {
		rec := &models.EntityVersionRecord{
			UserID:         op.UserID,
			EntityType:     op.EntityType,
			EntityID:       op.EntityID,
			CurrentVersion: 1,
			Payload:        op.Payload,
			LastModifiedAt: now,
			LastModifiedBy: op.DeviceID,
			CreatedAt:      now,
		}
		if err := o.entities.UpsertEntity(ctx, rec, 0); err != nil {
			return 0, err
		}
		return 1, nil
	}

	rec := current.Clone()
	rec.CurrentVersion = current.CurrentVersion + 1
	rec.LastModifiedAt = now
	rec.LastModifiedBy = op.DeviceID

	switch op.Kind {
	case models.OpDelete:
		rec.Deleted = true
	case models.OpUpdate:
		merged, err := current.MergePayload(op.Payload)
		if err != nil {
			return 0, fmt.Errorf("failed to merge payload: %w", err)
		}
		rec.Payload = merged
	case models.OpCreate:
		// create поверх живой записи классифицируется как конфликт,
		// сюда не попадает
		rec.Payload = op.Payload
	}

	if err := o.entities.UpsertEntity(ctx, rec, current.CurrentVersion); err != nil {
		return 0, err
	}

	return rec.CurrentVersion, nil
}

// tryAutoMerge пытается автоматически слить отставшую update-операцию.
// Слияние выполняется только когда наборы измененных полей дизъюнктны:
// серверный набор восстанавливается из лога примененных операций после
// declared version. Пересечение наборов всегда уходит в ручное
// разрешение, last-writer-wins на пересекающихся полях не применяется.
func (o *Orchestrator) tryAutoMerge(ctx context.Context, op *models.SyncOperation, current *models.EntityVersionRecord) (int64, bool, error) {
	if op.Kind != models.OpUpdate {
		return 0, false, nil
	}

	opFields, err := op.PayloadFields()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read operation fields: %w", err)
	}

	serverFields, covered, err := o.oplog.AppliedFieldsSince(ctx, op.UserID, op.Key(), op.DeclaredVersion)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read server-side changed fields: %w", err)
	}

	// Разрешения конфликтов двигают версию мимо лога операций. Если
	// примененные операции не объясняют каждую версию в окне
	// (declared, current], серверный набор полей неполон и слияние
	// небезопасно: такая операция уходит в ручное разрешение.
	if covered < current.CurrentVersion-op.DeclaredVersion {
		return 0, false, nil
	}

	if !DisjointFields(opFields, serverFields) {
		return 0, false, nil
	}

	merged, err := current.MergePayload(op.Payload)
	if err != nil {
		return 0, false, fmt.Errorf("failed to merge payload: %w", err)
	}

	rec := current.Clone()
	rec.CurrentVersion = current.CurrentVersion + 1
	rec.Payload = merged
	rec.LastModifiedAt = o.now()
	rec.LastModifiedBy = op.DeviceID

	if err := o.entities.UpsertEntity(ctx, rec, current.CurrentVersion); err != nil {
		return 0, false, err
	}

	o.logger.InfoContext(ctx, "auto-merged concurrent update",
		"op_id", op.ID,
		"entity_type", op.EntityType,
		"entity_id", op.EntityID,
		"new_version", rec.CurrentVersion)

	return rec.CurrentVersion, true, nil
}

// recordConflict фиксирует SyncConflict и добавляет его в результат батча.
// Конфликт не является ошибкой: это ожидаемый исход, требующий отдельного
// раунда ручного разрешения.
func (o *Orchestrator) recordConflict(ctx context.Context, op *models.SyncOperation, current *models.EntityVersionRecord, conflictType models.ConflictType, result *BatchResult) (string, int64) {
	conflict := &models.SyncConflict{
		ID:             uuid.New().String(),
		UserID:         op.UserID,
		EntityType:     op.EntityType,
		EntityID:       op.EntityID,
		ConflictType:   conflictType,
		LocalOperation: op.Clone(),
		DetectedAt:     o.now(),
	}

	if current != nil {
		conflict.RemoteState = current.Payload
		conflict.RemoteVersion = current.CurrentVersion
		conflict.RemoteDeleted = current.Deleted
	}

	if err := o.conflicts.CreateConflict(ctx, conflict); err != nil {
		result.Errors = append(result.Errors, OperationError{OperationID: op.ID, Reason: "failed to record conflict"})
		o.logger.ErrorContext(ctx, "failed to record conflict", "op_id", op.ID, "error", err)
		return storage.OutcomeError, 0
	}

	result.Conflicts = append(result.Conflicts, conflict)

	o.logger.InfoContext(ctx, "sync conflict detected",
		"op_id", op.ID,
		"conflict_id", conflict.ID,
		"conflict_type", conflictType,
		"entity_type", op.EntityType,
		"entity_id", op.EntityID)

	return storage.OutcomeConflict, 0
}

// computeDelta вычисляет серверные изменения для устройства.
// Echo suppression: изменения, чьим последним автором было само
// запрашивающее устройство, в дельту не попадают.
func (o *Orchestrator) computeDelta(ctx context.Context, userID, deviceID string, watermark *time.Time, fullSync bool) ([]*models.EntityVersionRecord, error) {
	if fullSync {
		return o.entities.AllEntities(ctx, userID, deviceID)
	}

	since := time.Time{}
	if watermark != nil {
		since = *watermark
	}

	return o.entities.ChangedSince(ctx, userID, since, deviceID)
}
