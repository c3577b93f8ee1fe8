package validation

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// MaxBatchOperations ограничивает размер одного sync-батча
const MaxBatchOperations = 500

// ValidateDeviceID проверяет, что device id является валидным UUID
func ValidateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("device_id is required")
	}
	if _, err := uuid.Parse(deviceID); err != nil {
		return fmt.Errorf("device_id must be a valid uuid: %w", err)
	}
	return nil
}

// ValidateSyncRequest проверяет батч-уровневую корректность запроса.
// Ошибки отдельных операций сюда не относятся: они собираются в результат
// батча оркестратором, а не отклоняют запрос целиком.
func ValidateSyncRequest(req *api.SyncRequest) error {
	if err := ValidateDeviceID(req.DeviceID); err != nil {
		return err
	}

	switch req.SyncMode {
	case "full", "incremental":
	case "":
		return fmt.Errorf("sync_mode is required")
	default:
		return fmt.Errorf("sync_mode must be full or incremental, got %q", req.SyncMode)
	}

	if len(req.Operations) > MaxBatchOperations {
		return fmt.Errorf("batch exceeds %d operations", MaxBatchOperations)
	}

	return nil
}

// ValidateOperation проверяет структурную корректность одной операции.
// Возвращаемая ошибка становится per-operation ошибкой в результате батча.
func ValidateOperation(op *models.SyncOperation) error {
	if op.ID == "" {
		return fmt.Errorf("operation id is required")
	}
	if _, err := uuid.Parse(op.ID); err != nil {
		return fmt.Errorf("operation id must be a valid uuid: %w", err)
	}

	if !models.KnownEntityTypes[op.EntityType] {
		return fmt.Errorf("unknown entity type %q", op.EntityType)
	}

	if op.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}

	switch op.Kind {
	case models.OpCreate, models.OpUpdate, models.OpDelete:
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}

	if op.Kind != models.OpDelete && len(op.Payload) == 0 {
		return fmt.Errorf("%s operation requires a payload", op.Kind)
	}

	if op.DeclaredVersion < 0 {
		return fmt.Errorf("declared version cannot be negative")
	}

	return nil
}
