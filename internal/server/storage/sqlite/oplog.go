package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
)

// Append records an incoming operation with OutcomeReceived.
// Idempotent upsert по ключу (device_id, op_id): повторная отправка того же
// батча после обрыва сети не создает дубликатов. Returns false when the
// operation was already appended.
func (s *Storage) Append(ctx context.Context, op *models.SyncOperation) (bool, error) {
	query := `
		INSERT INTO sync_operations (
			device_id, op_id, user_id, entity_type, entity_id, kind,
			payload, checksum, declared_version, client_timestamp,
			outcome, received_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (device_id, op_id) DO NOTHING
	`

	result, err := s.db.ExecContext(ctx, query,
		op.DeviceID,
		op.ID,
		op.UserID,
		op.EntityType,
		op.EntityID,
		string(op.Kind),
		[]byte(op.Payload),
		op.Checksum,
		op.DeclaredVersion,
		op.ClientTimestamp.UnixNano(),
		storage.OutcomeReceived,
		time.Now().UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to append operation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rows > 0, nil
}

// MarkOutcome finalizes the outcome of a logged operation
func (s *Storage) MarkOutcome(ctx context.Context, deviceID, opID, outcome string, appliedVersion int64) error {
	query := `
		UPDATE sync_operations
		SET outcome = ?, applied_version = ?
		WHERE device_id = ? AND op_id = ?
	`

	result, err := s.db.ExecContext(ctx, query, outcome, appliedVersion, deviceID, opID)
	if err != nil {
		return fmt.Errorf("failed to mark operation outcome: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("operation %s/%s not found in log", deviceID, opID)
	}

	return nil
}

// GetOutcome returns the recorded outcome and applied version.
// Unknown operations yield empty outcome without error.
func (s *Storage) GetOutcome(ctx context.Context, deviceID, opID string) (string, int64, error) {
	query := `
		SELECT outcome, applied_version
		FROM sync_operations
		WHERE device_id = ? AND op_id = ?
	`

	var outcome string
	var appliedVersion int64

	err := s.db.QueryRowContext(ctx, query, deviceID, opID).Scan(&outcome, &appliedVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", 0, nil
		}
		return "", 0, fmt.Errorf("failed to get operation outcome: %w", err)
	}

	return outcome, appliedVersion, nil
}

// AppliedFieldsSince returns the union of top-level payload field names of
// applied operations that produced versions greater than afterVersion,
// together with the number of distinct versions those operations produced.
// Лог операций здесь заменяет хранение снимков каждой версии: набор
// серверных изменений после declared_version восстанавливается из payload
// примененных операций. Версии могут двигаться и мимо лога (разрешение
// конфликтов), поэтому вызывающий обязан сверить versions с реальной
// дистанцией до текущей версии прежде чем доверять набору полей.
func (s *Storage) AppliedFieldsSince(ctx context.Context, userID string, key models.EntityKey, afterVersion int64) (map[string]bool, int64, error) {
	query := `
		SELECT payload, applied_version
		FROM sync_operations
		WHERE user_id = ? AND entity_type = ? AND entity_id = ?
		  AND outcome = ? AND applied_version > ?
	`

	rows, err := s.db.QueryContext(ctx, query,
		userID, key.EntityType, key.EntityID, storage.OutcomeApplied, afterVersion)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query applied operations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	fields := make(map[string]bool)
	versions := make(map[int64]bool)

	for rows.Next() {
		var payload []byte
		var appliedVersion int64
		if err := rows.Scan(&payload, &appliedVersion); err != nil {
			return nil, 0, fmt.Errorf("failed to scan applied operation: %w", err)
		}

		versions[appliedVersion] = true

		if len(payload) == 0 {
			continue
		}

		var obj map[string]json.RawMessage
		if err := json.Unmarshal(payload, &obj); err != nil {
			return nil, 0, fmt.Errorf("failed to decode logged payload: %w", err)
		}
		for name := range obj {
			fields[name] = true
		}
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows iteration error: %w", err)
	}

	return fields, int64(len(versions)), nil
}

// ListDeviceOperations returns logged operations of a device, most recent
// first, up to limit. Выборка ограничена пользователем: device id не
// должен открывать чужой журнал.
func (s *Storage) ListDeviceOperations(ctx context.Context, userID, deviceID string, limit int) ([]*models.OperationLogEntry, error) {
	query := `
		SELECT device_id, op_id, user_id, entity_type, entity_id, kind,
		       payload, checksum, declared_version, client_timestamp,
		       outcome, applied_version, received_at
		FROM sync_operations
		WHERE user_id = ? AND device_id = ?
		ORDER BY received_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query device operations: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []*models.OperationLogEntry

	for rows.Next() {
		entry := &models.OperationLogEntry{}
		op := &entry.Operation
		var kind string
		var clientTimestamp, receivedAt int64

		err := rows.Scan(
			&op.DeviceID,
			&op.ID,
			&op.UserID,
			&op.EntityType,
			&op.EntityID,
			&kind,
			&op.Payload,
			&op.Checksum,
			&op.DeclaredVersion,
			&clientTimestamp,
			&entry.Outcome,
			&entry.AppliedVersion,
			&receivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}

		op.Kind = models.OperationKind(kind)
		op.ClientTimestamp = nanosToTime(clientTimestamp)
		entry.ReceivedAt = nanosToTime(receivedAt)

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}
