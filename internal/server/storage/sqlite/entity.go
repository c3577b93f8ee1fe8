package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/server/storage"
)

// GetEntity retrieves the version record for an entity.
// Soft-deleted records are returned with Deleted=true, callers classify
// delete conflicts themselves.
func (s *Storage) GetEntity(ctx context.Context, userID string, key models.EntityKey) (*models.EntityVersionRecord, error) {
	query := `
		SELECT user_id, entity_type, entity_id, version, payload,
		       deleted, last_modified_at, last_modified_by, created_at
		FROM entities
		WHERE user_id = ? AND entity_type = ? AND entity_id = ?
	`

	rec := &models.EntityVersionRecord{}
	var deleted int
	var lastModifiedAt, createdAt int64

	err := s.db.QueryRowContext(ctx, query, userID, key.EntityType, key.EntityID).Scan(
		&rec.UserID,
		&rec.EntityType,
		&rec.EntityID,
		&rec.CurrentVersion,
		&rec.Payload,
		&deleted,
		&lastModifiedAt,
		&rec.LastModifiedBy,
		&createdAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrEntityNotFound
		}
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	rec.Deleted = intToBool(deleted)
	rec.LastModifiedAt = nanosToTime(lastModifiedAt)
	rec.CreatedAt = nanosToTime(createdAt)

	return rec, nil
}

// UpsertEntity writes rec using optimistic concurrency.
// expectedVersion == 0 — вставка новой записи (version должен быть 1),
// иначе UPDATE срабатывает только если версия в БД все еще равна
// expectedVersion. Провал CAS возвращает ErrVersionMismatch.
func (s *Storage) UpsertEntity(ctx context.Context, rec *models.EntityVersionRecord, expectedVersion int64) error {
	if expectedVersion == 0 {
		if rec.CurrentVersion != 1 {
			return fmt.Errorf("insert requires version 1, got %d", rec.CurrentVersion)
		}

		query := `
			INSERT INTO entities (
				user_id, entity_type, entity_id, version, payload,
				deleted, last_modified_at, last_modified_by, created_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (user_id, entity_type, entity_id) DO NOTHING
		`

		result, err := s.db.ExecContext(ctx, query,
			rec.UserID,
			rec.EntityType,
			rec.EntityID,
			rec.CurrentVersion,
			[]byte(rec.Payload),
			boolToInt(rec.Deleted),
			rec.LastModifiedAt.UnixNano(),
			rec.LastModifiedBy,
			rec.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert entity: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			// Сущность уже создана конкурентным писателем
			return storage.ErrVersionMismatch
		}
		return nil
	}

	if rec.CurrentVersion != expectedVersion+1 {
		return fmt.Errorf("cas update requires version %d, got %d", expectedVersion+1, rec.CurrentVersion)
	}

	query := `
		UPDATE entities
		SET version = ?, payload = ?, deleted = ?,
		    last_modified_at = ?, last_modified_by = ?
		WHERE user_id = ? AND entity_type = ? AND entity_id = ? AND version = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.CurrentVersion,
		[]byte(rec.Payload),
		boolToInt(rec.Deleted),
		rec.LastModifiedAt.UnixNano(),
		rec.LastModifiedBy,
		rec.UserID,
		rec.EntityType,
		rec.EntityID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update entity: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return storage.ErrVersionMismatch
	}

	return nil
}

// ChangedSince retrieves records modified at or after the watermark,
// excluding rows last written by excludeDevice (echo suppression).
// Включает soft-deleted записи: устройства должны узнавать об удалениях.
func (s *Storage) ChangedSince(ctx context.Context, userID string, since time.Time, excludeDevice string) ([]*models.EntityVersionRecord, error) {
	query := `
		SELECT user_id, entity_type, entity_id, version, payload,
		       deleted, last_modified_at, last_modified_by, created_at
		FROM entities
		WHERE user_id = ? AND last_modified_at >= ? AND last_modified_by != ?
		ORDER BY last_modified_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, since.UnixNano(), excludeDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to query changed entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return s.scanEntities(rows)
}

// AllEntities retrieves every record of the user (full sync mode)
// with the same echo suppression as ChangedSince.
func (s *Storage) AllEntities(ctx context.Context, userID string, excludeDevice string) ([]*models.EntityVersionRecord, error) {
	query := `
		SELECT user_id, entity_type, entity_id, version, payload,
		       deleted, last_modified_at, last_modified_by, created_at
		FROM entities
		WHERE user_id = ? AND last_modified_by != ?
		ORDER BY last_modified_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID, excludeDevice)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	return s.scanEntities(rows)
}

// scanEntities is a helper function to scan multiple records from rows
func (s *Storage) scanEntities(rows *sql.Rows) ([]*models.EntityVersionRecord, error) {
	var records []*models.EntityVersionRecord

	for rows.Next() {
		rec := &models.EntityVersionRecord{}
		var deleted int
		var lastModifiedAt, createdAt int64

		err := rows.Scan(
			&rec.UserID,
			&rec.EntityType,
			&rec.EntityID,
			&rec.CurrentVersion,
			&rec.Payload,
			&deleted,
			&lastModifiedAt,
			&rec.LastModifiedBy,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}

		rec.Deleted = intToBool(deleted)
		rec.LastModifiedAt = nanosToTime(lastModifiedAt)
		rec.CreatedAt = nanosToTime(createdAt)

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}

// Helper functions for bool/int and time conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func nanosToTime(nanos int64) time.Time {
	return time.Unix(0, nanos)
}
