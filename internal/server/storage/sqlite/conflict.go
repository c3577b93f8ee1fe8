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

// CreateConflict stores a newly detected conflict
func (s *Storage) CreateConflict(ctx context.Context, conflict *models.SyncConflict) error {
	localOp, err := json.Marshal(conflict.LocalOperation)
	if err != nil {
		return fmt.Errorf("failed to encode local operation: %w", err)
	}

	query := `
		INSERT INTO sync_conflicts (
			id, user_id, entity_type, entity_id, conflict_type,
			local_operation, remote_state, remote_version, remote_deleted,
			detected_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		conflict.ID,
		conflict.UserID,
		conflict.EntityType,
		conflict.EntityID,
		string(conflict.ConflictType),
		localOp,
		[]byte(conflict.RemoteState),
		conflict.RemoteVersion,
		boolToInt(conflict.RemoteDeleted),
		conflict.DetectedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conflict: %w", err)
	}

	return nil
}

// GetConflict retrieves a conflict by ID
func (s *Storage) GetConflict(ctx context.Context, id string) (*models.SyncConflict, error) {
	query := `
		SELECT id, user_id, entity_type, entity_id, conflict_type,
		       local_operation, remote_state, remote_version, remote_deleted,
		       detected_at, resolved_at, resolution, resolved_by
		FROM sync_conflicts
		WHERE id = ?
	`

	conflict, err := s.scanConflict(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrConflictNotFound
		}
		return nil, err
	}

	return conflict, nil
}

// PendingConflicts retrieves unresolved conflicts of a user, oldest first
func (s *Storage) PendingConflicts(ctx context.Context, userID string) ([]*models.SyncConflict, error) {
	query := `
		SELECT id, user_id, entity_type, entity_id, conflict_type,
		       local_operation, remote_state, remote_version, remote_deleted,
		       detected_at, resolved_at, resolution, resolved_by
		FROM sync_conflicts
		WHERE user_id = ? AND resolved_at IS NULL
		ORDER BY detected_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending conflicts: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	conflicts := []*models.SyncConflict{}

	for rows.Next() {
		conflict, err := s.scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return conflicts, nil
}

// MarkResolved transitions a conflict to resolved.
// Переход выполняется только из pending состояния: повторное разрешение
// возвращает ErrConflictResolved.
func (s *Storage) MarkResolved(ctx context.Context, id string, resolution models.ResolutionStrategy, resolvedBy string, resolvedAt time.Time) error {
	query := `
		UPDATE sync_conflicts
		SET resolved_at = ?, resolution = ?, resolved_by = ?
		WHERE id = ? AND resolved_at IS NULL
	`

	result, err := s.db.ExecContext(ctx, query, resolvedAt.UnixNano(), string(resolution), resolvedBy, id)
	if err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		// Либо конфликта нет, либо он уже разрешен
		if _, err := s.GetConflict(ctx, id); err != nil {
			return err
		}
		return storage.ErrConflictResolved
	}

	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for scanConflict
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConflict is a helper to scan one conflict row
func (s *Storage) scanConflict(row rowScanner) (*models.SyncConflict, error) {
	conflict := &models.SyncConflict{}
	var conflictType string
	var localOp, remoteState []byte
	var remoteDeleted int
	var detectedAt int64
	var resolvedAt sql.NullInt64
	var resolution, resolvedBy sql.NullString

	err := row.Scan(
		&conflict.ID,
		&conflict.UserID,
		&conflict.EntityType,
		&conflict.EntityID,
		&conflictType,
		&localOp,
		&remoteState,
		&conflict.RemoteVersion,
		&remoteDeleted,
		&detectedAt,
		&resolvedAt,
		&resolution,
		&resolvedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	conflict.ConflictType = models.ConflictType(conflictType)
	conflict.RemoteState = remoteState
	conflict.RemoteDeleted = intToBool(remoteDeleted)
	conflict.DetectedAt = nanosToTime(detectedAt)

	if len(localOp) > 0 {
		op := &models.SyncOperation{}
		if err := json.Unmarshal(localOp, op); err != nil {
			return nil, fmt.Errorf("failed to decode local operation: %w", err)
		}
		conflict.LocalOperation = op
	}

	if resolvedAt.Valid {
		t := nanosToTime(resolvedAt.Int64)
		conflict.ResolvedAt = &t
	}
	if resolution.Valid {
		conflict.Resolution = models.ResolutionStrategy(resolution.String)
	}
	if resolvedBy.Valid {
		conflict.ResolvedBy = resolvedBy.String
	}

	return conflict, nil
}
