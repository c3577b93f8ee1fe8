package models

import (
	"encoding/json"
	"time"
)

// ConflictType классифицирует обнаруженное расхождение
type ConflictType string

const (
	// ConflictConcurrent обе стороны независимо изменили сущность
	ConflictConcurrent ConflictType = "concurrent"
	// ConflictDelete одна сторона удалила сущность, другая изменила.
	// Никогда не разрешается автоматически: риск потери данных асимметричен.
	ConflictDelete ConflictType = "delete"
)

// ResolutionStrategy определяет способ разрешения конфликта
type ResolutionStrategy string

const (
	ResolveLocal  ResolutionStrategy = "local"  // применить клиентскую операцию поверх серверного состояния
	ResolveRemote ResolutionStrategy = "remote" // оставить серверное состояние, операция отбрасывается
	ResolveCustom ResolutionStrategy = "custom" // применить payload, переданный при разрешении
)

// ValidStrategy проверяет, что стратегия одна из трех поддерживаемых
func ValidStrategy(s ResolutionStrategy) bool {
	return s == ResolveLocal || s == ResolveRemote || s == ResolveCustom
}

// SyncConflict представляет обнаруженное, но не разрешенное расхождение.
// Создается детектором конфликтов, переходит в resolved только через явное
// разрешение (вручную или политикой), никогда не отбрасывается молча.
type SyncConflict struct {
	DetectedAt     time.Time          `json:"detected_at"`
	ResolvedAt     *time.Time         `json:"resolved_at,omitempty"`
	ID             string             `json:"id"` // UUID конфликта
	UserID         string             `json:"user_id"`
	EntityType     string             `json:"entity_type"`
	EntityID       string             `json:"entity_id"`
	ConflictType   ConflictType       `json:"conflict_type"`
	Resolution     ResolutionStrategy `json:"resolution,omitempty"`
	ResolvedBy     string             `json:"resolved_by,omitempty"`
	LocalOperation *SyncOperation     `json:"local_operation"`          // отклоненная клиентская операция
	RemoteState    json.RawMessage    `json:"remote_state,omitempty"`  // серверный снимок на момент обнаружения
	RemoteVersion  int64              `json:"remote_version"`
	RemoteDeleted  bool               `json:"remote_deleted"`
}

// Resolved сообщает, был ли конфликт уже разрешен
func (c *SyncConflict) Resolved() bool {
	return c.ResolvedAt != nil
}
