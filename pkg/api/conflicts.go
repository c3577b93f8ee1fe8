package api

import (
	"encoding/json"
	"time"
)

// Стратегии разрешения конфликтов
const (
	ResolutionLocal  = "local"  // применить клиентскую версию
	ResolutionRemote = "remote" // оставить серверную версию
	ResolutionCustom = "custom" // применить payload из запроса
)

// SyncConflict представляет обнаруженное расхождение, требующее разрешения
type SyncConflict struct {
	DetectedAt     time.Time       `json:"detected_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	ID             string          `json:"id"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	ConflictType   string          `json:"conflict_type"` // concurrent или delete
	Resolution     string          `json:"resolution,omitempty"`
	ResolvedBy     string          `json:"resolved_by,omitempty"`
	LocalOperation SyncOperation   `json:"local_operation"`
	RemoteState    json.RawMessage `json:"remote_state,omitempty"`
	RemoteVersion  int64           `json:"remote_version"`
	RemoteDeleted  bool            `json:"remote_deleted"`
}

// ConflictStats агрегированная статистика по конфликтам пользователя
type ConflictStats struct {
	Pending    int `json:"pending"`
	Concurrent int `json:"concurrent"`
	Delete     int `json:"delete"`
}

// ConflictsResponse представляет ответ GET /sync/conflicts
type ConflictsResponse struct {
	Conflicts         []SyncConflict `json:"conflicts"`
	Stats             ConflictStats  `json:"stats"`
	HasConflicts      bool           `json:"has_conflicts"`
	RequiresAttention bool           `json:"requires_attention"` // true при наличии delete-конфликтов
}

// ResolveConflictRequest представляет тело PUT /sync/conflicts/{id}
type ResolveConflictRequest struct {
	Resolution string          `json:"resolution"` // local, remote или custom
	CustomData json.RawMessage `json:"custom_data,omitempty"`
}

// ResolveConflictResponse подтверждение разрешения конфликта
type ResolveConflictResponse struct {
	ResolvedAt time.Time       `json:"resolved_at"`
	ConflictID string          `json:"conflict_id"`
	Resolution string          `json:"resolution"`
	ResolvedBy string          `json:"resolved_by"`
	NewState   json.RawMessage `json:"new_state,omitempty"`
	NewVersion int64           `json:"new_version"`
}
