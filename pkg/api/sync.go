package api

import (
	"encoding/json"
	"time"
)

// SyncOperation представляет одну клиентскую мутацию в батче синхронизации.
// Для update в Payload передаются только измененные поля (partial object).
type SyncOperation struct {
	ClientTimestamp time.Time       `json:"client_timestamp"`
	ID              string          `json:"id"`          // ID uuid операции, уникальный в рамках устройства
	EntityType      string          `json:"entity_type"` // EntityType: task, document, client, contact, note
	EntityID        string          `json:"entity_id"`
	Kind            string          `json:"kind"`     // Kind: create, update, delete
	Checksum        string          `json:"checksum"` // Checksum SHA-256 hex от компактного JSON payload
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeclaredVersion int64           `json:"declared_version"` // DeclaredVersion версия, от которой клиент мутирует
}

// SyncRequest представляет запрос на синхронизацию от устройства
type SyncRequest struct {
	LastSync           *time.Time      `json:"last_sync,omitempty"` // LastSync watermark последней синхронизации
	DeviceID           string          `json:"device_id"`
	SyncMode           string          `json:"sync_mode"` // SyncMode: full или incremental
	Operations         []SyncOperation `json:"operations"`
	CompressionEnabled bool            `json:"compression_enabled"`
	CompactPayloads    bool            `json:"compact_payloads,omitempty"` // CompactPayloads урезать крупные payload в ответе (mobile)
}

// OperationError описывает отказ одной операции внутри батча
type OperationError struct {
	OperationID string `json:"operation_id"`
	Reason      string `json:"reason"`
}

// ServerChange представляет серверное изменение, которое устройство должно применить
type ServerChange struct {
	LastModifiedAt time.Time       `json:"last_modified_at"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	Checksum       string          `json:"checksum"`
	Payload        json.RawMessage `json:"payload,omitempty"` // Payload может отсутствовать при compact_payloads
	Version        int64           `json:"version"`
	Deleted        bool            `json:"deleted"`
	PayloadElided  bool            `json:"payload_elided,omitempty"`
}

// OperationResult исход одной операции батча.
// Дельта не содержит эха собственных изменений устройства, поэтому
// новую версию сущности клиент узнает из этого результата.
type OperationResult struct {
	OperationID string `json:"operation_id"`
	EntityType  string `json:"entity_type"`
	EntityID    string `json:"entity_id"`
	Outcome     string `json:"outcome"` // applied, noop, conflict, error
	NewVersion  int64  `json:"new_version,omitempty"`
}

// SyncBatchResult агрегирует исход обработки одного батча
type SyncBatchResult struct {
	Results             []OperationResult `json:"operation_results"`
	Errors              []OperationError  `json:"errors"`
	Conflicts           []SyncConflict    `json:"conflicts"`
	ServerChanges       []ServerChange    `json:"server_changes"`
	OperationsProcessed int               `json:"operations_processed"`
	Applied             int               `json:"applied"`
}

// OperationHistoryEntry одна запись истории операций устройства
type OperationHistoryEntry struct {
	ReceivedAt      time.Time `json:"received_at"`
	ClientTimestamp time.Time `json:"client_timestamp"`
	OperationID     string    `json:"operation_id"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	Kind            string    `json:"kind"`
	Outcome         string    `json:"outcome"`
	DeclaredVersion int64     `json:"declared_version"`
	AppliedVersion  int64     `json:"applied_version"`
}

// OperationHistoryResponse ответ GET /sync/operations
type OperationHistoryResponse struct {
	Operations []OperationHistoryEntry `json:"operations"`
}

// SyncResponseData полезная нагрузка успешного ответа POST /sync
type SyncResponseData struct {
	Timestamp           time.Time       `json:"timestamp"`
	NextSyncRecommended time.Time       `json:"next_sync_recommended"`
	SyncResult          SyncBatchResult `json:"sync_result"`
}

// SyncResponse представляет ответ сервера на синхронизацию
type SyncResponse struct {
	Data    SyncResponseData `json:"data"`
	Success bool             `json:"success"`
}
