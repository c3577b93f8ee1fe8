package models

import (
	"encoding/json"
	"time"
)

// OperationKind определяет вид клиентской мутации
type OperationKind string

const (
	OpCreate OperationKind = "create"
	OpUpdate OperationKind = "update"
	OpDelete OperationKind = "delete"
)

// EntityType константы для синхронизируемых сущностей
const (
	EntityTask     = "task"
	EntityDocument = "document"
	EntityClient   = "client"
	EntityContact  = "contact"
	EntityNote     = "note"
)

// KnownEntityTypes перечисляет все допустимые типы сущностей
var KnownEntityTypes = map[string]bool{
	EntityTask:     true,
	EntityDocument: true,
	EntityClient:   true,
	EntityContact:  true,
	EntityNote:     true,
}

// SyncOperation представляет одну клиентскую мутацию из offline-очереди устройства.
// ID генерируется клиентом и уникален в рамках устройства, что делает
// повторную отправку батча идемпотентной (см. OperationLog.Append).
type SyncOperation struct {
	ClientTimestamp time.Time       `json:"client_timestamp"`
	ID              string          `json:"id"`
	EntityType      string          `json:"entity_type"`
	EntityID        string          `json:"entity_id"`
	Kind            OperationKind   `json:"kind"`
	Checksum        string          `json:"checksum"` // SHA-256 hex от компактного payload
	DeviceID        string          `json:"device_id"`
	UserID          string          `json:"user_id"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	DeclaredVersion int64           `json:"declared_version"` // версия, которую клиент считает текущей
}

// OperationLogEntry запись журнала операций вместе с исходом обработки.
// Используется историей операций устройства: клиент видит, что сервер
// сделал с каждой отправленной мутацией.
type OperationLogEntry struct {
	ReceivedAt     time.Time     `json:"received_at"`
	Operation      SyncOperation `json:"operation"`
	Outcome        string        `json:"outcome"`
	AppliedVersion int64         `json:"applied_version"`
}

// EntityKey уникальный ключ сущности в рамках пользователя
type EntityKey struct {
	EntityType string
	EntityID   string
}

// Key возвращает ключ сущности, на которую направлена операция
func (op *SyncOperation) Key() EntityKey {
	return EntityKey{EntityType: op.EntityType, EntityID: op.EntityID}
}

// PayloadFields возвращает множество top-level ключей payload операции.
// Используется детектором конфликтов для проверки дизъюнктности
// наборов измененных полей.
func (op *SyncOperation) PayloadFields() (map[string]bool, error) {
	if len(op.Payload) == 0 {
		return map[string]bool{}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(op.Payload, &fields); err != nil {
		return nil, err
	}

	result := make(map[string]bool, len(fields))
	for name := range fields {
		result[name] = true
	}
	return result, nil
}

// Clone создает глубокую копию операции
func (op *SyncOperation) Clone() *SyncOperation {
	payload := make(json.RawMessage, len(op.Payload))
	copy(payload, op.Payload)

	clone := *op
	clone.Payload = payload
	return &clone
}
