package models

import (
	"encoding/json"
	"time"
)

// EntityVersionRecord представляет авторитативное серверное состояние сущности.
// Ровно одна запись на (user_id, entity_type, entity_id). CurrentVersion
// монотонно растет: каждое успешное применение операции увеличивает его
// ровно на 1 через compare-and-swap по версии, никогда не уменьшается.
type EntityVersionRecord struct {
	LastModifiedAt time.Time       `json:"last_modified_at"`
	CreatedAt      time.Time       `json:"created_at"`
	UserID         string          `json:"user_id"`
	EntityType     string          `json:"entity_type"`
	EntityID       string          `json:"entity_id"`
	LastModifiedBy string          `json:"last_modified_by"` // device id последнего писателя
	Payload        json.RawMessage `json:"payload"`          // текущий снимок полей сущности
	CurrentVersion int64           `json:"current_version"`
	Deleted        bool            `json:"deleted"` // soft delete
}

// Key возвращает ключ сущности
func (r *EntityVersionRecord) Key() EntityKey {
	return EntityKey{EntityType: r.EntityType, EntityID: r.EntityID}
}

// Clone создает глубокую копию записи
func (r *EntityVersionRecord) Clone() *EntityVersionRecord {
	payload := make(json.RawMessage, len(r.Payload))
	copy(payload, r.Payload)

	clone := *r
	clone.Payload = payload
	return &clone
}

// MergePayload накладывает поля overlay поверх текущего снимка и возвращает
// новый payload. Поля, отсутствующие в overlay, сохраняют серверные значения.
func (r *EntityVersionRecord) MergePayload(overlay json.RawMessage) (json.RawMessage, error) {
	base := map[string]json.RawMessage{}
	if len(r.Payload) > 0 {
		if err := json.Unmarshal(r.Payload, &base); err != nil {
			return nil, err
		}
	}

	patch := map[string]json.RawMessage{}
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &patch); err != nil {
			return nil, err
		}
	}

	for name, value := range patch {
		base[name] = value
	}

	return json.Marshal(base)
}
