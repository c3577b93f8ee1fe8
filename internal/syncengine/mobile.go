package syncengine

import (
	"github.com/zetra-hq/zetra-sync/pkg/api"
)

// DefaultMaxPayloadBytes порог, после которого payload серверного изменения
// урезается в compact-ответе для мобильных клиентов
const DefaultMaxPayloadBytes = 8 * 1024

// CompactChanges формирует облегченную версию дельты для ограниченных
// клиентов: payload крупнее maxPayloadBytes вырезается, а версия и
// чексумма сохраняются, чтобы устройство могло забрать тело позже
// отдельным запросом. Чистая трансформация, входной slice не мутируется.
func CompactChanges(changes []api.ServerChange, maxPayloadBytes int) []api.ServerChange {
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = DefaultMaxPayloadBytes
	}

	compact := make([]api.ServerChange, len(changes))
	for i, change := range changes {
		compact[i] = change
		if len(change.Payload) > maxPayloadBytes {
			compact[i].Payload = nil
			compact[i].PayloadElided = true
		}
	}

	return compact
}
