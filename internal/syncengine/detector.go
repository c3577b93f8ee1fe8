package syncengine

import (
	"github.com/zetra-hq/zetra-sync/internal/models"
)

// Classification результат сравнения операции с текущим серверным состоянием
type Classification int

const (
	// Clean declared version совпадает с серверной, interleaving-записей не было
	Clean Classification = iota
	// ConcurrentConflict обе стороны независимо изменили сущность (non-delete)
	ConcurrentConflict
	// DeleteConflict одна сторона удалила, другая изменила.
	// Всегда уходит в ручное разрешение.
	DeleteConflict
	// NoEntity операция адресует несуществующую сущность
	NoEntity
	// NoopDelete удаление уже удаленной или несуществующей сущности
	NoopDelete
	// FutureVersion клиент заявляет версию выше серверной: протокольная ошибка
	FutureVersion
)

// Classify сравнивает операцию с текущей версией сущности.
// current == nil означает, что сущность никогда не создавалась.
// Функция чистая: никаких побочных эффектов, решение принимается только
// по declared version, виду операции и флагу deleted.
func Classify(op *models.SyncOperation, current *models.EntityVersionRecord) Classification {
	if current == nil {
		switch op.Kind {
		case models.OpCreate:
			return Clean
		case models.OpDelete:
			return NoopDelete
		default:
			return NoEntity
		}
	}

	if op.DeclaredVersion > current.CurrentVersion {
		return FutureVersion
	}

	if current.Deleted {
		// Сервер удалил сущность, клиент продолжает с ней работать
		if op.Kind == models.OpDelete {
			return NoopDelete
		}
		return DeleteConflict
	}

	if op.DeclaredVersion == current.CurrentVersion {
		return Clean
	}

	// declared < current: сервер ушел вперед, пока устройство было offline
	if op.Kind == models.OpDelete {
		// Клиент удаляет то, что сервер успел изменить
		return DeleteConflict
	}

	return ConcurrentConflict
}

// DisjointFields сообщает, не пересекаются ли наборы полей.
// Пустой серверный набор считается пересечением: если мы не можем
// установить, какие поля изменились на сервере (например, версию двигало
// разрешение конфликта, не попадающее в лог операций), автослияние
// небезопасно и конфликт уходит в ручное разрешение.
func DisjointFields(opFields, serverFields map[string]bool) bool {
	if len(serverFields) == 0 {
		return false
	}

	for name := range opFields {
		if serverFields[name] {
			return false
		}
	}
	return true
}
