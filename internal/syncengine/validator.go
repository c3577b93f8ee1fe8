package syncengine

import (
	"errors"
	"fmt"

	"github.com/zetra-hq/zetra-sync/internal/checksum"
	"github.com/zetra-hq/zetra-sync/internal/models"
	"github.com/zetra-hq/zetra-sync/internal/validation"
)

// Ошибки валидации операций. Все они становятся per-operation ошибками
// в результате батча и никогда не роняют батч целиком.
var (
	// ErrChecksumMismatch payload поврежден при передаче, клиент должен
	// переотправить операцию со свежим payload
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrFutureVersion клиент заявляет версию выше серверной
	ErrFutureVersion = errors.New("declared version is ahead of server")
)

// ValidateOperation выполняет чистую проверку операции перед обработкой:
// структурная корректность и целостность payload. Версионные проверки
// выполняет Classify, здесь их нет.
func ValidateOperation(op *models.SyncOperation) error {
	if err := validation.ValidateOperation(op); err != nil {
		return err
	}

	if err := checksum.Verify(op.Payload, op.Checksum); err != nil {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, err)
	}

	return nil
}
