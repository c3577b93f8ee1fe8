package checksum

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Payload вычисляет SHA-256 чексумму payload операции.
// JSON предварительно компактируется, чтобы чексумма не зависела от
// whitespace-форматирования на пути клиент -> сервер.
// Пустой payload (delete-операции) дает чексумму пустой строки.
func Payload(payload []byte) (string, error) {
	if len(payload) == 0 {
		sum := sha256.Sum256(nil)
		return hex.EncodeToString(sum[:]), nil
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, payload); err != nil {
		return "", fmt.Errorf("failed to compact payload: %w", err)
	}

	sum := sha256.Sum256(compact.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// Verify проверяет, что declared совпадает с чексуммой payload.
// Используется сервером для отбраковки поврежденных при передаче операций.
func Verify(payload []byte, declared string) error {
	if declared == "" {
		return fmt.Errorf("checksum is empty")
	}

	computed, err := Payload(payload)
	if err != nil {
		return fmt.Errorf("failed to compute checksum: %w", err)
	}

	if computed != declared {
		return fmt.Errorf("checksum mismatch: declared %s, computed %s", declared, computed)
	}

	return nil
}
