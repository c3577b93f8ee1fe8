package checksum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayload_WhitespaceInsensitive(t *testing.T) {
	compact, err := Payload([]byte(`{"a":1,"b":"x"}`))
	require.NoError(t, err)

	spaced, err := Payload([]byte(`{ "a": 1, "b": "x" }`))
	require.NoError(t, err)

	// Форматирование не влияет на чексумму
	assert.Equal(t, compact, spaced)
	assert.Len(t, compact, 64) // SHA-256 hex
}

func TestPayload_EmptyPayload(t *testing.T) {
	sum, err := Payload(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, sum)

	sum2, err := Payload([]byte{})
	require.NoError(t, err)
	assert.Equal(t, sum, sum2)
}

func TestPayload_InvalidJSON(t *testing.T) {
	_, err := Payload([]byte(`{broken`))
	assert.Error(t, err)
}

func TestVerify(t *testing.T) {
	payload := []byte(`{"title":"report"}`)

	sum, err := Payload(payload)
	require.NoError(t, err)

	assert.NoError(t, Verify(payload, sum))
	assert.Error(t, Verify(payload, "deadbeef"))
	assert.Error(t, Verify(payload, ""))

	// Изменение payload ломает проверку
	assert.Error(t, Verify([]byte(`{"title":"other"}`), sum))
}
