package iocli

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStdio строит Stdio с подмененными потоками: ввод приходит из
// пайпа, вывод собирается из пайпа чтением
func testStdio(t *testing.T, input string) (*Stdio, func() string) {
	t.Helper()

	inR, inW, err := os.Pipe()
	require.NoError(t, err)
	outR, outW, err := os.Pipe()
	require.NoError(t, err)

	go func() {
		_, _ = inW.WriteString(input)
		_ = inW.Close()
	}()

	s := &Stdio{in: inR, out: outW}

	readOut := func() string {
		_ = outW.Close()
		data, err := io.ReadAll(outR)
		require.NoError(t, err)
		return string(data)
	}
	return s, readOut
}

func TestStdio_ReadInputTrimsWhitespace(t *testing.T) {
	s, readOut := testStdio(t, "  alice \n")

	got, err := s.ReadInput("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	// Prompt ушел в вывод
	assert.Contains(t, readOut(), "Username: ")
}

func TestStdio_ReadInputEOF(t *testing.T) {
	s, _ := testStdio(t, "no newline")

	_, err := s.ReadInput("> ")
	assert.Error(t, err)
}

func TestStdio_WriteAndPrint(t *testing.T) {
	s, readOut := testStdio(t, "")

	n, err := s.Write([]byte("raw"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	s.Println("line")
	s.Printf("fmt %d", 7)

	out := readOut()
	assert.Contains(t, out, "raw")
	assert.Contains(t, out, "line\n")
	assert.Contains(t, out, "fmt 7")
}
