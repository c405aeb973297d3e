package jsonlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriter_WriteLineAppendsOnePerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteLine(map[string]int{"a": 1}))
	require.NoError(t, w.WriteLine(map[string]int{"a": 2}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines []map[string]int
	for scanner.Scan() {
		var m map[string]int
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &m))
		lines = append(lines, m)
	}
	require.Len(t, lines, 2)
	assert.Equal(t, 1, lines[0]["a"])
	assert.Equal(t, 2, lines[1]["a"])
}
