package decision

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onyxlabs/liqsentinel/internal/jsonlog"
)

func TestRowLogger_LogMiss(t *testing.T) {
	path := filepath.Join(t.TempDir(), "misses.jsonl")
	w, err := jsonlog.Create(path)
	require.NoError(t, err)
	logger := NewRowLogger(w)

	require.NoError(t, logger.LogMiss(MissRow{User: "0xu", Reason: ReasonLateSend, Transient: true}))
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())

	var row MissRow
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
	assert.Equal(t, "miss", row.Type)
	assert.Equal(t, ReasonLateSend, row.Reason)
	assert.True(t, row.Transient)
}
