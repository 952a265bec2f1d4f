package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordsAreOneJSONObjectPerLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")
	a, err := New(path)
	require.NoError(t, err)

	a.Info("Order filled for MNQ: buy 2 contracts at 18000.25.")
	a.Warnf("Rule %s breached.", "max_contracts")
	a.Error("Failed to flatten position for MNQ.")
	require.NoError(t, a.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var record map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &record))
		lines = append(lines, record)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 3)

	for _, record := range lines {
		assert.Contains(t, record, "timestamp")
		assert.Contains(t, record, "level")
		assert.Contains(t, record, "message")
	}
	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "Order filled for MNQ: buy 2 contracts at 18000.25.", lines[0]["message"])
	assert.Equal(t, "warning", lines[1]["level"])
	assert.Equal(t, "error", lines[2]["level"])
}

func TestAppendsAcrossReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.ndjson")

	a, err := New(path)
	require.NoError(t, err)
	a.Info("first run")
	require.NoError(t, a.Close())

	b, err := New(path)
	require.NoError(t, err)
	b.Info("second run")
	require.NoError(t, b.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first run")
	assert.Contains(t, string(data), "second run")
}
