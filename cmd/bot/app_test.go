package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PositionSentinel/internal/scheduler"
)

func writeMockConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "position.json")
	if backend == "bolt" {
		storePath = filepath.Join(dir, "position.db")
	}
	body := fmt.Sprintf(`
data_source:
  provider: mock
schedule:
  interval: 1h
store:
  backend: %s
  path: %s
database:
  sqlite_path: %s
`, backend, storePath, filepath.Join(dir, "journal.db"))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestRunTick(t *testing.T) {
	for _, backend := range []string{"file", "bolt"} {
		t.Run(backend, func(t *testing.T) {
			cfgPath := writeMockConfig(t, backend)

			var out bytes.Buffer
			require.NoError(t, runTick(context.Background(), cfgPath, &out))

			var st scheduler.Status
			require.NoError(t, json.Unmarshal(out.Bytes(), &st))
			assert.False(t, st.Running)
			assert.Greater(t, st.LastPrice, 0.0)
			assert.False(t, st.LastTickAt.IsZero())
		})
	}
}

func TestPrintStatus_Empty(t *testing.T) {
	cfgPath := writeMockConfig(t, "file")

	var out bytes.Buffer
	require.NoError(t, printStatus(cfgPath, 5, &out))
	assert.Contains(t, out.String(), "No open position.")
	assert.Contains(t, out.String(), "No journal trades.")
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger:\n  mode: live\n"), 0644))

	_, err := loadConfig(path)
	assert.ErrorContains(t, err, "ledger.mode")
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "tick", "status"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}
