package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Conversation-Archive/internal/storage/blob"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "archive.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestReconcile_RefusesWithoutPostgres(t *testing.T) {
	path := writeConfig(t, "postgres:\n  enabled: false\nblob:\n  inMemory: true\nlogging:\n  level: error\n")

	_, err := execute(t, "reconcile", "--config", path, "--dry-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres is disabled")
}

func TestReconcile_ReportsHeldBlobDirectory(t *testing.T) {
	dir := t.TempDir()
	held, err := blob.Open(dir, false)
	require.NoError(t, err)
	defer held.Close()

	path := writeConfig(t, "blob:\n  dir: "+dir+"\nlogging:\n  level: error\n")
	_, err = execute(t, "reconcile", "--config", path, "--dry-run")
	require.ErrorIs(t, err, blob.ErrLocked)
	assert.Contains(t, err.Error(), "held by a running archive server")
}

func TestRoot_InvalidConfigFails(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 0\n")

	_, err := execute(t, "reconcile", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid server port")
}

func TestRoot_ListsCommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "serve")
	assert.Contains(t, out, "reconcile")
}
