package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/ucw/internal/config"
)

func TestHostCommand(t *testing.T) {
	assert.Equal(t, []string{"npx", "server"}, hostCommand([]string{"npx", "server"}))
	assert.Equal(t, []string{"npx", "server"}, hostCommand([]string{"--", "npx", "server"}))
	assert.Empty(t, hostCommand([]string{"--"}))
	assert.Empty(t, hostCommand(nil))
}

func TestOpenStore_SQLiteCreatesDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := &config.Config{}
	cfg.Storage.StorageEngine = "sqlite"
	cfg.Storage.DataPath = dir

	store, err := openStore(cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.FileExists(t, filepath.Join(dir, "ucw.db"))
}

func TestOpenStore_UnknownEngine(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.StorageEngine = "mongodb"

	_, err := openStore(cfg)
	assert.Error(t, err)
}
