package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/chrissnell/alphastep/internal/log"
	"github.com/chrissnell/alphastep/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "alphastep.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestOpenStore(t *testing.T) {
	log.InitNop()
	ctx := context.Background()

	dsn := filepath.Join(t.TempDir(), "runs.db")
	store, err := OpenStore(ctx, config.NewYAMLProvider(writeConfig(t, "storage:\n  driver: sqlite\n  dsn: "+dsn+"\n")))
	require.NoError(t, err)
	require.NotNil(t, store)
	assert.NoError(t, store.Ping(ctx))
	require.NoError(t, store.Close())

	store, err = OpenStore(ctx, config.NewYAMLProvider(writeConfig(t, "analysis:\n  dt: 0.01\n")))
	require.NoError(t, err)
	assert.Nil(t, store)

	_, err = OpenStore(ctx, config.NewYAMLProvider(writeConfig(t, "storage:\n  driver: mysql\n  dsn: x\n")))
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	log.InitNop()
	path := writeConfig(t, "analysis:\n  dt: 0.01\nserver:\n  listen_addr: 127.0.0.1\n  port: 18573\n")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(config.NewYAMLProvider(path), log.GetSugaredLogger()).Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
