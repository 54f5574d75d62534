package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatch_ReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	w, err := Watch(ctx, path, func(cfg *Config) { changes <- cfg }, func(error) {})
	require.NoError(t, err)
	defer w.Close()

	updated := sampleYAML + "\n"
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	select {
	case cfg := <-changes:
		require.NotNil(t, cfg)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a reload within 2s of the file write")
	}
}

func TestWatch_InvalidReloadReportsErrorWithoutCrashing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agentloom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errs := make(chan error, 4)
	w, err := Watch(ctx, path, func(*Config) {}, func(e error) { errs <- e })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("agents:\n  - description: missing id\n"), 0o644))

	select {
	case e := <-errs:
		require.Error(t, e)
	case <-time.After(2 * time.Second):
		t.Fatal("expected a validation error within 2s of the invalid write")
	}
}
