package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServerMissingFileAppliesSpecDefaults(t *testing.T) {
	cfg, err := LoadServer(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":37687", cfg.Server.Listen)
	require.Equal(t, "storage", cfg.Server.StorageDir)
	require.Equal(t, 8, cfg.Server.Workers)
	require.Equal(t, 1000*time.Millisecond, cfg.Enqueue.Timeout.Duration)
}

func TestLoadServerParsesYAMLAndKeepsOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  listen: ":9999"
  storageDir: "/tmp/store"
  workers: 3
enqueue:
  timeout: "2s"
`), 0o644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.Server.Listen)
	require.Equal(t, "/tmp/store", cfg.Server.StorageDir)
	require.Equal(t, 3, cfg.Server.Workers)
	require.Equal(t, 2*time.Second, cfg.Enqueue.Timeout.Duration)
	// Untouched fields still get their defaults.
	require.Equal(t, ":9090", cfg.HTTP.Listen)
}

func TestLoadServerDefaultsZeroWorkersAndRejectsNegative(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signetd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  workers: 0\n"), 0o644))

	// workers:0 round-trips through YAML as the Go zero value, which
	// applyServerDefaults then promotes to 8 before validation — so a
	// literal zero can never reach validateServer as a failure here.
	// Exercise validateServer directly for the invariant it enforces.
	cfg, err := LoadServer(path)
	require.NoError(t, err)
	require.Equal(t, 8, cfg.Server.Workers)

	bad := ServerConfig{}
	bad.Server.Workers = -1
	bad.Enqueue.Timeout = Duration{Duration: time.Second}
	require.Error(t, validateServer(&bad))
}

func TestEnvExpansionWithDefault(t *testing.T) {
	t.Setenv("SIGNETD_TEST_VAR", "")
	os.Unsetenv("SIGNETD_TEST_VAR")
	require.Equal(t, "fallback", expandEnvDefault("${SIGNETD_TEST_VAR:fallback}"))

	t.Setenv("SIGNETD_TEST_VAR", "set-value")
	require.Equal(t, "set-value", expandEnvDefault("${SIGNETD_TEST_VAR:fallback}"))
}

func TestLoadClientDefaults(t *testing.T) {
	cfg, err := LoadClient(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "localhost:37687", cfg.ServerAddr)
}
