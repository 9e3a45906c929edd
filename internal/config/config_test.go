package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cardify.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadNilFlagSet(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "cardify.db", cfg.Database.Path)
}

func TestLoadPrecedence(t *testing.T) {
	path := writeFile(t, `
database:
  path: from-file.db
remote:
  base_url: https://cards.example.com/api
  timeout: 5s
sync:
  interval: 1m
  max_retries: 7
log:
  level: debug
`)
	t.Setenv("CARDIFY_SYNC__MAX_RETRIES", "9")
	t.Setenv("CARDIFY_REVIEW__LIMIT", "20")
	t.Setenv("CARDIFY_SRS__RELEARN_DELAY", "30m")

	cfg, err := Load(newFlags(t, "--config", path, "--db", "from-flag.db"))
	require.NoError(t, err)

	assert.Equal(t, "from-flag.db", cfg.Database.Path, "flag beats file")
	assert.Equal(t, "https://cards.example.com/api", cfg.Remote.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Remote.Timeout)
	assert.Equal(t, time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 9, cfg.Sync.MaxRetries, "env beats file")
	assert.Equal(t, 20, cfg.Review.Limit)
	assert.Equal(t, 30*time.Minute, cfg.SRS.RelearnDelay)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched keys keep their defaults.
	assert.Equal(t, 4, cfg.Sync.Parallelism)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
}

func TestLoadConfigFromEnv(t *testing.T) {
	path := writeFile(t, "server:\n  addr: 0.0.0.0:9000\n")
	t.Setenv("CARDIFY_CONFIG", path)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Server.Addr)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{name: "missing file", args: []string{"--config", "/does/not/exist.yaml"}},
		{name: "bad url", args: []string{"--remote", "not a url"}},
		{name: "bad format", args: []string{"--log-format", "xml"}},
		{name: "negative limit", args: []string{"--review-limit", "-1"}},
		{name: "zero parallelism", env: map[string]string{"CARDIFY_SYNC__PARALLELISM": "0"}},
		{name: "backoff max below base", env: map[string]string{"CARDIFY_SYNC__BACKOFF_MAX": "1ms"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(newFlags(t, tt.args...))
			assert.Error(t, err)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "sync.max_retries", envKey("CARDIFY_SYNC__MAX_RETRIES"))
	assert.Equal(t, "database.path", envKey("CARDIFY_DATABASE__PATH"))
	assert.Equal(t, "", envKey("CARDIFY_CONFIG"))
}
