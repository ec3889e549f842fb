package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMongo, cfg.Store.Driver)
	assert.Equal(t, 8, cfg.Polls.MaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.Equal(t, "./uploads", cfg.Storage.Path)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("POLL_RETRY_MAX_WAIT", "1s")
	t.Setenv("REALTIME_CLIENT_BUFFER", "not-a-number")
	t.Setenv("REDIS_ENABLED", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, time.Second, cfg.Polls.MaxWait)
	assert.Equal(t, 256, cfg.Realtime.ClientBuffer)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forum.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  driver: postgres
polls:
  max_attempts: 3
  initial_wait: 20ms
redis:
  port: 6380
`), 0o600))

	t.Setenv("FORUM_CONFIG_FILE", path)
	t.Setenv("POLL_MAX_ATTEMPTS", "5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, 5, cfg.Polls.MaxAttempts, "env wins over the file")
	assert.Equal(t, 20*time.Millisecond, cfg.Polls.InitialWait)
	assert.Equal(t, 250*time.Millisecond, cfg.Polls.MaxWait, "defaults survive keys the file omits")
	assert.Equal(t, "localhost:6380", cfg.Redis.Addr())
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		write   bool
	}{
		{name: "missing file"},
		{name: "malformed yaml", content: "store: [driver", write: true},
		{name: "bad duration", content: "polls:\n  max_wait: soon\n", write: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "forum.yaml")
			if tt.write {
				require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			}
			t.Setenv("FORUM_CONFIG_FILE", path)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
