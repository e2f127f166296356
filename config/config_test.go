package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/Dipanshu-verma/profilesync"
)

func TestLoad(t *testing.T) {
	t.Setenv("TEST_SYNC_API_KEY", "abc123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(path, []byte(`
listen_addr: ":9090"
store:
  driver: sqlite
  dsn: /tmp/profilesync.db
saga:
  delay: 2s
  sync_retry:
    max_attempts: 5
sync:
  api_key: ${TEST_SYNC_API_KEY}
`), 0o600)
	jtest.RequireNil(t, err)

	cfg, err := Load(path)
	jtest.RequireNil(t, err)

	require.Equal(t, ":9090", cfg.ListenAddr)
	require.Equal(t, LogFormatJSON, cfg.LogFormat)
	require.Equal(t, DriverSQLite, cfg.Store.Driver)
	require.Equal(t, DriverMemory, cfg.Queue.Driver)
	require.Equal(t, 2*time.Second, cfg.Saga.Delay)
	require.Equal(t, time.Minute, cfg.Saga.ActivityTimeout)
	require.Equal(t, 5, cfg.Saga.SyncRetry.MaxAttempts)
	require.Equal(t, time.Second, cfg.Saga.SyncRetry.BaseBackOff)
	require.Equal(t, 3, cfg.Saga.PersistRetry.MaxAttempts)
	require.Equal(t, "abc123", cfg.Sync.APIKey)
	require.Equal(t, "users", cfg.Sync.Resource)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	err = os.WriteFile(path, []byte("store: [not, a, map"), 0o600)
	jtest.RequireNil(t, err)

	_, err = Load(path)
	jtest.Require(t, profilesync.ErrConfiguration, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr bool
	}{
		{
			name:   "defaults",
			modify: func(c *Config) {},
		},
		{
			name:    "unknown log format",
			modify:  func(c *Config) { c.LogFormat = "xml" },
			wantErr: true,
		},
		{
			name:    "unknown store driver",
			modify:  func(c *Config) { c.Store.Driver = "postgres" },
			wantErr: true,
		},
		{
			name:    "mysql without dsn",
			modify:  func(c *Config) { c.Store.Driver = DriverMySQL },
			wantErr: true,
		},
		{
			name: "events on sqlite",
			modify: func(c *Config) {
				c.Store.Driver = DriverSQLite
				c.Store.DSN = "x.db"
				c.Store.Events = true
			},
			wantErr: true,
		},
		{
			name:    "kafka without brokers",
			modify:  func(c *Config) { c.Queue.Driver = DriverKafka },
			wantErr: true,
		},
		{
			name:    "redis roles without addr",
			modify:  func(c *Config) { c.Roles.Driver = DriverRedis },
			wantErr: true,
		},
		{
			name: "redis everywhere",
			modify: func(c *Config) {
				c.Store.Driver = DriverRedis
				c.Queue.Driver = DriverRedis
				c.Roles.Driver = DriverRedis
				c.Redis.Addr = "localhost:6379"
			},
		},
		{
			name:    "base backoff above max",
			modify:  func(c *Config) { c.Saga.SyncRetry.BaseBackOff = time.Minute },
			wantErr: true,
		},
		{
			name:    "negative delay",
			modify:  func(c *Config) { c.Saga.Delay = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.SetDefaults()
			tt.modify(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				jtest.Require(t, profilesync.ErrConfiguration, err)
			} else {
				jtest.RequireNil(t, err)
			}
		})
	}
}
