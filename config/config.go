package config

import (
	"os"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"gopkg.in/yaml.v3"

	"github.com/Dipanshu-verma/profilesync"
	"github.com/Dipanshu-verma/profilesync/adapters/httpsync"
)

const (
	defaultListenAddr       = ":8080"
	defaultLogFormat        = LogFormatJSON
	defaultStoreDriver      = DriverMemory
	defaultQueueDriver      = DriverMemory
	defaultRolesDriver      = DriverLocal
	defaultKafkaTopic       = "profilesync-tasks"
	defaultDelay            = 10 * time.Second
	defaultActivityTimeout  = time.Minute
	defaultLeaseGrace       = 5 * time.Second
	defaultPollingFrequency = 500 * time.Millisecond
	defaultRecoverySchedule = "@every 30s"
	defaultConcurrency      = 10
	defaultMaxAttempts      = 3
	defaultBaseBackOff      = time.Second
	defaultMaxBackOff       = 30 * time.Second
)

const (
	DriverMemory = "memory"
	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
	DriverKafka  = "kafka"
	DriverLocal  = "local"
)

const (
	LogFormatJSON     = "json"
	LogFormatJettison = "jettison"
)

type Config struct {
	ListenAddr string          `yaml:"listen_addr"`
	Debug      bool            `yaml:"debug"`
	LogFormat  string          `yaml:"log_format"`
	Store      StoreConfig     `yaml:"store"`
	Queue      QueueConfig     `yaml:"queue"`
	Roles      RolesConfig     `yaml:"roles"`
	Redis      RedisConfig     `yaml:"redis"`
	Saga       SagaConfig      `yaml:"saga"`
	Worker     WorkerConfig    `yaml:"worker"`
	Sync       httpsync.Config `yaml:"sync"`
}

// StoreConfig selects where runs and profiles are kept. The redis driver only holds runs. Its profiles are kept in
// SQLite when a DSN is set and in memory otherwise.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	// DSN is the MySQL data source name or the SQLite file path.
	DSN string `yaml:"dsn"`
	// Events inserts a reflex event for every run status change. MySQL only.
	Events bool `yaml:"events"`
}

type QueueConfig struct {
	Driver  string   `yaml:"driver"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// RolesConfig selects how replicas agree on which one runs the wake poller and the recovery sweep.
type RolesConfig struct {
	Driver string `yaml:"driver"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SagaConfig struct {
	Delay            time.Duration `yaml:"delay"`
	ActivityTimeout  time.Duration `yaml:"activity_timeout"`
	LeaseGrace       time.Duration `yaml:"lease_grace"`
	PollingFrequency time.Duration `yaml:"polling_frequency"`
	RecoverySchedule string        `yaml:"recovery_schedule"`
	PersistRetry     RetryConfig   `yaml:"persist_retry"`
	SyncRetry        RetryConfig   `yaml:"sync_retry"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseBackOff time.Duration `yaml:"base_backoff"`
	MaxBackOff  time.Duration `yaml:"max_backoff"`
}

func (r RetryConfig) Policy() profilesync.RetryPolicy {
	return profilesync.RetryPolicy{
		MaxAttempts: r.MaxAttempts,
		BaseBackOff: r.BaseBackOff,
		MaxBackOff:  r.MaxBackOff,
	}
}

type WorkerConfig struct {
	Concurrency int `yaml:"concurrency"`
}

// SetDefaults fills every optional field that was left empty.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.LogFormat == "" {
		c.LogFormat = defaultLogFormat
	}
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = defaultQueueDriver
	}
	if c.Queue.Topic == "" {
		c.Queue.Topic = defaultKafkaTopic
	}
	if c.Roles.Driver == "" {
		c.Roles.Driver = defaultRolesDriver
	}
	if c.Saga.Delay == 0 {
		c.Saga.Delay = defaultDelay
	}
	if c.Saga.ActivityTimeout == 0 {
		c.Saga.ActivityTimeout = defaultActivityTimeout
	}
	if c.Saga.LeaseGrace == 0 {
		c.Saga.LeaseGrace = defaultLeaseGrace
	}
	if c.Saga.PollingFrequency == 0 {
		c.Saga.PollingFrequency = defaultPollingFrequency
	}
	if c.Saga.RecoverySchedule == "" {
		c.Saga.RecoverySchedule = defaultRecoverySchedule
	}
	c.Saga.PersistRetry.setDefaults()
	c.Saga.SyncRetry.setDefaults()
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = defaultConcurrency
	}
	if c.Sync.BaseURL == "" {
		c.Sync.BaseURL = httpsync.DefaultBaseURL
	}
	if c.Sync.Resource == "" {
		c.Sync.Resource = httpsync.DefaultResource
	}
}

func (r *RetryConfig) setDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = defaultMaxAttempts
	}
	if r.BaseBackOff == 0 {
		r.BaseBackOff = defaultBaseBackOff
	}
	if r.MaxBackOff == 0 {
		r.MaxBackOff = defaultMaxBackOff
	}
}

// Validate checks the configuration after defaults have been applied. A missing sync api key is not an error here
// since the sync client reports it on construction.
func (c *Config) Validate() error {
	switch c.LogFormat {
	case LogFormatJSON, LogFormatJettison:
	default:
		return invalid("unknown log format", j.MKV{"log_format": c.LogFormat})
	}

	switch c.Store.Driver {
	case DriverMemory, DriverRedis:
	case DriverMySQL, DriverSQLite:
		if c.Store.DSN == "" {
			return invalid("store dsn is required", j.MKV{"driver": c.Store.Driver})
		}
	default:
		return invalid("unknown store driver", j.MKV{"driver": c.Store.Driver})
	}

	if c.Store.Events && c.Store.Driver != DriverMySQL {
		return invalid("store events require the mysql driver", j.MKV{"driver": c.Store.Driver})
	}

	switch c.Queue.Driver {
	case DriverMemory, DriverRedis:
	case DriverKafka:
		if len(c.Queue.Brokers) == 0 {
			return invalid("kafka brokers are required")
		}
	default:
		return invalid("unknown queue driver", j.MKV{"driver": c.Queue.Driver})
	}

	switch c.Roles.Driver {
	case DriverLocal, DriverRedis:
	default:
		return invalid("unknown roles driver", j.MKV{"driver": c.Roles.Driver})
	}

	usesRedis := c.Store.Driver == DriverRedis || c.Queue.Driver == DriverRedis || c.Roles.Driver == DriverRedis
	if usesRedis && c.Redis.Addr == "" {
		return invalid("redis addr is required")
	}

	if c.Saga.Delay < 0 {
		return invalid("delay must not be negative")
	}
	if c.Saga.ActivityTimeout <= 0 {
		return invalid("activity timeout must be positive")
	}
	if c.Saga.PollingFrequency <= 0 {
		return invalid("polling frequency must be positive")
	}
	for name, r := range map[string]RetryConfig{"persist_retry": c.Saga.PersistRetry, "sync_retry": c.Saga.SyncRetry} {
		if r.MaxAttempts < 1 {
			return invalid("max attempts must be at least 1", j.MKV{"policy": name})
		}
		if r.BaseBackOff > r.MaxBackOff {
			return invalid("base backoff must not exceed max backoff", j.MKV{"policy": name})
		}
	}
	if c.Worker.Concurrency < 1 {
		return invalid("worker concurrency must be at least 1")
	}

	return nil
}

func invalid(msg string, opts ...j.MKV) error {
	if len(opts) == 0 {
		return errors.Wrap(profilesync.ErrConfiguration, msg)
	}

	return errors.Wrap(profilesync.ErrConfiguration, msg, opts[0])
}

// Load reads the YAML file at path. ${VAR} references are expanded from the environment before parsing so that
// secrets such as the sync api key can be kept out of the file.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "read config", j.MKV{"path": path})
	}

	err = yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg)
	if err != nil {
		return cfg, errors.Wrap(profilesync.ErrConfiguration, "parse config", j.MKV{"path": path, "error": err.Error()})
	}

	cfg.SetDefaults()
	err = cfg.Validate()
	if err != nil {
		return cfg, err
	}

	return cfg, nil
}
