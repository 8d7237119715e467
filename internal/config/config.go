package config

import (
	"fmt"
	"os"
	"strings"

	yaml "github.com/goccy/go-yaml"

	"sagaflow/internal/alert"
	"sagaflow/internal/retry"
	"sagaflow/internal/saga"
	"sagaflow/internal/store/postgres"
	"sagaflow/internal/supervisor"
)

// Store backends the daemon can persist instances to.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
)

type Config struct {
	API        APIConfig         `yaml:"api"`
	Supervisor supervisor.Config `yaml:"supervisor"`
	Store      StoreConfig       `yaml:"store"`
	Redis      RedisConfig       `yaml:"redis"`
	Postgres   postgres.Config   `yaml:"postgres"`
	Alerts     alert.KafkaConfig `yaml:"alerts"`
	Sagas      []saga.Definition `yaml:"sagas"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.API.Addr) == "" {
		c.API.Addr = ":8080"
	}
	if c.Supervisor.PoolSize <= 0 {
		c.Supervisor.PoolSize = supervisor.DefaultConfig().PoolSize
	}
	if strings.TrimSpace(c.Store.Backend) == "" {
		c.Store.Backend = StoreMemory
	}
	def := saga.DefaultPolicy()
	for i := range c.Sagas {
		for j := range c.Sagas[i].Steps {
			p := &c.Sagas[i].Steps[j].Policy
			if p.Timeout <= 0 {
				p.Timeout = def.Timeout
			}
			if p.MaxAttempts <= 0 {
				p.MaxAttempts = def.MaxAttempts
			}
			if p.Backoff == (retry.Config{}) {
				p.Backoff = def.Backoff
			}
		}
	}
}

// AlertsEnabled reports whether a Kafka alert publisher is configured.
func (c Config) AlertsEnabled() bool {
	return len(c.Alerts.Brokers) > 0
}

func (c Config) ValidateForDaemon() error {
	if strings.TrimSpace(c.API.Addr) == "" {
		return fmt.Errorf("api.addr is required")
	}
	if err := c.Supervisor.Validate(); err != nil {
		return fmt.Errorf("supervisor: %w", err)
	}
	switch c.Store.Backend {
	case StoreMemory:
	case StoreRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required")
		}
	case StorePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.backend %q is not one of memory, redis, postgres", c.Store.Backend)
	}
	if c.AlertsEnabled() {
		if err := c.Alerts.Validate(); err != nil {
			return err
		}
	}
	if len(c.Sagas) == 0 {
		return fmt.Errorf("at least one saga definition is required")
	}
	for _, def := range c.Sagas {
		if err := def.Validate(); err != nil {
			return err
		}
	}
	return nil
}
