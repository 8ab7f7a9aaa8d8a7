package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds all client configuration.
type Config struct {
	Backend     BackendConfig     `mapstructure:"backend"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Sync        SyncConfig        `mapstructure:"sync"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type BackendConfig struct {
	URL     string `mapstructure:"url"`
	AnonKey string `mapstructure:"anon_key"`
}

type StorageConfig struct {
	Bucket string `mapstructure:"bucket"`
}

// PersistenceConfig selects the local key-value backend holding the
// persisted session snapshot.
type PersistenceConfig struct {
	Driver string      `mapstructure:"driver"` // memory, file, sqlite, redis
	Path   string      `mapstructure:"path"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type SyncConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`    // empty disables the file sink
	MaxAge int    `mapstructure:"max_age"` // days of rotated files to keep
}

// Load reads configuration from file and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Storage
	v.SetDefault("storage.bucket", "documents")

	// Persistence
	v.SetDefault("persistence.driver", "file")
	v.SetDefault("persistence.path", defaultStatePath())
	v.SetDefault("persistence.redis.host", "localhost")
	v.SetDefault("persistence.redis.port", 6379)
	v.SetDefault("persistence.redis.db", 0)
	v.SetDefault("persistence.redis.prefix", "roommate")

	// Sync
	v.SetDefault("sync.poll_interval", "30s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_age", 7)
}

func bindEnvVars(v *viper.Viper) {
	// Backend
	v.BindEnv("backend.url", "SUPABASE_URL")
	v.BindEnv("backend.anon_key", "SUPABASE_ANON_KEY")

	// Storage
	v.BindEnv("storage.bucket", "STORAGE_BUCKET")

	// Persistence
	v.BindEnv("persistence.driver", "PERSISTENCE_DRIVER")
	v.BindEnv("persistence.path", "PERSISTENCE_PATH")
	v.BindEnv("persistence.redis.password", "REDIS_PASSWORD")
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".roommate/state.json"
	}
	return home + "/.roommate/state.json"
}
