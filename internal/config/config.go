package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// The values are read by Viper from a config file or environment variables.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Sync     SyncConfig     `mapstructure:"sync"`
	Device   DeviceConfig   `mapstructure:"device"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	URI  string `mapstructure:"uri"`
	Name string `mapstructure:"name"`
	// Transactions requires MongoDB running as a replica set. Disable for a
	// standalone server; mutations then fall back to ordered writes.
	Transactions bool `mapstructure:"transactions"`
}

// RemoteConfig selects the sync backend. Mode "none" keeps the product
// fully local; "s3" pushes snapshots to the configured bucket.
type RemoteConfig struct {
	Mode string   `mapstructure:"mode"`
	S3   S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
	KeyPrefix       string `mapstructure:"key_prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

// JWTConfig defines JWT specific configuration.
type JWTConfig struct {
	Secret     string        `mapstructure:"secret"`
	Expiration time.Duration `mapstructure:"expiration"`
}

// SyncConfig tunes the sync engine and its background runner.
type SyncConfig struct {
	// Interval between background push cycles.
	Interval time.Duration `mapstructure:"interval"`
	// DrainLimit caps how many outbox items one push cycle takes on.
	DrainLimit int `mapstructure:"drain_limit"`
	// Parallelism caps how many users the runner pushes concurrently.
	Parallelism int `mapstructure:"parallelism"`
	// StaleAttempts is the attempt count at which an undeliverable item is
	// flagged in logs and diagnostics. Items are never dropped.
	StaleAttempts int `mapstructure:"stale_attempts"`
}

// DeviceConfig identifies this installation in mutation stamps. An empty ID
// gets a generated one at startup.
type DeviceConfig struct {
	ID string `mapstructure:"id"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Environment variables override file values, e.g. database.uri becomes
	// DATABASE_URI and sync.drain_limit becomes SYNC_DRAIN_LIMIT.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(`.`, `_`))

	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("database.uri", "mongodb://localhost:27017")
	viper.SetDefault("database.name", "profile_sync")
	viper.SetDefault("database.transactions", false)
	viper.SetDefault("remote.mode", "none")
	viper.SetDefault("remote.s3.use_ssl", true)
	viper.SetDefault("jwt.expiration", "1h")
	viper.SetDefault("sync.interval", "5m")
	viper.SetDefault("sync.drain_limit", 50)
	viper.SetDefault("sync.parallelism", 4)
	viper.SetDefault("sync.stale_attempts", 10)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")

	err = viper.ReadInConfig()
	if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		// No file is fine; defaults and env vars carry the config.
		err = nil
	} else if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	return config, nil
}
