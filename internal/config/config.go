// Package config loads storagecore's process-wide Config from a YAML file
// plus environment variables, trimmed from the teacher's viper-based
// deployment config down to the sections this module's components
// actually consume.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/vitaliisemenov/storagecore/internal/lock"
	"github.com/vitaliisemenov/storagecore/internal/quota"
	"github.com/vitaliisemenov/storagecore/internal/synckv"
	"github.com/vitaliisemenov/storagecore/pkg/logger"
)

// Config is the top-level configuration tree.
type Config struct {
	Storage  StorageConfig  `mapstructure:"storage"`
	SyncKV   SyncKVConfig   `mapstructure:"sync_kv"`
	Quota    QuotaConfig    `mapstructure:"quota"`
	Lock     LockConfig     `mapstructure:"lock"`
	Security SecurityConfig `mapstructure:"security"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// StorageConfig locates the indexed (bbolt) store file.
type StorageConfig struct {
	FilesystemPath string `mapstructure:"filesystem_path"`
}

// SyncKVConfig holds the Redis connection settings for the sync-kv store.
type SyncKVConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

func (c SyncKVConfig) toSynckv() *synckv.Config {
	return &synckv.Config{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		DialTimeout:  c.DialTimeout,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// ToSynckvConfig returns the *synckv.Config this section describes.
func (c SyncKVConfig) ToSynckvConfig() *synckv.Config { return c.toSynckv() }

// QuotaConfig mirrors quota.Config for the tier-threshold/poll-interval
// knobs the QuotaManager exposes.
type QuotaConfig struct {
	WarningThreshold  float64       `mapstructure:"warning_threshold"`
	CriticalThreshold float64       `mapstructure:"critical_threshold"`
	FallbackQuota     int64         `mapstructure:"fallback_quota"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// ToQuotaConfig returns the quota.Config this section describes.
func (c QuotaConfig) ToQuotaConfig() quota.Config {
	return quota.Config{
		WarningThreshold:  c.WarningThreshold,
		CriticalThreshold: c.CriticalThreshold,
		FallbackQuota:     c.FallbackQuota,
		PollInterval:      c.PollInterval,
	}
}

// LockConfig mirrors lock.Config for the PriorityLockManager.
type LockConfig struct {
	TTL            time.Duration `mapstructure:"ttl"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
}

// ToLockConfig returns the *lock.Config this section describes.
func (c LockConfig) ToLockConfig() *lock.Config {
	return &lock.Config{
		TTL:            c.TTL,
		AcquireTimeout: c.AcquireTimeout,
		MaxRetries:     c.MaxRetries,
		RetryInterval:  c.RetryInterval,
	}
}

// SecurityConfig controls the SecurityCoordinator's init policy.
type SecurityConfig struct {
	RequireSecureContext bool `mapstructure:"require_secure_context"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ToLoggerConfig returns the logger.Config this section describes.
func (c LogConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		Filename:   c.Filename,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
		Compress:   c.Compress,
	}
}

// MetricsConfig controls the Prometheus exposition endpoint storagectl
// serves.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// Load reads configuration from configPath (if non-empty and present)
// then environment variables (SYNC_KV_ADDR, STORAGE_FILESYSTEM_PATH,
// etc. via "_"-joined keys), applies defaults for anything unset, and
// validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.filesystem_path", "./data/storagecore.db")

	v.SetDefault("sync_kv.addr", "localhost:6379")
	v.SetDefault("sync_kv.password", "")
	v.SetDefault("sync_kv.db", 0)
	v.SetDefault("sync_kv.pool_size", 10)
	v.SetDefault("sync_kv.dial_timeout", "5s")
	v.SetDefault("sync_kv.read_timeout", "3s")
	v.SetDefault("sync_kv.write_timeout", "3s")

	v.SetDefault("quota.warning_threshold", 0.80)
	v.SetDefault("quota.critical_threshold", 0.95)
	v.SetDefault("quota.fallback_quota", 1<<30) // 1 GiB
	v.SetDefault("quota.poll_interval", "60s")

	v.SetDefault("lock.ttl", "30s")
	v.SetDefault("lock.acquire_timeout", "30s")
	v.SetDefault("lock.max_retries", 5)
	v.SetDefault("lock.retry_interval", "100ms")

	v.SetDefault("security.require_secure_context", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.filename", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)
}

// Validate checks the fields that have no sane zero-value fallback.
func (c *Config) Validate() error {
	if c.Storage.FilesystemPath == "" {
		return fmt.Errorf("storage.filesystem_path cannot be empty")
	}
	if c.SyncKV.Addr == "" {
		return fmt.Errorf("sync_kv.addr cannot be empty")
	}
	if c.Quota.WarningThreshold <= 0 || c.Quota.WarningThreshold >= 1 {
		return fmt.Errorf("quota.warning_threshold must be in (0, 1): got %f", c.Quota.WarningThreshold)
	}
	if c.Quota.CriticalThreshold <= c.Quota.WarningThreshold || c.Quota.CriticalThreshold >= 1 {
		return fmt.Errorf("quota.critical_threshold must be in (warning_threshold, 1): got %f", c.Quota.CriticalThreshold)
	}
	if c.Log.Level == "" {
		return fmt.Errorf("log.level cannot be empty")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
	}
	return nil
}
