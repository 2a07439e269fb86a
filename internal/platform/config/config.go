package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	strutil "regsync/pkg/platform/strings"
)

// EnvPrefix namespaces environment overrides, e.g. REGSYNC_DATABASE_URL.
const EnvPrefix = "REGSYNC"

// Config is the full runtime configuration of the sync service.
type Config struct {
	HTTP     HTTPConfig     `mapstructure:"http"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Registry RegistryConfig `mapstructure:"registry"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Codec    CodecConfig    `mapstructure:"codec"`
	Matching MatchingConfig `mapstructure:"matching"`
}

// HTTPConfig captures the status/ops HTTP listener.
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type DatabaseConfig struct {
	URL          string `mapstructure:"url"`
	SourceTable  string `mapstructure:"source_table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// RedisConfig configures the optional search cache. An empty URL disables it.
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig configures the review event publisher. No brokers means
// review events are only logged.
type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	ReviewTopic string   `mapstructure:"review_topic"`
	Partitions  int32    `mapstructure:"partitions"`
}

type RegistryConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ClientID         string        `mapstructure:"client_id"`
	ClientSecret     string        `mapstructure:"client_secret"`
	Timeout          time.Duration `mapstructure:"timeout"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

type PollerConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batch_size"`
}

type RetryConfig struct {
	Interval  time.Duration `mapstructure:"interval"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
	BatchSize int           `mapstructure:"batch_size"`
}

type CodecConfig struct {
	Key string `mapstructure:"key"`
}

type MatchingConfig struct {
	RulesPath string `mapstructure:"rules_path"`
}

var defaults = map[string]any{
	"http.addr":                  ":8080",
	"log.level":                  "info",
	"log.format":                 "json",
	"database.url":               "",
	"database.source_table":      "source_records",
	"database.max_open_conns":    10,
	"database.max_idle_conns":    5,
	"redis.url":                  "",
	"redis.pool_size":            10,
	"redis.min_idle_conns":       2,
	"redis.dial_timeout":         5 * time.Second,
	"redis.read_timeout":         3 * time.Second,
	"redis.write_timeout":        3 * time.Second,
	"redis.cache_ttl":            time.Minute,
	"kafka.brokers":              []string{},
	"kafka.review_topic":         "regsync.review",
	"kafka.partitions":           1,
	"registry.base_url":          "",
	"registry.client_id":         "",
	"registry.client_secret":     "",
	"registry.timeout":           10 * time.Second,
	"registry.failure_threshold": 5,
	"registry.breaker_cooldown":  30 * time.Second,
	"poller.interval":            30 * time.Second,
	"poller.batch_size":          100,
	"retry.interval":             5 * time.Minute,
	"retry.cooldown":             5 * time.Minute,
	"retry.batch_size":           50,
	"codec.key":                  "",
	"matching.rules_path":        "",
}

// Load reads configuration from an optional YAML file at path, then applies
// REGSYNC_* environment overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Kafka.Brokers = strutil.DedupeAndTrim(cfg.Kafka.Brokers)
	return &cfg, nil
}

// Validate checks the settings every command that touches the database needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if c.Database.SourceTable == "" {
		errs = append(errs, errors.New("database.source_table is required"))
	}
	if c.Poller.BatchSize <= 0 {
		errs = append(errs, errors.New("poller.batch_size must be positive"))
	}
	if c.Poller.Interval <= 0 {
		errs = append(errs, errors.New("poller.interval must be positive"))
	}
	if c.Retry.BatchSize <= 0 {
		errs = append(errs, errors.New("retry.batch_size must be positive"))
	}
	if c.Retry.Interval <= 0 {
		errs = append(errs, errors.New("retry.interval must be positive"))
	}
	if c.Retry.Cooldown < 0 {
		errs = append(errs, errors.New("retry.cooldown must not be negative"))
	}
	if _, err := c.Codec.KeyBytes(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// KeyBytes returns the symmetric codec key. The configured value is either
// exactly 32 raw bytes or the standard base64 encoding of 32 bytes.
func (c CodecConfig) KeyBytes() ([]byte, error) {
	switch {
	case c.Key == "":
		return nil, errors.New("codec.key is required")
	case len(c.Key) == 32:
		return []byte(c.Key), nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Key)
	if err != nil {
		return nil, fmt.Errorf("codec.key is neither 32 raw bytes nor base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("codec.key decodes to %d bytes, want 32", len(key))
	}
	return key, nil
}
