// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the core node.
// The mapstructure tags are used by Viper to unmarshal the data.
type Config struct {
	Batch  BatchConfig  `mapstructure:"batch"`
	Queue  QueueConfig  `mapstructure:"queue"`
	Engine EngineConfig `mapstructure:"engine"`

	NodeID         string        `mapstructure:"node_id"`
	GrpcListenAddr string        `mapstructure:"grpc_listen_addr" validate:"required"`
	HttpListenAddr string        `mapstructure:"http_listen_addr" validate:"required"`
	EtcdEndpoints  []string      `mapstructure:"etcd_endpoints" validate:"dive,hostname_port"`
	EtcdTimeout    time.Duration `mapstructure:"etcd_timeout" validate:"gt=0"`
	RegistryTTL    time.Duration `mapstructure:"registry_ttl" validate:"gte=1s"`

	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat       string        `mapstructure:"log_format" validate:"oneof=json console"`
	StatsSchedule   string        `mapstructure:"stats_schedule" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// BatchConfig controls batch formation.
type BatchConfig struct {
	MaxSize        int           `mapstructure:"max_size" validate:"gte=1"`
	MaxWait        time.Duration `mapstructure:"max_wait" validate:"gte=0"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout" validate:"gte=0"`
}

// QueueConfig controls the dispatch queue. A zero capacity means unbounded.
type QueueConfig struct {
	Capacity int    `mapstructure:"capacity" validate:"gte=0"`
	Overflow string `mapstructure:"overflow" validate:"oneof=reject block"`
}

// EngineConfig selects the batch executor.
type EngineConfig struct {
	Kind           string        `mapstructure:"kind" validate:"oneof=mock http"`
	URL            string        `mapstructure:"url" validate:"required_if=Kind http"`
	BaseLatency    time.Duration `mapstructure:"base_latency" validate:"gte=0"`
	PerItemLatency time.Duration `mapstructure:"per_item_latency" validate:"gte=0"`
	Timeout        time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

// UseEtcd reports whether the node should keep its state in etcd.
func (c *Config) UseEtcd() bool {
	return len(c.EtcdEndpoints) > 0
}

var validate = validator.New()

// Load loads configuration from file and environment variables.
// Environment variables use the ATHENA_ prefix with dots replaced by
// underscores, e.g. ATHENA_BATCH_MAX_SIZE.
func Load() (*Config, error) {
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvPrefix("athena")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// No config file; defaults and env vars are enough.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("batch.max_size", 16)
	v.SetDefault("batch.max_wait", "10ms")
	v.SetDefault("batch.handler_timeout", "0s")

	v.SetDefault("queue.capacity", 0)
	v.SetDefault("queue.overflow", "reject")

	v.SetDefault("engine.kind", "mock")
	v.SetDefault("engine.url", "")
	v.SetDefault("engine.base_latency", "2ms")
	v.SetDefault("engine.per_item_latency", "1ms")
	v.SetDefault("engine.timeout", "15s")

	v.SetDefault("node_id", "")
	v.SetDefault("grpc_listen_addr", ":50051")
	v.SetDefault("http_listen_addr", ":8080")
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("etcd_timeout", "5s")
	v.SetDefault("registry_ttl", "10s")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("stats_schedule", "@every 15s")
	v.SetDefault("shutdown_timeout", "5s")
}
