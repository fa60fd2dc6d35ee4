package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"StreamPull/pkg/streams"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Backend types accepted by backend.type.
const (
	BackendNone       = "none"
	BackendKafka      = "kafka"
	BackendClickHouse = "clickhouse"
)

// Environment variables that override YAML values.
const (
	EnvAPIKey     = "STREAMS_API_KEY"
	EnvAPISecret  = "STREAMS_API_SECRET"
	EnvBaseURL    = "STREAMS_BASE_URL"
	EnvDecodeMode = "STREAMS_DECODE_MODE"
	EnvBackend    = "BACKEND"
	EnvBrokers    = "KAFKA_BROKERS"
	EnvTopic      = "KAFKA_TOPIC"
)

type Config struct {
	Environment string `yaml:"environment" default:"development" validate:"required"`
	Log         struct {
		Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
		Format string `yaml:"format" default:"console" validate:"oneof=json console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Server struct {
		Port            int           `yaml:"port" default:"8080" validate:"gt=0,lt=65536"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
		RateLimit       struct {
			Capacity     float64 `yaml:"capacity" default:"20"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"5"`
		} `yaml:"rate_limit"`
	} `yaml:"server"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Streams struct {
		BaseURL      string        `yaml:"base_url" default:"https://api.testnet-dataengine.chain.link" validate:"required,url"`
		WebSocketURL string        `yaml:"websocket_url" default:"wss://ws.testnet-dataengine.chain.link" validate:"omitempty,url"`
		APIKey       string        `yaml:"api_key"`
		APISecret    string        `yaml:"api_secret"`
		DecodeMode   string        `yaml:"decode_mode" default:"full"`
		Timeout      time.Duration `yaml:"timeout" default:"10s"`
		RateLimit    float64       `yaml:"rate_limit" default:"5" validate:"gte=0"`
		RateBurst    int           `yaml:"rate_burst" default:"1" validate:"gte=1"`
		Feeds        []Feed        `yaml:"feeds" validate:"required,min=1,dive"`
	} `yaml:"streams"`
	Stream struct {
		Enabled        bool          `yaml:"enabled"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"5s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"30s"`
	} `yaml:"stream"`
	Poller struct {
		Enabled  bool   `yaml:"enabled" default:"true"`
		Schedule string `yaml:"schedule" default:"@every 30s"`
	} `yaml:"poller"`
	Backend struct {
		Type      string `yaml:"type" default:"none"`
		BatchSize int    `yaml:"batch_size" default:"100" validate:"gte=1"`
	} `yaml:"backend"`
	Kafka struct {
		Brokers      []string `yaml:"brokers"`
		Topic        string   `yaml:"topic" default:"streams.reports"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"1s"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			Enabled    bool          `yaml:"enabled"`
			GroupID    string        `yaml:"group_id" default:"streampull-ingest"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"10"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"10000"`
			MaxBytes   int           `yaml:"max_bytes" default:"10000000"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"streampull"`
		Table            string        `yaml:"table" default:"reports"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
	} `yaml:"clickhouse"`
	Cache struct {
		Enabled       bool          `yaml:"enabled" default:"true"`
		TTL           time.Duration `yaml:"ttl" default:"5s"`
		MemoryMaxSize int           `yaml:"memory_max_size" default:"1000"`
		Redis         struct {
			Enabled  bool   `yaml:"enabled"`
			Host     string `yaml:"host" default:"localhost"`
			Port     int    `yaml:"port" default:"6379"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Prefix   string `yaml:"prefix" default:"streampull"`
		} `yaml:"redis"`
	} `yaml:"cache"`
	Backfill struct {
		Enabled    bool          `yaml:"enabled"`
		Workers    int           `yaml:"workers" default:"2" validate:"gte=0"`
		RetryLimit int           `yaml:"retry_limit" default:"3" validate:"gte=0"`
		RetryDelay time.Duration `yaml:"retry_delay" default:"10s"`
		MaxTasks   int           `yaml:"max_tasks" default:"1440" validate:"gte=1"`
		KeyPrefix  string        `yaml:"key_prefix" default:"streampull:backfill"`
	} `yaml:"backfill"`
}

// Feed is one configured price symbol.
type Feed struct {
	Symbol      string  `yaml:"symbol" validate:"required"`
	FeedID      string  `yaml:"feed_id" validate:"required,len=66,startswith=0x,hexadecimal"`
	ExpectedMin float64 `yaml:"expected_min" validate:"gte=0"`
	ExpectedMax float64 `yaml:"expected_max" validate:"gte=0"`
}

var validate = validator.New()

// Parse decodes YAML on top of the struct defaults. It does not validate.
func Parse(b []byte) (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("set defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &c, nil
}

// Load reads and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML, applies environment overrides and validates.
func LoadWithEnv(path string) (*Config, error) {
	c, err := read(path)
	if err != nil {
		return nil, err
	}
	c.ApplyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func read(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// ApplyEnv overrides fields from the environment lookup function.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvAPIKey); v != "" {
		c.Streams.APIKey = v
	}
	if v := getenv(EnvAPISecret); v != "" {
		c.Streams.APISecret = v
	}
	if v := getenv(EnvBaseURL); v != "" {
		c.Streams.BaseURL = v
	}
	if v := getenv(EnvDecodeMode); v != "" {
		c.Streams.DecodeMode = v
	}
	if v := getenv(EnvBackend); v != "" {
		c.Backend.Type = v
	}
	if v := getenv(EnvBrokers); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv(EnvTopic); v != "" {
		c.Kafka.Topic = v
	}
}

// Validate checks if the configuration is valid. Missing credentials wrap
// streams.ErrConfiguration.
func (c *Config) Validate() error {
	if c.Streams.APIKey == "" || c.Streams.APISecret == "" {
		return fmt.Errorf("%w: set %s and %s", streams.ErrConfiguration, EnvAPIKey, EnvAPISecret)
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := streams.ParseMode(c.Streams.DecodeMode); err != nil {
		return fmt.Errorf("streams.decode_mode: %w", err)
	}

	switch c.Backend.Type {
	case BackendNone:
	case BackendKafka:
		if len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "" {
			return fmt.Errorf("backend.type kafka requires kafka.brokers and kafka.topic")
		}
	case BackendClickHouse:
		if c.ClickHouse.Host == "" {
			return fmt.Errorf("backend.type clickhouse requires clickhouse.host")
		}
	default:
		return fmt.Errorf("backend.type must be 'none', 'kafka' or 'clickhouse', got '%s'", c.Backend.Type)
	}

	if c.Kafka.Consumer.Enabled && (len(c.Kafka.Brokers) == 0 || c.ClickHouse.Host == "") {
		return fmt.Errorf("kafka.consumer requires kafka.brokers and clickhouse.host")
	}
	if c.Backfill.Enabled && (!c.Cache.Redis.Enabled || c.Backend.Type == BackendNone) {
		return fmt.Errorf("backfill.enabled requires cache.redis.enabled and a backend other than none")
	}
	if c.Stream.Enabled && c.Streams.WebSocketURL == "" {
		return fmt.Errorf("stream.enabled requires streams.websocket_url")
	}

	seen := make(map[string]bool, len(c.Streams.Feeds))
	for _, f := range c.Streams.Feeds {
		if seen[f.Symbol] {
			return fmt.Errorf("streams.feeds: duplicate symbol %s", f.Symbol)
		}
		seen[f.Symbol] = true
		if f.ExpectedMax > 0 && f.ExpectedMax < f.ExpectedMin {
			return fmt.Errorf("streams.feeds: %s expected_max below expected_min", f.Symbol)
		}
	}
	return nil
}

// Mode returns the configured decode mode.
func (c *Config) Mode() streams.Mode {
	m, _ := streams.ParseMode(c.Streams.DecodeMode)
	return m
}

// NeedsClickHouse reports whether any component writes to or reads from ClickHouse.
func (c *Config) NeedsClickHouse() bool {
	return c.Backend.Type == BackendClickHouse || c.Kafka.Consumer.Enabled
}

// NeedsKafkaProducer reports whether decoded reports are published to Kafka.
func (c *Config) NeedsKafkaProducer() bool {
	return c.Backend.Type == BackendKafka
}
