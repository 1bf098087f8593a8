package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"LinePulse/internal/services/autotune"
	"LinePulse/internal/services/baseline"
	"LinePulse/internal/services/classifier"
	"LinePulse/internal/services/fusion"
	"LinePulse/internal/services/history"
	"LinePulse/internal/services/patterns"
	"LinePulse/internal/services/simulation"
	"LinePulse/internal/usecase"
	"LinePulse/pkg/postgres"
)

// Store backends.
const (
	BackendMemory          = "memory"
	BackendRedis           = "redis"
	BackendPostgres        = "postgres"
	BackendRedisClickHouse = "redis+clickhouse"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LINEPULSE_"

type Config struct {
	Environment string           `yaml:"environment" default:"development"`
	Server      ServerConfig     `yaml:"server"`
	Log         LogConfig        `yaml:"log"`
	Metrics     MetricsConfig    `yaml:"metrics"`
	Store       StoreConfig      `yaml:"store"`
	Redis       RedisConfig      `yaml:"redis"`
	ClickHouse  ClickHouseConfig `yaml:"clickhouse"`
	Postgres    postgres.Config  `yaml:"postgres"`
	Kafka       KafkaConfig      `yaml:"kafka"`
	WebSocket   WebSocketConfig  `yaml:"websocket"`
	Engine      EngineConfig     `yaml:"engine"`
}

type ServerConfig struct {
	Host            string        `yaml:"host" default:"0.0.0.0"`
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"15s"`
	SlowThreshold   time.Duration `yaml:"slow_threshold" default:"500ms"`
	CORS            bool          `yaml:"cors" default:"true"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info"`
	Format string `yaml:"format" default:"json"`
	Output string `yaml:"output" default:"stdout"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" default:"true"`
	Path    string `yaml:"path" default:"/metrics"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend" default:"memory"`
	MaxLogSize int    `yaml:"max_log_size" default:"50000"`
	MaxPerKey  int    `yaml:"max_per_key" default:"1000"`
	Migrate    bool   `yaml:"migrate" default:"true"`
}

type RedisConfig struct {
	Host         string        `yaml:"host" default:"localhost"`
	Port         int           `yaml:"port" default:"6379"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size" default:"10"`
	MinIdleConns int           `yaml:"min_idle_conns" default:"2"`
	PoolTimeout  time.Duration `yaml:"pool_timeout" default:"30s"`
	DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout  time.Duration `yaml:"read_timeout" default:"3s"`
	WriteTimeout time.Duration `yaml:"write_timeout" default:"3s"`
	Prefix       string        `yaml:"prefix" default:"linepulse"`
}

type ClickHouseConfig struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"default"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time"`
}

type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	CasesTopic    string   `yaml:"cases_topic" default:"linepulse.cases"`
	OutcomesTopic string   `yaml:"outcomes_topic" default:"linepulse.outcomes"`
	RequiredAcks  int      `yaml:"required_acks" default:"-1"`
	Compression   string   `yaml:"compression" default:"gzip"`
	Producer      struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"3"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"linepulse"`
		Offset     string        `yaml:"auto_offset_reset" default:"earliest"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"64"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
		DLQTopic   string        `yaml:"dlq_topic"`
	} `yaml:"consumer"`
	// Pipeline buffers case events between the analyzer and the producer.
	Pipeline struct {
		BufferSize int           `yaml:"buffer_size" default:"1000"`
		MaxRetries int           `yaml:"max_retries" default:"5"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
	} `yaml:"pipeline"`
}

type WebSocketConfig struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	Heartbeat      time.Duration `yaml:"heartbeat" default:"30s"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// EngineConfig holds the tunables of every analysis stage.
type EngineConfig struct {
	Baseline   baseline.Config        `yaml:"baseline"`
	Simulator  simulation.Config      `yaml:"simulator"`
	Patterns   patterns.Config        `yaml:"patterns"`
	History    history.Config         `yaml:"history"`
	Autotune   autotune.Config        `yaml:"autotune"`
	Classifier classifier.Config      `yaml:"classifier"`
	Analyzer   usecase.AnalyzerConfig `yaml:"analyzer"`
	// Profiles are merged over the default profile; zero values inherit.
	Profiles []fusion.Profile `yaml:"profiles"`
	// Seed makes the simulator deterministic when non-zero.
	Seed uint64 `yaml:"seed"`
}

// Default returns a configuration with every default applied.
func Default() (*Config, error) {
	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	return &c, nil
}

// Load applies defaults, then the YAML file (when path is not empty),
// then LINEPULSE_* environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	c, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) error {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		return nil
	}

	str("ENV", &c.Environment)
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("STORE_BACKEND", &c.Store.Backend)
	str("REDIS_HOST", &c.Redis.Host)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("CLICKHOUSE_HOST", &c.ClickHouse.Host)
	str("CLICKHOUSE_PASSWORD", &c.ClickHouse.Password)
	str("POSTGRES_HOST", &c.Postgres.Host)
	str("POSTGRES_PASSWORD", &c.Postgres.Password)

	if v, ok := lookup(EnvPrefix + "KAFKA_BROKERS"); ok && v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}

	return errors.Join(
		num("HTTP_PORT", &c.Server.Port),
		num("REDIS_PORT", &c.Redis.Port),
		num("CLICKHOUSE_PORT", &c.ClickHouse.Port),
		num("POSTGRES_PORT", &c.Postgres.Port),
	)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment == "" {
		errs = append(errs, errors.New("environment is required"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	switch c.Store.Backend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendRedisClickHouse:
	default:
		errs = append(errs, fmt.Errorf("store.backend must be one of %s, %s, %s, %s; got %q",
			BackendMemory, BackendRedis, BackendPostgres, BackendRedisClickHouse, c.Store.Backend))
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		errs = append(errs, errors.New("kafka.brokers required when kafka is enabled"))
	}

	e := c.Engine
	if e.Baseline.DefaultAlpha <= 0 || e.Baseline.DefaultAlpha >= 1 {
		errs = append(errs, fmt.Errorf("engine.baseline.default_alpha must be in (0,1): %v", e.Baseline.DefaultAlpha))
	}
	if e.Autotune.Lower >= e.Autotune.Upper {
		errs = append(errs, fmt.Errorf("engine.autotune.lower (%v) must be below upper (%v)", e.Autotune.Lower, e.Autotune.Upper))
	}
	if e.Autotune.Every <= 0 {
		errs = append(errs, errors.New("engine.autotune.every must be positive"))
	}
	if e.Analyzer.SimulationWeight < 0 || e.Analyzer.SimulationWeight > 1 {
		errs = append(errs, fmt.Errorf("engine.analyzer.simulation_weight must be in [0,1]: %v", e.Analyzer.SimulationWeight))
	}
	if e.Patterns.BlendWeight < 0 || e.Patterns.BlendWeight > 1 {
		errs = append(errs, fmt.Errorf("engine.patterns.blend_weight must be in [0,1]: %v", e.Patterns.BlendWeight))
	}

	return errors.Join(errs...)
}
