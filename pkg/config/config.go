package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"

	"FinCast/pkg/logger"
)

type Config struct {
	Environment string        `yaml:"environment" default:"development"`
	Server      Server        `yaml:"server"`
	Logger      logger.Config `yaml:"logger"`
	LogDigest   struct {
		Enabled       bool          `yaml:"enabled"`
		Topic         string        `yaml:"topic" default:"fincast.logs"`
		FlushInterval time.Duration `yaml:"flush_interval" default:"30s"`
		MaxEntries    int           `yaml:"max_entries" default:"100"`
	} `yaml:"log_digest"`
	Metrics struct {
		Enabled bool   `yaml:"enabled" default:"true"`
		Path    string `yaml:"path" default:"/metrics"`
	} `yaml:"metrics"`
	Model      Model      `yaml:"model"`
	Training   Training   `yaml:"training"`
	Prediction Prediction `yaml:"prediction"`
	MarketData MarketData `yaml:"market_data"`
	Redis      Redis      `yaml:"redis"`
	Queue      Queue      `yaml:"queue"`
	Jobs       struct {
		StatusTTL time.Duration `yaml:"status_ttl" default:"24h"`
		RateLimit struct {
			Capacity     float64 `yaml:"capacity" default:"3"`
			RefillPerSec float64 `yaml:"refill_per_sec" default:"0.05"`
		} `yaml:"rate_limit"`
	} `yaml:"jobs"`
	Records    Records    `yaml:"records"`
	Kafka      Kafka      `yaml:"kafka"`
	ClickHouse ClickHouse `yaml:"clickhouse"`
}

type Server struct {
	Port            int           `yaml:"port" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"20s"`
	SlowRequest     time.Duration `yaml:"slow_request" default:"2s"`
}

// Model holds the network architecture and where trained artifacts live.
type Model struct {
	Dir            string  `yaml:"dir" default:"ml/saved_models"`
	SequenceLength int     `yaml:"sequence_length" default:"60"`
	Units          int     `yaml:"units" default:"50"`
	DenseUnits     int     `yaml:"dense_units" default:"25"`
	Dropout        float64 `yaml:"dropout" default:"0.2"`
	Seed           int64   `yaml:"seed" default:"42"`
	VersionPrefix  string  `yaml:"version_prefix" default:"LSTM_v1"`
}

type Training struct {
	Period            string  `yaml:"period" default:"2y"`
	TrainSplit        float64 `yaml:"train_split" default:"0.8"`
	Epochs            int     `yaml:"epochs" default:"100"`
	BatchSize         int     `yaml:"batch_size" default:"32"`
	LearningRate      float64 `yaml:"learning_rate" default:"0.001"`
	EarlyStopPatience int     `yaml:"early_stop_patience" default:"15"`
	LRPatience        int     `yaml:"lr_patience" default:"10"`
	LRFactor          float64 `yaml:"lr_factor" default:"0.5"`
	MinLR             float64 `yaml:"min_lr" default:"0.0000001"`
	Workers           int     `yaml:"workers" default:"0"`
}

type Prediction struct {
	Period       string  `yaml:"period" default:"3mo"`
	InfoPeriod   string  `yaml:"info_period" default:"3mo"`
	Confidence   float64 `yaml:"confidence" default:"0.85"`
	MaxDaysAhead int     `yaml:"max_days_ahead" default:"30"`
}

type MarketData struct {
	Provider   string        `yaml:"provider" default:"yahoo"` // yahoo | clickhouse
	BaseURL    string        `yaml:"base_url" default:"https://query1.finance.yahoo.com"`
	Timeout    time.Duration `yaml:"timeout" default:"15s"`
	AutoAdjust bool          `yaml:"auto_adjust" default:"true"`
	UserAgent  string        `yaml:"user_agent" default:"Mozilla/5.0 (compatible; FinCast/1.0)"`
	CacheTTL   time.Duration `yaml:"cache_ttl" default:"5m"`
	CacheSize  int           `yaml:"cache_size" default:"256"`
	BarsTable  string        `yaml:"bars_table" default:"daily_bars"`
}

type Redis struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size" default:"10"`
	Prefix   string `yaml:"prefix" default:"fincast"`
}

type Queue struct {
	Backend    string `yaml:"backend" default:"memory"` // memory | redis
	Name       string `yaml:"name" default:"training"`
	Workers    int    `yaml:"workers" default:"1"`
	BufferSize int    `yaml:"buffer_size" default:"64"`
}

type Records struct {
	Enabled    bool   `yaml:"enabled" default:"true"`
	Backend    string `yaml:"backend" default:"direct"` // direct | kafka
	Store      string `yaml:"store" default:"sqlite"`   // sqlite | clickhouse
	SQLitePath string `yaml:"sqlite_path" default:"data/predictions.db"`
}

type Kafka struct {
	Brokers      []string `yaml:"brokers" default:"[\"localhost:9092\"]"`
	Topic        string   `yaml:"topic" default:"fincast.predictions"`
	RequiredAcks int      `yaml:"required_acks" default:"-1"`
	Compression  string   `yaml:"compression" default:"snappy"`
	Producer     struct {
		MaxAttempts  int           `yaml:"max_attempts" default:"5"`
		Linger       time.Duration `yaml:"linger" default:"50ms"`
		BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
		BatchSize    int           `yaml:"batch_size" default:"100"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		Async        bool          `yaml:"async"`
	} `yaml:"producer"`
	Consumer struct {
		GroupID    string        `yaml:"group_id" default:"fincast-records"`
		Workers    int           `yaml:"workers" default:"2"`
		BufferSize int           `yaml:"buffer_size" default:"256"`
		RetryMax   int           `yaml:"retry_max" default:"3"`
		BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
		BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
		DLQTopic   string        `yaml:"dlq_topic" default:"fincast.predictions.dlq"`
		MinBytes   int           `yaml:"min_bytes" default:"1"`
		MaxBytes   int           `yaml:"max_bytes" default:"10485760"`
	} `yaml:"consumer"`
}

type ClickHouse struct {
	Host             string        `yaml:"host" default:"localhost"`
	Port             int           `yaml:"port" default:"9000"`
	Database         string        `yaml:"database" default:"fincast"`
	User             string        `yaml:"user" default:"default"`
	Password         string        `yaml:"password"`
	UseHTTP          bool          `yaml:"use_http"`
	AsyncInsert      bool          `yaml:"async_insert"`
	WaitForAsync     bool          `yaml:"wait_for_async_insert"`
	DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
	ReadTimeout      time.Duration `yaml:"read_timeout" default:"30s"`
	WriteTimeout     time.Duration `yaml:"write_timeout" default:"30s"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"60s"`
}

// Default returns a configuration populated only from struct defaults.
func Default() *Config {
	var c Config
	if err := defaults.Set(&c); err != nil {
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return &c
}

// Load reads and parses a YAML configuration file on top of the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML bytes on top of the defaults and validates the result.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}
	c.applyEnv(os.Getenv)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return c, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("FINCAST_ENV"); v != "" {
		c.Environment = v
	}
	if v := getenv("FINCAST_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Server.Port = p
		}
	}
	if v := getenv("FINCAST_MODEL_DIR"); v != "" {
		c.Model.Dir = v
	}
	if v := getenv("FINCAST_MARKET_PROVIDER"); v != "" {
		c.MarketData.Provider = v
	}
	if v := getenv("FINCAST_RECORDS_BACKEND"); v != "" {
		c.Records.Backend = v
	}
	if v := getenv("FINCAST_QUEUE_BACKEND"); v != "" {
		c.Queue.Backend = v
	}
	if v := getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := getenv("KAFKA_TOPIC"); v != "" {
		c.Kafka.Topic = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		host, port, ok := strings.Cut(v, ":")
		c.Redis.Enabled = true
		c.Redis.Host = host
		if ok {
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
	if v := getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
}

// Validate checks cross-field rules the defaults cannot express.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Model.SequenceLength < 1 {
		return fmt.Errorf("model.sequence_length must be positive, got %d", c.Model.SequenceLength)
	}
	if c.Model.Units < 1 || c.Model.DenseUnits < 1 {
		return fmt.Errorf("model.units and model.dense_units must be positive")
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return fmt.Errorf("model.dropout must be in [0,1), got %v", c.Model.Dropout)
	}
	if c.Training.TrainSplit <= 0 || c.Training.TrainSplit > 1 {
		return fmt.Errorf("training.train_split must be in (0,1], got %v", c.Training.TrainSplit)
	}
	if c.Training.Epochs < 1 || c.Training.BatchSize < 1 {
		return fmt.Errorf("training.epochs and training.batch_size must be positive")
	}
	if c.Prediction.Confidence < 0 || c.Prediction.Confidence > 1 {
		return fmt.Errorf("prediction.confidence must be in [0,1], got %v", c.Prediction.Confidence)
	}
	switch c.MarketData.Provider {
	case "yahoo", "clickhouse":
	default:
		return fmt.Errorf("market_data.provider must be 'yahoo' or 'clickhouse', got '%s'", c.MarketData.Provider)
	}
	switch c.Queue.Backend {
	case "memory":
	case "redis":
		if !c.Redis.Enabled {
			return fmt.Errorf("queue.backend 'redis' requires redis.enabled")
		}
	default:
		return fmt.Errorf("queue.backend must be 'memory' or 'redis', got '%s'", c.Queue.Backend)
	}
	if c.Records.Backend != "direct" && c.Records.Backend != "kafka" {
		return fmt.Errorf("records.backend must be 'direct' or 'kafka', got '%s'", c.Records.Backend)
	}
	if c.Records.Store != "sqlite" && c.Records.Store != "clickhouse" {
		return fmt.Errorf("records.store must be 'sqlite' or 'clickhouse', got '%s'", c.Records.Store)
	}
	if c.Records.Backend == "kafka" && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when records.backend is 'kafka'")
	}
	return nil
}
