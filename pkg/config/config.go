package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"SnipeFlow/internal/domain/models"
)

// Config is the full application configuration. Constructed once at
// startup and treated as immutable thereafter.
type Config struct {
	Environment string `yaml:"environment" validate:"required"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"log"`
	Exchange struct {
		WebSocketURL      string        `yaml:"websocket_url" validate:"required"`
		RESTBaseURL       string        `yaml:"rest_base_url" validate:"required"`
		APIKey            string        `yaml:"api_key"`
		APISecret         string        `yaml:"api_secret"`
		Symbols           []string      `yaml:"symbols"`
		ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"10s"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval" default:"20s"`
		RequestTimeout    time.Duration `yaml:"request_timeout" default:"10s"`
		Reconnect         struct {
			MaxAttempts int           `yaml:"max_attempts" default:"10"`
			BaseDelay   time.Duration `yaml:"base_delay" default:"500ms"`
			MaxDelay    time.Duration `yaml:"max_delay" default:"30s"`
			Jitter      float64       `yaml:"jitter" default:"0.2"`
		} `yaml:"reconnect"`
	} `yaml:"exchange"`
	Detection struct {
		NearReadyBar       float64       `yaml:"near_ready_bar" default:"70" validate:"gte=0,lte=100"`
		PriceMoveThreshold float64       `yaml:"price_move_threshold_pct" default:"5"`
		PriceCheckInterval time.Duration `yaml:"price_check_interval" default:"30s"`
		RetriggerIdentical bool          `yaml:"retrigger_identical"`
		ActivityThresholds struct {
			Ps float64 `yaml:"ps" default:"50"`
			Qs float64 `yaml:"qs" default:"50"`
			Ca float64 `yaml:"ca" default:"1000"`
		} `yaml:"activity_thresholds"`
		CacheMaxSymbols int           `yaml:"cache_max_symbols" default:"2000"`
		CacheTTL        time.Duration `yaml:"cache_ttl" default:"1h"`
		EventBuffer     int           `yaml:"event_buffer" default:"256"`
	} `yaml:"detection"`
	Risk struct {
		MaxScore        float64 `yaml:"max_score" default:"75" validate:"gte=0,lte=100"`
		PerPositionCap  float64 `yaml:"per_position_cap_usdt" default:"500"`
		PortfolioCap    float64 `yaml:"portfolio_cap_usdt" default:"5000"`
		DefaultSizeUSDT float64 `yaml:"default_size_usdt" default:"100"`
	} `yaml:"risk"`
	Executor struct {
		MaxRetries     int           `yaml:"max_retries" default:"3" validate:"gte=1"`
		RetryDelay     time.Duration `yaml:"retry_delay" default:"1s"`
		QuoteAsset     string        `yaml:"quote_asset" default:"USDT"`
		PriceDeviation float64       `yaml:"price_deviation_warn_pct" default:"5"`
		Paper          struct {
			Enabled            bool    `yaml:"enabled"`
			SuccessProbability float64 `yaml:"success_probability" default:"0.95" validate:"gte=0,lte=1"`
			SlippagePct        float64 `yaml:"slippage_pct" default:"0.1"`
		} `yaml:"paper"`
	} `yaml:"executor"`
	Emergency struct {
		MaxConcurrent int                        `yaml:"max_concurrent" default:"3" validate:"gte=1"`
		AutoRecovery  bool                       `yaml:"auto_recovery" default:"true"`
		Protocols     []models.EmergencyProtocol `yaml:"protocols"`
	} `yaml:"emergency"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		AlertTopic   string   `yaml:"alert_topic" default:"snipeflow.alerts"`
		PatternTopic string   `yaml:"pattern_topic" default:"snipeflow.patterns"`
		CommandTopic string   `yaml:"command_topic" default:"snipeflow.commands"`
		RequiredAcks int      `yaml:"required_acks" default:"-1"`
		Compression  string   `yaml:"compression" default:"gzip"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"snipeflow-ops"`
			Workers    int           `yaml:"workers" default:"1"`
			BufferSize int           `yaml:"buffer_size" default:"32"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"50ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"2s"`
			DLQTopic   string        `yaml:"dlq_topic"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled      bool          `yaml:"enabled"`
		Host         string        `yaml:"host" default:"localhost"`
		Port         int           `yaml:"port" default:"9000"`
		Database     string        `yaml:"database" default:"snipeflow"`
		User         string        `yaml:"user" default:"default"`
		Password     string        `yaml:"password"`
		DialTimeout  time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout  time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout time.Duration `yaml:"write_timeout" default:"10s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Addr     string `yaml:"addr" default:"localhost:6379"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix" default:"snipeflow"`
	} `yaml:"redis"`
}

// Load reads, defaults, parses and validates a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("EXCHANGE_API_KEY"); v != "" {
		c.Exchange.APIKey = v
	}
	if v := os.Getenv("EXCHANGE_API_SECRET"); v != "" {
		c.Exchange.APISecret = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Exchange.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}

	return c, nil
}

// Validate checks struct tags plus cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	if c.Risk.PerPositionCap > c.Risk.PortfolioCap {
		return fmt.Errorf("risk.per_position_cap_usdt exceeds portfolio cap")
	}
	seen := make(map[string]bool, len(c.Emergency.Protocols))
	for _, p := range c.Emergency.Protocols {
		if p.ID == "" {
			return fmt.Errorf("emergency protocol without id")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate emergency protocol id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}
