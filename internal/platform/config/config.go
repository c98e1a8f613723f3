package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	JWT        JWTConfig        `mapstructure:"jwt"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Generation GenerationConfig `mapstructure:"generation"`
	PDF        PDFConfig        `mapstructure:"pdf"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustProxyHeaders bool          `mapstructure:"trust_proxy_headers"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type JWTConfig struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
	Issuer         string        `mapstructure:"issuer"`
}

// WindowConfig is one fixed-window threshold.
type WindowConfig struct {
	MaxRequests int           `mapstructure:"max_requests"`
	Window      time.Duration `mapstructure:"window"`
}

type RateLimitConfig struct {
	Store           string                  `mapstructure:"store"` // memory or redis
	Redis           RedisConfig             `mapstructure:"redis"`
	CleanupInterval time.Duration           `mapstructure:"cleanup_interval"`
	Classes         map[string]WindowConfig `mapstructure:"classes"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type GenerationConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	ChatModel  string        `mapstructure:"chat_model"`
	ImageModel string        `mapstructure:"image_model"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Breaker    BreakerConfig `mapstructure:"breaker"`
}

type BreakerConfig struct {
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type PDFConfig struct {
	RendererURL  string        `mapstructure:"renderer_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxHTMLBytes int           `mapstructure:"max_html_bytes"`
}

type StorageConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	UsePathStyle  bool   `mapstructure:"use_path_style"`
	KeyPrefix     string `mapstructure:"key_prefix"`
}

type TasksConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	Workers     int           `mapstructure:"workers"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 2*time.Minute)
	v.SetDefault("server.idle_timeout", time.Minute)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.path", "data/zyphon.db")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", 15*time.Minute)
	v.SetDefault("jwt.issuer", "zyphon")

	v.SetDefault("rate_limit.store", "memory")
	v.SetDefault("rate_limit.redis.addr", "")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.prefix", "zyphon:ratelimit:")
	v.SetDefault("rate_limit.cleanup_interval", 10*time.Minute)
	v.SetDefault("rate_limit.classes.chat.max_requests", 60)
	v.SetDefault("rate_limit.classes.chat.window", time.Minute)
	v.SetDefault("rate_limit.classes.image.max_requests", 10)
	v.SetDefault("rate_limit.classes.image.window", time.Hour)
	v.SetDefault("rate_limit.classes.pdf.max_requests", 30)
	v.SetDefault("rate_limit.classes.pdf.window", time.Hour)
	v.SetDefault("rate_limit.classes.design.max_requests", 20)
	v.SetDefault("rate_limit.classes.design.window", time.Hour)

	v.SetDefault("generation.base_url", "https://api.openai.com")
	v.SetDefault("generation.api_key", "")
	v.SetDefault("generation.chat_model", "gpt-4o-mini")
	v.SetDefault("generation.image_model", "gpt-image-1")
	v.SetDefault("generation.timeout", 2*time.Minute)
	v.SetDefault("generation.breaker.max_requests", 1)
	v.SetDefault("generation.breaker.interval", time.Minute)
	v.SetDefault("generation.breaker.timeout", 30*time.Second)
	v.SetDefault("generation.breaker.failure_ratio", 0.5)
	v.SetDefault("generation.breaker.min_requests", 5)

	v.SetDefault("pdf.renderer_url", "")
	v.SetDefault("pdf.timeout", time.Minute)
	v.SetDefault("pdf.max_html_bytes", 2<<20)

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
	v.SetDefault("storage.public_base_url", "")
	v.SetDefault("storage.key_prefix", "zyphon/images")

	v.SetDefault("tasks.queue_size", 1024)
	v.SetDefault("tasks.workers", 4)
	v.SetDefault("tasks.task_timeout", 5*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads the yaml file at path (skipped when path is empty) and applies
// environment overrides such as RATE_LIMIT_STORE or JWT_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	if err := config.RateLimit.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects classes that could never admit a request or that have no
// window to expire. The chat class is required since unknown classes use it.
func (c RateLimitConfig) Validate() error {
	if _, ok := c.Classes["chat"]; !ok {
		return fmt.Errorf("rate_limit.classes.chat is required")
	}

	names := make([]string, 0, len(c.Classes))
	for name := range c.Classes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		w := c.Classes[name]
		if w.MaxRequests <= 0 {
			return fmt.Errorf("rate_limit.classes.%s.max_requests must be positive, got %d", name, w.MaxRequests)
		}
		if w.Window <= 0 {
			return fmt.Errorf("rate_limit.classes.%s.window must be positive, got %s", name, w.Window)
		}
	}
	return nil
}

// Class returns the window for an endpoint class. Unknown classes get the
// chat window.
func (c RateLimitConfig) Class(name string) WindowConfig {
	if w, ok := c.Classes[name]; ok {
		return w
	}
	return c.Classes["chat"]
}
