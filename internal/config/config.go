package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the server, worker and seeder.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	Queue    QueueConfig    `yaml:"queue"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	SES      SESConfig      `yaml:"ses"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Addr        string   `yaml:"addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	CORSOrigins []string `yaml:"cors_origins"`
	// RequestsPerSecond is the per-IP API limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Name         string `yaml:"name"`
	SSLMode      string `yaml:"sslmode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// DSN returns URL when set, otherwise a postgres URL built from the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     c.Name,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

type AMQPConfig struct {
	// URL is optional; without it dead letters are only logged.
	URL             string `yaml:"url"`
	DeadLetterQueue string `yaml:"dead_letter_queue"`
}

type QueueConfig struct {
	Driver            string `yaml:"driver"` // redis or memory
	Name              string `yaml:"name"`
	Attempts          int    `yaml:"attempts"`
	PollIntervalMS    int    `yaml:"poll_interval_ms"`
	VisibilitySeconds int    `yaml:"visibility_seconds"`
}

func (c QueueConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c QueueConfig) Visibility() time.Duration {
	return time.Duration(c.VisibilitySeconds) * time.Second
}

type DispatchConfig struct {
	SendsPerSecond int    `yaml:"sends_per_second"`
	DefaultSender  string `yaml:"default_sender"`
	// Transport is smtp, ses or log.
	Transport      string `yaml:"transport"`
	DedupTTLMinute int    `yaml:"dedup_ttl_minutes"`
}

func (c DispatchConfig) DedupTTL() time.Duration {
	return time.Duration(c.DedupTTLMinute) * time.Minute
}

type SMTPConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	RequireTLS bool   `yaml:"require_tls"`
}

type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// Load reads the YAML file at path and applies defaults. A missing file is
// not an error; defaults and environment variables still apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.setDefaults()
	return &cfg, nil
}

func (cfg *Config) setDefaults() {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{"*"}
	}
	if cfg.Server.RequestsPerSecond == 0 {
		cfg.Server.RequestsPerSecond = 10
	}
	if cfg.Server.Burst == 0 {
		cfg.Server.Burst = 20
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.AMQP.DeadLetterQueue == "" {
		cfg.AMQP.DeadLetterQueue = "campaign_dispatch_dead"
	}
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = "redis"
	}
	if cfg.Queue.Name == "" {
		cfg.Queue.Name = "campaign_dispatch"
	}
	if cfg.Queue.Attempts == 0 {
		cfg.Queue.Attempts = 5
	}
	if cfg.Queue.PollIntervalMS == 0 {
		cfg.Queue.PollIntervalMS = 500
	}
	if cfg.Queue.VisibilitySeconds == 0 {
		cfg.Queue.VisibilitySeconds = 120
	}
	if cfg.Dispatch.SendsPerSecond == 0 {
		cfg.Dispatch.SendsPerSecond = 5
	}
	if cfg.Dispatch.Transport == "" {
		cfg.Dispatch.Transport = "log"
	}
	if cfg.Dispatch.DefaultSender == "" {
		cfg.Dispatch.DefaultSender = "no-reply@localhost"
	}
	if cfg.Dispatch.DedupTTLMinute == 0 {
		cfg.Dispatch.DedupTTLMinute = 60
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-east-1"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// LoadFromEnv loads a .env file if present, then the YAML file, then
// applies environment variable overrides.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v := os.Getenv(key)
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
		return nil
	}

	str("HTTP_ADDR", &cfg.Server.Addr)
	str("METRICS_ADDR", &cfg.Server.MetricsAddr)
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}

	str("DATABASE_URL", &cfg.Database.URL)
	str("DB_HOST", &cfg.Database.Host)
	str("DB_USER", &cfg.Database.User)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Name)
	str("DB_SSLMODE", &cfg.Database.SSLMode)

	str("REDIS_URL", &cfg.Redis.URL)
	str("AMQP_URL", &cfg.AMQP.URL)
	str("AMQP_DEAD_LETTER_QUEUE", &cfg.AMQP.DeadLetterQueue)

	str("QUEUE_DRIVER", &cfg.Queue.Driver)
	str("QUEUE_NAME", &cfg.Queue.Name)

	str("DEFAULT_SENDER", &cfg.Dispatch.DefaultSender)
	str("DISPATCH_TRANSPORT", &cfg.Dispatch.Transport)

	str("SMTP_HOST", &cfg.SMTP.Host)
	str("SMTP_USERNAME", &cfg.SMTP.Username)
	str("SMTP_PASSWORD", &cfg.SMTP.Password)

	str("AWS_SES_REGION", &cfg.SES.Region)
	str("AWS_SES_ACCESS_KEY", &cfg.SES.AccessKey)
	str("AWS_SES_SECRET_KEY", &cfg.SES.SecretKey)
	str("AWS_SES_CONFIGURATION_SET", &cfg.SES.ConfigurationSet)

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)

	for key, dst := range map[string]*int{
		"DB_PORT":           &cfg.Database.Port,
		"SENDER_RPS":        &cfg.Dispatch.SendsPerSecond,
		"DISPATCH_ATTEMPTS": &cfg.Queue.Attempts,
		"SMTP_PORT":         &cfg.SMTP.Port,
	} {
		if err := num(key, dst); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
