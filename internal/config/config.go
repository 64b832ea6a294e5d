package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Lock      LockConfig      `yaml:"lock"`
	Engine    EngineConfig    `yaml:"engine"`
	Executors ExecutorsConfig `yaml:"executors"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
	// SeedFile optionally preloads the in-memory instance store.
	SeedFile string `yaml:"seed_file"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port" validate:"gte=1,lte=65535"`
}

// DatabaseConfig holds database connection settings. An empty URL keeps
// everything in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db" validate:"gte=0"`
	KeyPrefix string `yaml:"key_prefix"`
}

// LockConfig selects the evaluation lock backend.
type LockConfig struct {
	Backend     string        `yaml:"backend" validate:"oneof=memory redis"`
	Mode        string        `yaml:"mode" validate:"oneof=fail_fast wait"`
	WaitTimeout time.Duration `yaml:"wait_timeout"`
	TTL         time.Duration `yaml:"ttl"`
	// RenewInterval is how often a held Redis lease is extended. Zero means TTL/3.
	RenewInterval time.Duration `yaml:"renew_interval"`
}

type EngineConfig struct {
	AutoAdvance          bool          `yaml:"auto_advance"`
	DataFetchConcurrency int           `yaml:"data_fetch_concurrency" validate:"gte=1"`
	ActionTimeout        time.Duration `yaml:"action_timeout"`
	NotificationTimeout  time.Duration `yaml:"notification_timeout"`
	TriggerActionTimeout time.Duration `yaml:"trigger_action_timeout"`
}

type ExecutorsConfig struct {
	PythonBin         string        `yaml:"python_bin"`
	PythonTimeout     time.Duration `yaml:"python_timeout"`
	HTTPTimeout       time.Duration `yaml:"http_timeout"`
	HTTPRatePerSecond float64       `yaml:"http_rate_per_second" validate:"gte=0"`
	HTTPBurst         int           `yaml:"http_burst" validate:"gte=0"`
	HTTPMaxAttempts   int           `yaml:"http_max_attempts" validate:"gte=1"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port" validate:"gte=0,lte=65535"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from" validate:"omitempty,email"`
}

type AuditConfig struct {
	QueueSize     int    `yaml:"queue_size" validate:"gte=1"`
	Workers       int    `yaml:"workers" validate:"gte=1"`
	RetentionDays int    `yaml:"retention_days" validate:"gte=0"`
	PurgeSchedule string `yaml:"purge_schedule"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// defaults returns a Config populated with sensible default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Redis:  RedisConfig{KeyPrefix: "stagecond:lock:"},
		Lock: LockConfig{
			Backend:     "memory",
			Mode:        "fail_fast",
			WaitTimeout: 10 * time.Second,
			TTL:         2 * time.Minute,
		},
		Engine: EngineConfig{
			AutoAdvance:          true,
			DataFetchConcurrency: 4,
			ActionTimeout:        30 * time.Second,
			NotificationTimeout:  60 * time.Second,
			TriggerActionTimeout: 45 * time.Second,
		},
		Executors: ExecutorsConfig{
			PythonBin:         "python3",
			PythonTimeout:     30 * time.Second,
			HTTPTimeout:       30 * time.Second,
			HTTPRatePerSecond: 10,
			HTTPBurst:         5,
			HTTPMaxAttempts:   3,
		},
		SMTP:  SMTPConfig{Port: 587},
		Audit: AuditConfig{QueueSize: 1024, Workers: 2, RetentionDays: 90, PurgeSchedule: "@daily"},
		Log:   LogConfig{Level: "info"},
	}
}

// Load reads a YAML configuration file at path, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return finish(cfg)
}

// LoadDefault loads .env, then the file named by STAGECOND_CONFIG or
// "config.yaml". A missing file yields defaults; any other error
// (e.g. permission denied, malformed YAML) is returned.
func LoadDefault() (*Config, error) {
	return Resolve("")
}

// Resolve loads .env and then the config file at path. An empty path falls
// back to STAGECOND_CONFIG or "config.yaml", and only that implicit file
// may be missing.
func Resolve(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	explicit := path != ""
	if !explicit {
		path = os.Getenv("STAGECOND_CONFIG")
	}
	if path == "" {
		path = "config.yaml"
	}
	cfg, err := Load(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return finish(defaults())
		}
		return nil, err
	}
	return cfg, nil
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"DATABASE_URL":   &c.Database.URL,
		"REDIS_ADDR":     &c.Redis.Addr,
		"REDIS_PASSWORD": &c.Redis.Password,
		"SMTP_HOST":      &c.SMTP.Host,
		"SMTP_USERNAME":  &c.SMTP.Username,
		"SMTP_PASSWORD":  &c.SMTP.Password,
		"SMTP_FROM":      &c.SMTP.From,
		"LOG_LEVEL":      &c.Log.Level,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	if v, ok := os.LookupEnv("SMTP_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("SMTP_PORT: %w", err)
		}
		c.SMTP.Port = port
	}
	if v := os.Getenv("LOCK_BACKEND"); v != "" {
		c.Lock.Backend = v
	}
	return nil
}

// Validate checks field ranges and enumerations.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("invalid config: %s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Lock.Backend == "redis" && c.Redis.Addr == "" {
		return errors.New("invalid config: lock.backend is redis but redis.addr is empty")
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
