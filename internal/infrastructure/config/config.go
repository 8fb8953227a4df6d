package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn error"`

	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`

	Workflow   WorkflowConfig   `koanf:"workflow"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Automation AutomationConfig `koanf:"automation"`
	Oracle     OracleConfig     `koanf:"oracle"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL      string `koanf:"url"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type WorkflowConfig struct {
	DefaultStepTimeout time.Duration `koanf:"default_step_timeout"`
	MaxRetryDelay      time.Duration `koanf:"max_retry_delay"`
}

type MonitoringConfig struct {
	AnomalyThreshold  float64 `koanf:"anomaly_threshold" validate:"gt=0,lte=1"`
	DriftThresholdPts float64 `koanf:"drift_threshold_pts" validate:"gt=0"`
	DriftHighPts      float64 `koanf:"drift_high_pts" validate:"gt=0"`
	FailureThreshold  int     `koanf:"failure_threshold" validate:"min=1"`
	FailureWindowDays int     `koanf:"failure_window_days" validate:"min=1"`
	CriticalReadiness float64 `koanf:"critical_readiness" validate:"gt=0,lte=100"`
}

type AutomationConfig struct {
	SuccessScore     float64 `koanf:"success_score" validate:"gt=0,lte=100"`
	MaxBackoffFactor int     `koanf:"max_backoff_factor" validate:"min=1"`
}

type OracleConfig struct {
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // requests per second
	Burst     int           `koanf:"burst"`
}

// Load reads configuration from defaults, an optional YAML file and GRC_
// environment variables, in increasing precedence.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			URL:             "postgres://localhost:5432/compliance_core?sslmode=disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Workflow: WorkflowConfig{
			DefaultStepTimeout: 5 * time.Minute,
			MaxRetryDelay:      5 * time.Minute,
		},
		Monitoring: MonitoringConfig{
			AnomalyThreshold:  0.2,
			DriftThresholdPts: 15,
			DriftHighPts:      25,
			FailureThreshold:  3,
			FailureWindowDays: 7,
			CriticalReadiness: 80,
		},
		Automation: AutomationConfig{
			SuccessScore:     80,
			MaxBackoffFactor: 8,
		},
		Oracle: OracleConfig{
			Timeout:   30 * time.Second,
			RateLimit: 5,
			Burst:     10,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("GRC_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "GRC_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
