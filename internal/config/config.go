package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the alertscope service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Reasoning  ReasoningConfig  `yaml:"reasoning"`
	Connectors ConnectorsConfig `yaml:"connectors"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig controls the HTTP listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// StoreConfig locates the SQLite session store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ReasoningConfig configures access to the OpenAI-compatible reasoning oracle.
type ReasoningConfig struct {
	BaseURL     string        `yaml:"baseURL"`
	APIKey      string        `yaml:"apiKey"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"maxTokens"`
}

// ConnectorsConfig holds timeouts shared by all telemetry connectors.
type ConnectorsConfig struct {
	HealthTimeout time.Duration `yaml:"healthTimeout"`
	QueryTimeout  time.Duration `yaml:"queryTimeout"`
}

// AnalysisConfig tunes pipeline behaviour.
type AnalysisConfig struct {
	// DefaultTimeRangeMinutes is the collection look-back applied when the
	// caller does not supply one.
	DefaultTimeRangeMinutes int `yaml:"defaultTimeRangeMinutes"`
	// EventPacing inserts a cosmetic delay between verdict messages for
	// client-side readability. Zero disables pacing and does not change
	// correctness.
	EventPacing time.Duration `yaml:"eventPacing"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("ALERTSCOPE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Path: "alertscope.db",
		},
		Reasoning: ReasoningConfig{
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			Timeout:     120 * time.Second,
			Temperature: 0.3,
			MaxTokens:   2000,
		},
		Connectors: ConnectorsConfig{
			HealthTimeout: 10 * time.Second,
			QueryTimeout:  30 * time.Second,
		},
		Analysis: AnalysisConfig{
			DefaultTimeRangeMinutes: 30,
			EventPacing:             0,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALERTSCOPE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("ALERTSCOPE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("ALERTSCOPE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ALERTSCOPE_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("ALERTSCOPE_REASONING_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
	}
	if v := os.Getenv("ALERTSCOPE_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("ALERTSCOPE_REASONING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reasoning.Timeout = d
		}
	}
	if v := os.Getenv("ALERTSCOPE_REASONING_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Reasoning.MaxTokens = n
		}
	}
	if v := os.Getenv("ALERTSCOPE_CONNECTOR_HEALTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectors.HealthTimeout = d
		}
	}
	if v := os.Getenv("ALERTSCOPE_CONNECTOR_QUERY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectors.QueryTimeout = d
		}
	}
	if v := os.Getenv("ALERTSCOPE_ANALYSIS_TIME_RANGE_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Analysis.DefaultTimeRangeMinutes = n
		}
	}
	if v := os.Getenv("ALERTSCOPE_ANALYSIS_EVENT_PACING"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Analysis.EventPacing = d
		}
	}
	if v := os.Getenv("ALERTSCOPE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ALERTSCOPE_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
