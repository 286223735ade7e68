package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"medocr/internal/ensemble"
	"medocr/internal/logger"
)

// Engine kinds understood by the adapter registry.
const (
	KindHTTP       = "http"
	KindVision     = "gcvision"
	KindDocumentAI = "documentai"
)

type Config struct {
	// Engine fleet and merge configuration file
	EnginesConfigPath string

	// HTTP service configuration
	Host string
	Port int

	// LLM cleanup configuration (optional)
	CleanupProvider string // "openai", "gemini", or "" to disable
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAIModel     string
	GeminiAPIKey    string
	GeminiModel     string
	CleanupDomain   string // document domain hint, e.g. "prescription"

	// Result persistence (optional)
	DatabaseURL string

	// Logging configuration
	LogLevel      string
	LogFormat     string
	LogTimeFormat string
	LogOutput     string
}

func Load() (*Config, error) {
	config := &Config{
		EnginesConfigPath: getEnv("MEDOCR_ENGINES_CONFIG", "engines.yaml"),
		Host:              getEnv("MEDOCR_HOST", "0.0.0.0"),
		Port:              getEnvInt("MEDOCR_PORT", 8080),
		CleanupProvider:   getEnv("CLEANUP_PROVIDER", ""),
		OpenAIAPIKey:      getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:     getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:       getEnv("OPENAI_MODEL", ""),
		GeminiAPIKey:      getEnv("GEMINI_API_KEY", ""),
		GeminiModel:       getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		CleanupDomain:     getEnv("CLEANUP_DOMAIN", "prescription"),
		DatabaseURL:       getEnv("DATABASE_URL", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "console"),
		LogTimeFormat:     getEnv("LOG_TIME_FORMAT", "2006-01-02T15:04:05Z07:00"),
		LogOutput:         getEnv("LOG_OUTPUT", "stderr"),
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.CleanupProvider {
	case "", "openai", "gemini":
	default:
		return fmt.Errorf("CLEANUP_PROVIDER must be openai, gemini, or empty, got %q", c.CleanupProvider)
	}
	if c.CleanupProvider == "openai" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when CLEANUP_PROVIDER=openai")
	}
	if c.CleanupProvider == "gemini" && c.GeminiAPIKey == "" {
		return fmt.Errorf("GEMINI_API_KEY is required when CLEANUP_PROVIDER=gemini")
	}
	return nil
}

// GetLoggerConfig returns a logger configuration from the main config
func (c *Config) GetLoggerConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		Format:     c.LogFormat,
		TimeFormat: c.LogTimeFormat,
		Output:     c.LogOutput,
	}
}

// EngineSpec describes one OCR engine in the fleet.
type EngineSpec struct {
	// ID is the engine identifier used in priority lists and block output.
	ID string `yaml:"id"`

	// Kind selects the adapter: http, gcvision, or documentai.
	Kind string `yaml:"kind"`

	// URL is the base URL of an http engine service.
	URL string `yaml:"url,omitempty"`

	// Format names the engine's native output shape (blocks, easyocr, text).
	Format string `yaml:"format,omitempty"`

	// Languages passed through to the engine, first entry is primary.
	Languages []string `yaml:"languages,omitempty"`
}

// EnginesConfig is the explicit merge + fleet configuration, loaded from a
// YAML file so thresholds and priorities never hide in code.
type EnginesConfig struct {
	OverlapThreshold  float64      `yaml:"overlap_threshold"`
	MinBBoxArea       float64      `yaml:"min_bbox_area"`
	DefaultConfidence float64      `yaml:"default_confidence"`
	EnginePriority    []string     `yaml:"engine_priority"`
	Engines           []EngineSpec `yaml:"engines"`
}

// LoadEngines reads and validates the engine fleet configuration. Invalid
// configuration fails here, before any page is processed.
func LoadEngines(path string) (*EnginesConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engines config: %w", err)
	}

	cfg := &EnginesConfig{
		OverlapThreshold:  ensemble.DefaultOverlapThreshold,
		DefaultConfidence: 1.0,
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse engines config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks merge options and engine entries.
func (c *EnginesConfig) Validate() error {
	if err := c.MergeOptions().Validate(); err != nil {
		return err
	}

	seen := make(map[string]bool, len(c.Engines))
	for i, spec := range c.Engines {
		if spec.ID == "" {
			return fmt.Errorf("engine %d: id is required", i)
		}
		if seen[spec.ID] {
			return fmt.Errorf("engine %q: duplicate id", spec.ID)
		}
		seen[spec.ID] = true

		switch spec.Kind {
		case KindHTTP, "":
			if spec.URL == "" {
				return fmt.Errorf("engine %q: url is required for http engines", spec.ID)
			}
		case KindVision, KindDocumentAI:
		default:
			return fmt.Errorf("engine %q: unknown kind %q", spec.ID, spec.Kind)
		}
	}

	return nil
}

// MergeOptions maps the file configuration onto reconciler options.
func (c *EnginesConfig) MergeOptions() ensemble.Options {
	return ensemble.Options{
		OverlapThreshold:  c.OverlapThreshold,
		EnginePriority:    c.EnginePriority,
		MinBBoxArea:       c.MinBBoxArea,
		DefaultConfidence: c.DefaultConfidence,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
