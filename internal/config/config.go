// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreSQLite = "sqlite"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Generation providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config holds all application configuration.
type Config struct {
	Port        string           `yaml:"port"`
	FrontendURL string           `yaml:"frontend_url"`
	LogLevel    string           `yaml:"log_level"`
	Store       StoreConfig      `yaml:"store"`
	Generation  GenerationConfig `yaml:"generation"`
	Flow        FlowConfig       `yaml:"flow"`
	RateLimit   RateLimitConfig  `yaml:"rate_limit"`
	Transcript  TranscriptConfig `yaml:"transcript"`
}

// StoreConfig selects and tunes the session store.
type StoreConfig struct {
	Driver         string        `yaml:"driver"`
	DBPath         string        `yaml:"db_path"`
	BadgerDir      string        `yaml:"badger_dir"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	SweepInterval  time.Duration `yaml:"sweep_interval"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// GenerationConfig selects the AI provider.
type GenerationConfig struct {
	Provider       string        `yaml:"provider"`
	GeminiAPIKey   string        `yaml:"gemini_api_key"`
	GeminiModel    string        `yaml:"gemini_model"`
	OpenAIAPIKey   string        `yaml:"openai_api_key"`
	OpenAIBaseURL  string        `yaml:"openai_base_url"`
	OpenAIModel    string        `yaml:"openai_model"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`
}

// FlowConfig toggles optional learning flow behaviour.
type FlowConfig struct {
	StrictPathCount bool `yaml:"strict_path_count"`
	AnalyzeEnrich   bool `yaml:"analyze_enrich"`
}

// RateLimitConfig bounds generation requests per session.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// TranscriptConfig controls NDJSON transcript logging.
type TranscriptConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	GlobalEnabled bool   `yaml:"global_enabled"`
	GlobalPath    string `yaml:"global_path"`
	QueueSize     int    `yaml:"queue_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:     "8080",
		LogLevel: "info",
		Store: StoreConfig{
			Driver:         StoreSQLite,
			DBPath:         "./data/mentor.db",
			BadgerDir:      "./data/badger",
			SessionTTL:     24 * time.Hour,
			SweepInterval:  10 * time.Minute,
			MaxRetries:     3,
			RetryBaseDelay: 50 * time.Millisecond,
		},
		Generation: GenerationConfig{
			Provider:       ProviderGemini,
			GeminiModel:    "gemini-1.5-flash-latest",
			OpenAIModel:    "gpt-4o-mini",
			Timeout:        60 * time.Second,
			RetryBaseDelay: time.Second,
		},
		RateLimit: RateLimitConfig{RPS: 1, Burst: 5},
		Transcript: TranscriptConfig{
			Enabled:    true,
			Dir:        "./data/logs/transcripts",
			GlobalPath: "./data/logs/transcripts/all.ndjson",
			QueueSize:  1000,
		},
	}
}

// Load reads defaults, the optional CONFIG_FILE, then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.FrontendURL = getEnv("FRONTEND_URL", c.FrontendURL)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Store.Driver = strings.ToLower(getEnv("STORE_DRIVER", c.Store.Driver))
	c.Store.DBPath = getEnv("DB_PATH", c.Store.DBPath)
	c.Store.BadgerDir = getEnv("BADGER_DIR", c.Store.BadgerDir)
	c.Store.SessionTTL = getEnvDuration("SESSION_TTL", c.Store.SessionTTL)
	c.Store.SweepInterval = getEnvDuration("SESSION_SWEEP_INTERVAL", c.Store.SweepInterval)
	c.Store.MaxRetries = getEnvInt("DB_MAX_RETRIES", c.Store.MaxRetries)
	c.Store.RetryBaseDelay = getEnvDuration("DB_RETRY_BASE_DELAY", c.Store.RetryBaseDelay)

	c.Generation.Provider = strings.ToLower(getEnv("GENERATION_PROVIDER", c.Generation.Provider))
	c.Generation.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.Generation.GeminiAPIKey)
	c.Generation.GeminiModel = getEnv("GEMINI_MODEL", c.Generation.GeminiModel)
	c.Generation.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.Generation.OpenAIAPIKey)
	c.Generation.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.Generation.OpenAIBaseURL)
	c.Generation.OpenAIModel = getEnv("OPENAI_MODEL", c.Generation.OpenAIModel)
	c.Generation.Timeout = getEnvDuration("GENERATION_TIMEOUT", c.Generation.Timeout)
	c.Generation.MaxRetries = getEnvInt("GENERATION_MAX_RETRIES", c.Generation.MaxRetries)
	c.Generation.RetryBaseDelay = getEnvDuration("GENERATION_RETRY_BASE_DELAY", c.Generation.RetryBaseDelay)

	c.Flow.StrictPathCount = getEnvBool("PATHS_STRICT_COUNT", c.Flow.StrictPathCount)
	c.Flow.AnalyzeEnrich = getEnvBool("ANALYZE_ENRICH", c.Flow.AnalyzeEnrich)

	c.RateLimit.RPS = getEnvFloat("RATE_LIMIT_RPS", c.RateLimit.RPS)
	c.RateLimit.Burst = getEnvInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Transcript.Enabled = getEnvBool("TRANSCRIPT_LOG_ENABLED", c.Transcript.Enabled)
	c.Transcript.Dir = getEnv("TRANSCRIPT_LOG_DIR", c.Transcript.Dir)
	c.Transcript.GlobalEnabled = getEnvBool("TRANSCRIPT_LOG_GLOBAL_ENABLED", c.Transcript.GlobalEnabled)
	c.Transcript.GlobalPath = getEnv("TRANSCRIPT_LOG_GLOBAL_PATH", c.Transcript.GlobalPath)
	c.Transcript.QueueSize = getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", c.Transcript.QueueSize)
	if c.Transcript.QueueSize <= 0 {
		c.Transcript.QueueSize = 1000
	}
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}

	switch c.Generation.Provider {
	case ProviderGemini:
		if c.Generation.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required when GENERATION_PROVIDER=%s", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.Generation.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when GENERATION_PROVIDER=%s", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("unknown GENERATION_PROVIDER %q", c.Generation.Provider)
	}
	if c.Generation.Timeout <= 0 {
		return fmt.Errorf("GENERATION_TIMEOUT must be > 0")
	}
	if c.Generation.MaxRetries < 0 {
		return fmt.Errorf("GENERATION_MAX_RETRIES must be >= 0")
	}

	switch c.Store.Driver {
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreBadger:
		if c.Store.BadgerDir == "" {
			return fmt.Errorf("BADGER_DIR cannot be empty")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}

	if c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be > 0")
	}

	if c.Transcript.Enabled && c.Transcript.Dir == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_DIR cannot be empty")
	}
	if c.Transcript.GlobalEnabled && c.Transcript.GlobalPath == "" {
		return fmt.Errorf("TRANSCRIPT_LOG_GLOBAL_PATH cannot be empty")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS origins for the configured frontend.
func (c *Config) AllowedOrigins() []string {
	if c.FrontendURL == "" {
		return []string{"*"}
	}
	origins := strings.Split(c.FrontendURL, ",")
	out := origins[:0]
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, strings.TrimRight(o, "/"))
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
