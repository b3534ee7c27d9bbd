// Package config provides centralized configuration management
// using Viper for configuration loading and validation
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. CULINARYLENS_SERVER_PORT.
const EnvPrefix = "CULINARYLENS"

// Config holds all application configuration
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	AI        AIConfig        `mapstructure:"ai"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Audio     AudioConfig     `mapstructure:"audio"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Media     MediaConfig     `mapstructure:"media"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	LogFormat   string `mapstructure:"log_format"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AIConfig selects and configures the generative backend.
type AIConfig struct {
	Provider      string       `mapstructure:"provider"`
	APIKey        string       `mapstructure:"api_key"`
	BaseURL       string       `mapstructure:"base_url"`
	LocalURL      string       `mapstructure:"local_url"`
	LocalModel    string       `mapstructure:"local_model"`
	ProtocolCount int          `mapstructure:"protocol_count"`
	Models        ModelsConfig `mapstructure:"models"`
}

// ModelsConfig names the model used for each capability.
type ModelsConfig struct {
	Vision    string `mapstructure:"vision"`
	Synthesis string `mapstructure:"synthesis"`
	Image     string `mapstructure:"image"`
	Speech    string `mapstructure:"speech"`
	Chat      string `mapstructure:"chat"`
}

// PolicyConfig is the retry bound and first delay of one capability.
type PolicyConfig struct {
	Retries   int           `mapstructure:"retries"`
	BaseDelay time.Duration `mapstructure:"base_delay"`
}

// RetryConfig holds the per-capability retry policies.
type RetryConfig struct {
	Inventory  PolicyConfig `mapstructure:"inventory"`
	Synthesis  PolicyConfig `mapstructure:"synthesis"`
	DishImage  PolicyConfig `mapstructure:"dish_image"`
	Blueprint  PolicyConfig `mapstructure:"blueprint"`
	Affinity   PolicyConfig `mapstructure:"affinity"`
	Validation PolicyConfig `mapstructure:"validation"`
	Speech     PolicyConfig `mapstructure:"speech"`
	Chat       PolicyConfig `mapstructure:"chat"`
}

// StorageConfig selects the slot backends of the preference store.
type StorageConfig struct {
	DurableDriver string        `mapstructure:"durable_driver"`
	SessionDriver string        `mapstructure:"session_driver"`
	FileDir       string        `mapstructure:"file_dir"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	SessionTTL    time.Duration `mapstructure:"session_ttl"`
	DatabaseURL   string        `mapstructure:"database_url"`
	HistoryLimit  int           `mapstructure:"history_limit"`
}

// AudioConfig toggles local speech playback.
type AudioConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExecutionConfig tunes the cooking stepper.
type ExecutionConfig struct {
	AdvanceDelay time.Duration `mapstructure:"advance_delay"`
}

// MediaConfig tunes upload preparation.
type MediaConfig struct {
	MaxWidth uint `mapstructure:"max_width"`
}

// MetricsConfig toggles the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from the optional file at path, the environment
// and the built-in defaults, in decreasing order of precedence.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Comma separated env values keep their padding after decoding.
	cfg.Server.AllowedOrigins = splitList(strings.Join(cfg.Server.AllowedOrigins, ","))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "gemini", "local":
	default:
		return fmt.Errorf("invalid ai.provider %q: want gemini or local", c.AI.Provider)
	}
	switch c.Storage.DurableDriver {
	case "memory", "file", "redis", "postgres":
	default:
		return fmt.Errorf("invalid storage.durable_driver %q", c.Storage.DurableDriver)
	}
	switch c.Storage.SessionDriver {
	case "memory", "redis":
	default:
		return fmt.Errorf("invalid storage.session_driver %q", c.Storage.SessionDriver)
	}
	if c.Storage.DurableDriver == "postgres" && c.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required for the postgres driver")
	}
	if c.Storage.HistoryLimit <= 0 {
		return fmt.Errorf("storage.history_limit must be positive, got %d", c.Storage.HistoryLimit)
	}
	if c.AI.ProtocolCount <= 0 {
		return fmt.Errorf("ai.protocol_count must be positive, got %d", c.AI.ProtocolCount)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "culinarylens")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.log_format", "json")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.request_timeout", 90*time.Second)
	v.SetDefault("server.max_upload_bytes", 16<<20)

	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("ai.local_url", "http://localhost:1234/v1/chat/completions")
	v.SetDefault("ai.local_model", "gemma-3-12b-it")
	v.SetDefault("ai.protocol_count", 2)
	v.SetDefault("ai.models.vision", "gemini-3-flash-preview")
	v.SetDefault("ai.models.synthesis", "gemini-3-pro-preview")
	v.SetDefault("ai.models.image", "gemini-2.5-flash-image")
	v.SetDefault("ai.models.speech", "gemini-2.5-flash-preview-tts")
	v.SetDefault("ai.models.chat", "gemini-3-flash-preview")

	setPolicy(v, "inventory", 2, time.Second)
	setPolicy(v, "synthesis", 3, 2*time.Second)
	setPolicy(v, "dish_image", 1, time.Second)
	setPolicy(v, "blueprint", 1, time.Second)
	setPolicy(v, "affinity", 1, time.Second)
	setPolicy(v, "validation", 1, time.Second)
	setPolicy(v, "speech", 1, time.Second)
	setPolicy(v, "chat", 0, time.Second)

	v.SetDefault("storage.durable_driver", "file")
	v.SetDefault("storage.session_driver", "memory")
	v.SetDefault("storage.file_dir", ".culinarylens")
	v.SetDefault("storage.redis_addr", "localhost:6379")
	v.SetDefault("storage.redis_password", "")
	v.SetDefault("storage.redis_db", 0)
	v.SetDefault("storage.session_ttl", 12*time.Hour)
	v.SetDefault("storage.database_url", "")
	v.SetDefault("storage.history_limit", 50)

	v.SetDefault("audio.enabled", false)
	v.SetDefault("execution.advance_delay", 3*time.Second)
	v.SetDefault("media.max_width", 1024)
	v.SetDefault("metrics.enabled", true)
}

func setPolicy(v *viper.Viper, name string, retries int, base time.Duration) {
	v.SetDefault("retry."+name+".retries", retries)
	v.SetDefault("retry."+name+".base_delay", base)
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
