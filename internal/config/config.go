package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"lumenclean/internal/models"
	"lumenclean/pkg/logger"
)

const EnvPrefix = "LUMENCLEAN"

// Config holds all configuration for the service
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Cleaning CleaningConfig `mapstructure:"cleaning"`
	Noise    NoiseConfig    `mapstructure:"noise"`
	OpenAI   OpenAIConfig   `mapstructure:"openai"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Realtime RealtimeConfig `mapstructure:"realtime"`
	Log      LogConfig      `mapstructure:"log"`

	v *viper.Viper
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type QueueConfig struct {
	Workers        int           `mapstructure:"workers"`
	MaxPending     int           `mapstructure:"max_pending"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`
	RecoverOnStart bool          `mapstructure:"recover_on_start"`
}

type CleaningConfig struct {
	Backend                 string             `mapstructure:"backend"`
	Timeout                 time.Duration      `mapstructure:"timeout"`
	DefaultLevel            string             `mapstructure:"default_level"`
	WindowSize              int                `mapstructure:"window_size"`
	MaxWindow               int                `mapstructure:"max_window"`
	SkipTranscriptionErrors bool               `mapstructure:"skip_transcription_errors"`
	Params                  models.ModelParams `mapstructure:"params"`
}

type NoiseConfig struct {
	NonLatinThreshold float64  `mapstructure:"non_latin_threshold"`
	MaxAckTokens      int      `mapstructure:"max_ack_tokens"`
	Acknowledgments   []string `mapstructure:"acknowledgments"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type AuthConfig struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	APIKeyHash string `mapstructure:"api_key_hash"`
}

type RealtimeConfig struct {
	SubscriberBacklog int `mapstructure:"subscriber_backlog"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// DefaultAcknowledgments are bare tokens that carry no content on their own
var DefaultAcknowledgments = []string{
	"uh", "um", "umm", "hmm", "hm", "mm", "mhm", "uh-huh", "ah", "oh", "huh",
	"ok", "okay", "yeah", "yep", "yes", "no", "right", "sure",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("database.path", "lumenclean.db")

	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.max_pending", 0)
	v.SetDefault("queue.drain_timeout", 30*time.Second)
	v.SetDefault("queue.recover_on_start", true)

	params := models.DefaultModelParams()
	v.SetDefault("cleaning.backend", "local")
	v.SetDefault("cleaning.timeout", 30*time.Second)
	v.SetDefault("cleaning.default_level", string(models.LevelFull))
	v.SetDefault("cleaning.window_size", models.DefaultWindowSize)
	v.SetDefault("cleaning.max_window", models.MaxWindowSize)
	v.SetDefault("cleaning.skip_transcription_errors", false)
	v.SetDefault("cleaning.params.temperature", params.Temperature)
	v.SetDefault("cleaning.params.top_p", params.TopP)
	v.SetDefault("cleaning.params.top_k", params.TopK)
	v.SetDefault("cleaning.params.max_tokens", params.MaxTokens)

	v.SetDefault("noise.non_latin_threshold", 0.5)
	v.SetDefault("noise.max_ack_tokens", 2)
	v.SetDefault("noise.acknowledgments", DefaultAcknowledgments)

	// keys without a default must still be registered for AutomaticEnv to reach Unmarshal
	v.SetDefault("openai.api_key", "")
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.api_key_hash", "")

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("gemini.model", "gemini-2.0-flash")

	v.SetDefault("realtime.subscriber_backlog", 1024)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}

// Load reads configuration from an optional .env file, an optional config file
// and LUMENCLEAN_* environment variables, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("lumenclean")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.lumenclean")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with
func (c *Config) Validate() error {
	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1, got %d", c.Queue.Workers)
	}
	if c.Cleaning.MaxWindow < 0 {
		return fmt.Errorf("cleaning.max_window must be non-negative")
	}
	if c.Cleaning.Timeout <= 0 {
		return fmt.Errorf("cleaning.timeout must be positive")
	}
	switch c.Cleaning.Backend {
	case "openai", "gemini", "local":
	default:
		return fmt.Errorf("unknown cleaning.backend %q", c.Cleaning.Backend)
	}
	if c.Noise.NonLatinThreshold <= 0 || c.Noise.NonLatinThreshold > 1 {
		return fmt.Errorf("noise.non_latin_threshold must be in (0, 1]")
	}
	if _, err := c.DefaultSettings(); err != nil {
		return err
	}
	return nil
}

// DefaultSettings returns the settings given to a conversation on first submission
func (c *Config) DefaultSettings() (models.ConversationSettings, error) {
	level, err := models.ParseCleaningLevel(c.Cleaning.DefaultLevel)
	if err != nil {
		return models.ConversationSettings{}, fmt.Errorf("cleaning.default_level: %w", err)
	}
	s := models.ConversationSettings{
		WindowSize:              c.Cleaning.WindowSize,
		CleaningLevel:           level,
		SkipTranscriptionErrors: c.Cleaning.SkipTranscriptionErrors,
		ModelParams:             c.Cleaning.Params,
	}
	if err := s.Validate(c.Cleaning.MaxWindow); err != nil {
		return models.ConversationSettings{}, fmt.Errorf("cleaning defaults: %w", err)
	}
	return s, nil
}

// Watch re-reads the config file on change and hands the new config to onChange.
// Invalid reloads are logged and ignored.
func (c *Config) Watch(onChange func(*Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next := &Config{v: c.v}
		if err := c.v.Unmarshal(next); err != nil {
			logger.Warn("Config reload failed", "file", e.Name, "error", err)
			return
		}
		if err := next.Validate(); err != nil {
			logger.Warn("Config reload rejected", "file", e.Name, "error", err)
			return
		}
		logger.Info("Config reloaded", "file", e.Name)
		onChange(next)
	})
	c.v.WatchConfig()
}
