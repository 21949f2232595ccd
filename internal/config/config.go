// Package config holds the application configuration, loaded through viper
// from a YAML file with TRACEPILOT_* environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Database   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	Model      ModelConfig      `mapstructure:"model" yaml:"model"`
	Trainer    TrainerConfig    `mapstructure:"trainer" yaml:"trainer"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	Collection CollectionConfig `mapstructure:"collection" yaml:"collection"`
}

// LoggerConfig configures the zap logger and its optional rotating file sink.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// DatabaseConfig holds the Postgres connection details for the trace store.
// An empty URL disables persistence entirely.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// ModelConfig fixes the policy transformer's shape.
type ModelConfig struct {
	NLayer    int   `mapstructure:"n_layer" yaml:"n_layer"`
	NEmbd     int   `mapstructure:"n_embd" yaml:"n_embd"`
	NHead     int   `mapstructure:"n_head" yaml:"n_head"`
	BlockSize int   `mapstructure:"block_size" yaml:"block_size"`
	Seed      int64 `mapstructure:"seed" yaml:"seed"`
}

// TrainerConfig is the configuration surface the training core recognizes.
type TrainerConfig struct {
	WindowSize         int     `mapstructure:"window_size" yaml:"window_size"`
	GradClip           float64 `mapstructure:"grad_clip" yaml:"grad_clip"`
	AdvantageThreshold float64 `mapstructure:"advantage_threshold" yaml:"advantage_threshold"`
	MinAdvantageStd    float64 `mapstructure:"min_advantage_std" yaml:"min_advantage_std"`
	ValFraction        float64 `mapstructure:"val_fraction" yaml:"val_fraction"`
	LearningRate       float64 `mapstructure:"learning_rate" yaml:"learning_rate"`
	Beta1              float64 `mapstructure:"beta1" yaml:"beta1"`
	Beta2              float64 `mapstructure:"beta2" yaml:"beta2"`
	Eps                float64 `mapstructure:"eps" yaml:"eps"`
	WeightDecay        float64 `mapstructure:"weight_decay" yaml:"weight_decay"`
}

// BrowserConfig holds settings for the headless browser the environment
// driver controls.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless" yaml:"headless"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	ViewportWidth   int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight  int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavTimeout      time.Duration `mapstructure:"nav_timeout" yaml:"nav_timeout"`
}

// CollectionConfig tunes the episode collection loop.
type CollectionConfig struct {
	MaxSteps       int           `mapstructure:"max_steps" yaml:"max_steps"`
	FrameInterval  time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	EpisodeTimeout time.Duration `mapstructure:"episode_timeout" yaml:"episode_timeout"`
	MaxNewTokens   int           `mapstructure:"max_new_tokens" yaml:"max_new_tokens"`
	Temperature    float64       `mapstructure:"temperature" yaml:"temperature"`
	GroupSize      int           `mapstructure:"group_size" yaml:"group_size"`
	MaxConcurrent  int           `mapstructure:"max_concurrent" yaml:"max_concurrent"`
}

// SetDefaults registers every default on the given viper instance. Called
// before ReadInConfig so a missing file still yields a runnable config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "tracepilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("model.n_layer", 2)
	v.SetDefault("model.n_embd", 32)
	v.SetDefault("model.n_head", 4)
	v.SetDefault("model.block_size", 1024)
	v.SetDefault("model.seed", 42)

	v.SetDefault("trainer.window_size", 8)
	v.SetDefault("trainer.grad_clip", 1.0)
	v.SetDefault("trainer.advantage_threshold", 0.01)
	v.SetDefault("trainer.min_advantage_std", 1e-8)
	v.SetDefault("trainer.val_fraction", 0.2)
	v.SetDefault("trainer.learning_rate", 2e-4)
	v.SetDefault("trainer.beta1", 0.9)
	v.SetDefault("trainer.beta2", 0.999)
	v.SetDefault("trainer.eps", 1e-8)
	v.SetDefault("trainer.weight_decay", 0.01)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 704)
	v.SetDefault("browser.nav_timeout", 30*time.Second)

	v.SetDefault("collection.max_steps", 30)
	v.SetDefault("collection.frame_interval", 500*time.Millisecond)
	v.SetDefault("collection.episode_timeout", 2*time.Minute)
	v.SetDefault("collection.max_new_tokens", 180)
	v.SetDefault("collection.temperature", 0.6)
	v.SetDefault("collection.group_size", 5)
	v.SetDefault("collection.max_concurrent", 2)
}

// Load unmarshals and validates the configuration from v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects malformed configuration. A process with a bad config must
// not limp onward.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Logger.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logger.format must be console or json, got %q", c.Logger.Format)
	}
	if c.Model.NLayer < 1 || c.Model.NEmbd < 1 || c.Model.NHead < 1 || c.Model.BlockSize < 2 {
		return fmt.Errorf("model config out of range: n_layer=%d n_embd=%d n_head=%d block_size=%d",
			c.Model.NLayer, c.Model.NEmbd, c.Model.NHead, c.Model.BlockSize)
	}
	if c.Model.NEmbd%c.Model.NHead != 0 {
		return fmt.Errorf("model.n_embd %d must be divisible by model.n_head %d", c.Model.NEmbd, c.Model.NHead)
	}
	if c.Trainer.WindowSize < 1 {
		return fmt.Errorf("trainer.window_size must be >= 1, got %d", c.Trainer.WindowSize)
	}
	if c.Trainer.GradClip <= 0 {
		return fmt.Errorf("trainer.grad_clip must be positive, got %v", c.Trainer.GradClip)
	}
	if c.Trainer.AdvantageThreshold < 0 {
		return fmt.Errorf("trainer.advantage_threshold must be >= 0, got %v", c.Trainer.AdvantageThreshold)
	}
	if c.Trainer.MinAdvantageStd <= 0 {
		return fmt.Errorf("trainer.min_advantage_std must be positive, got %v", c.Trainer.MinAdvantageStd)
	}
	if c.Trainer.ValFraction < 0 || c.Trainer.ValFraction > 0.9 {
		return fmt.Errorf("trainer.val_fraction must be in [0, 0.9], got %v", c.Trainer.ValFraction)
	}
	if c.Trainer.LearningRate <= 0 {
		return fmt.Errorf("trainer.learning_rate must be positive, got %v", c.Trainer.LearningRate)
	}
	if c.Collection.Temperature <= 0 {
		return fmt.Errorf("collection.temperature must be positive, got %v", c.Collection.Temperature)
	}
	if c.Collection.GroupSize < 1 {
		return fmt.Errorf("collection.group_size must be >= 1, got %d", c.Collection.GroupSize)
	}
	return nil
}
