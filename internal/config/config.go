// Package config loads steward's configuration: defaults, then the
// YAML file at .steward/config.yaml, then environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "30s".
type Duration time.Duration

// UnmarshalYAML accepts Go duration strings or plain second counts.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds int64
	if err := value.Decode(&seconds); err != nil {
		return fmt.Errorf("invalid duration %v", value.Value)
	}
	*d = Duration(time.Duration(seconds) * time.Second)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Oracle configures the model provider.
type Oracle struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	// APIKeyEnv names the environment variable holding the key. The
	// key itself never lives in the config file.
	APIKeyEnv string `yaml:"api_key_env"`
	// Timeout bounds a single model call.
	Timeout Duration `yaml:"timeout"`
}

// Risk configures scoring and approval.
type Risk struct {
	LowThreshold       int      `yaml:"low_threshold"`
	MediumThreshold    int      `yaml:"medium_threshold"`
	HighThreshold      int      `yaml:"high_threshold"`
	AutoApproveCeiling int      `yaml:"auto_approve_ceiling"`
	ExtraBlacklist     []string `yaml:"extra_blacklist"`
}

// Context configures the observation log.
type Context struct {
	MaxObservations   int `yaml:"max_observations"`
	KeepRecent        int `yaml:"keep_recent"`
	CompressThreshold int `yaml:"compress_threshold"`
}

// Engine configures execution limits.
type Engine struct {
	MaxReplans                  int      `yaml:"max_replans"`
	ConsecutiveFailureThreshold int      `yaml:"consecutive_failure_threshold"`
	ExplorationSteps            int      `yaml:"exploration_steps"`
	MaxLoops                    int      `yaml:"max_loops"`
	StepTimeout                 Duration `yaml:"step_timeout"`
	ConfirmTimeout              Duration `yaml:"confirm_timeout"`
}

// Config is the full configuration tree.
type Config struct {
	Oracle  Oracle  `yaml:"oracle"`
	Risk    Risk    `yaml:"risk"`
	Context Context `yaml:"context"`
	Engine  Engine  `yaml:"engine"`

	HistoryPath string `yaml:"history_path"`
	LogLevel    string `yaml:"log_level"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Oracle: Oracle{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5-20250514",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   Duration(60 * time.Second),
		},
		Risk: Risk{
			LowThreshold:       30,
			MediumThreshold:    60,
			HighThreshold:      90,
			AutoApproveCeiling: 30,
		},
		Context: Context{
			MaxObservations:   40,
			KeepRecent:        10,
			CompressThreshold: 60,
		},
		Engine: Engine{
			MaxReplans:                  3,
			ConsecutiveFailureThreshold: 2,
			ExplorationSteps:            10,
			MaxLoops:                    2,
			StepTimeout:                 Duration(2 * time.Minute),
			ConfirmTimeout:              Duration(60 * time.Second),
		},
		HistoryPath: filepath.Join(".steward", "history.db"),
		LogLevel:    "info",
	}
}

// Load builds the configuration for a working directory. A missing
// config file is not an error; a malformed one is. A .env file in the
// directory is loaded first so API keys resolve.
func Load(dir string) (Config, error) {
	// Missing .env is fine.
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := Default()

	path := filepath.Join(dir, ".steward", "config.yaml")
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

// APIKey resolves the provider key from the configured variable.
func (c Config) APIKey() string {
	if c.Oracle.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Oracle.APIKeyEnv)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STEWARD_PROVIDER"); v != "" {
		cfg.Oracle.Provider = v
	}
	if v := os.Getenv("STEWARD_MODEL"); v != "" {
		cfg.Oracle.Model = v
	}
	if v := os.Getenv("STEWARD_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("STEWARD_HISTORY_PATH"); v != "" {
		cfg.HistoryPath = v
	}
	if v, err := strconv.Atoi(os.Getenv("STEWARD_AUTO_APPROVE_CEILING")); err == nil {
		cfg.Risk.AutoApproveCeiling = v
	}
	if v, err := strconv.Atoi(os.Getenv("STEWARD_EXPLORATION_STEPS")); err == nil {
		cfg.Engine.ExplorationSteps = v
	}
	if v, err := strconv.Atoi(os.Getenv("STEWARD_MAX_REPLANS")); err == nil {
		cfg.Engine.MaxReplans = v
	}
}
