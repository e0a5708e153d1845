// Package config loads Watchpost configuration from defaults, an optional
// YAML file and WATCHPOST_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/opensource-finance/watchpost/internal/domain"
)

// EnvPrefix is the prefix of every environment override,
// e.g. WATCHPOST_REASONING_TEMPERATURE.
const EnvPrefix = "WATCHPOST"

// Load builds the effective configuration. path may be empty, in which case
// watchpost.yaml is looked up in the working directory and /etc/watchpost and
// skipped when absent. The tier (WATCHPOST_TIER or the file's tier key)
// selects the base defaults.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("watchpost")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/watchpost")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	if err := setDefaults(v, base); err != nil {
		return nil, err
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Reasoning.Validate(); err != nil {
		return nil, err
	}
	if _, err := domain.ParseStrategy(string(cfg.Reasoning.Strategy)); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	level, err := domain.ParseExplainLevel(string(cfg.DefaultExplain))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	cfg.DefaultExplain = level

	return cfg, nil
}

// setDefaults registers every leaf of base under its dotted mapstructure key
// so that environment variables can override keys absent from the file.
func setDefaults(v *viper.Viper, base *domain.Config) error {
	tree := map[string]any{}
	if err := mapstructure.Decode(base, &tree); err != nil {
		return fmt.Errorf("failed to flatten defaults: %w", err)
	}
	flatten(v, "", tree)
	return nil
}

func flatten(v *viper.Viper, prefix string, tree map[string]any) {
	for k, val := range tree {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if sub, ok := val.(map[string]any); ok {
			flatten(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

// NewLogger builds the process logger. WATCHPOST_DEBUG-style overrides arrive
// through cfg.Level.
func NewLogger(cfg domain.LoggingConfig, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.Format) == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
