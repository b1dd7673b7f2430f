package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Matching MatchingConfig `mapstructure:"matching"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

// MatchingConfig holds the matcher and completion tunables. The defaults are
// starting points; every value can be overridden per deployment.
type MatchingConfig struct {
	WindowDays            int     `mapstructure:"window_days"`
	AmountTolerance       string  `mapstructure:"amount_tolerance"`
	AutoAcceptThreshold   float64 `mapstructure:"auto_accept_threshold"`
	SuggestThreshold      float64 `mapstructure:"suggest_threshold"`
	CompletionTolerance   string  `mapstructure:"completion_tolerance"`
	MaxCandidates         int     `mapstructure:"max_candidates"`
	MaxSuggestionsPerLine int     `mapstructure:"max_suggestions_per_line"`
}

// Load reads configuration from file and env. Env var overrides use prefix BANKREC_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "bankrec", "bankrec.db"))
	v.SetDefault("database.migrations_path", "internal/database/migrations")
	v.SetDefault("matching.window_days", 5)
	v.SetDefault("matching.amount_tolerance", "0")
	v.SetDefault("matching.auto_accept_threshold", 0.9)
	v.SetDefault("matching.suggest_threshold", 0.5)
	v.SetDefault("matching.completion_tolerance", "0")
	v.SetDefault("matching.max_candidates", 50000)
	v.SetDefault("matching.max_suggestions_per_line", 3)

	v.SetConfigType("toml")

	cfgPath := os.Getenv("BANKREC_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "bankrec"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("BANKREC")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// read config file if present
	_ = v.ReadInConfig()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}
