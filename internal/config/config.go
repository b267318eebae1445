// Package config loads service configuration for the ingestion commands.
// Precedence: environment > config file > defaults.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the service configuration shared by the CLI commands.
type Config struct {
	// Env tags every replay-pack key; it never changes semantics.
	Env string

	// DatabaseURL names the canonical store: sqlite://path or postgres://…
	DatabaseURL string

	// ArtifactDir is the root of the pack store on disk.
	ArtifactDir string

	// Workers bounds item concurrency per batch.
	Workers int

	// Flags seeds the static feature-flag provider, keyed by manifest name.
	Flags map[string]bool
}

// Load reads configuration from the optional file path, environment
// variables with the MENUSYNC_ prefix, and defaults, then validates.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("env", "development")
	v.SetDefault("database_url", "sqlite://menusync.db")
	v.SetDefault("artifact_dir", "packs")
	v.SetDefault("workers", 4)

	v.SetEnvPrefix("MENUSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	flags, err := flagValues(v)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Env:         v.GetString("env"),
		DatabaseURL: v.GetString("database_url"),
		ArtifactDir: v.GetString("artifact_dir"),
		Workers:     v.GetInt("workers"),
		Flags:       flags,
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagValues reads the flags map. Values must be plain booleans; anything
// else is a config error, not a disabled flag.
func flagValues(v *viper.Viper) (map[string]bool, error) {
	raw := v.GetStringMap("flags")
	if len(raw) == 0 {
		return map[string]bool{}, nil
	}
	flags := make(map[string]bool, len(raw))
	for name, value := range raw {
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("flag %q must be a boolean, got %T", name, value)
		}
		flags[name] = b
	}
	return flags, nil
}

func validate(cfg *Config) error {
	if cfg.Env == "" {
		return fmt.Errorf("env must not be empty")
	}
	// Env becomes a pack key segment: env=<env>/date=…
	if strings.ContainsAny(cfg.Env, "/=") {
		return fmt.Errorf("env %q must not contain '/' or '='", cfg.Env)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database_url must not be empty")
	}
	if cfg.ArtifactDir == "" {
		return fmt.Errorf("artifact_dir must not be empty")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	return nil
}
