// Package config loads importer settings from flags, environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/google/mail-importer/internal/rate"
)

// EnvPrefix prefixes environment overrides, e.g. MAILIMPORTER_MAILBOX.
const EnvPrefix = "MAILIMPORTER"

// Config is the resolved configuration for a run.
type Config struct {
	Mailbox       string        `mapstructure:"mailbox"`
	User          string        `mapstructure:"user"`
	MaxMessages   int           `mapstructure:"max_messages"`
	BatchSize     int           `mapstructure:"batch_size"`
	MaxRetries    int           `mapstructure:"max_retries"`
	ErrorStrategy string        `mapstructure:"error_strategy"`
	RPS           int           `mapstructure:"rps"`
	Concurrency   int           `mapstructure:"concurrency"`
	MaxRounds     int           `mapstructure:"max_rounds"`
	RoundDelay    time.Duration `mapstructure:"round_delay"`
	Ledger        string        `mapstructure:"ledger"`
	ClientSecret  string        `mapstructure:"client_secret"`
	TokenDir      string        `mapstructure:"token_dir"`
	DryRun        bool          `mapstructure:"dry_run"`
	Verbose       bool          `mapstructure:"verbose"`
	Backoff       rate.Policy   `mapstructure:"backoff"`

	// KeyringPassphrase unlocks the file keyring backend when no OS
	// keychain is available.
	KeyringPassphrase string `mapstructure:"keyring_passphrase"`
}

// DefaultDir is where credentials, tokens and the ledger live.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailimporter"
	}
	return filepath.Join(home, ".mailimporter")
}

// SetDefaults registers every key so environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	dir := DefaultDir()
	p := rate.DefaultPolicy()
	v.SetDefault("mailbox", "")
	v.SetDefault("user", "me")
	v.SetDefault("max_messages", 0)
	v.SetDefault("batch_size", 100)
	v.SetDefault("max_retries", 3)
	v.SetDefault("error_strategy", "skip")
	v.SetDefault("rps", 10)
	v.SetDefault("concurrency", 10)
	v.SetDefault("max_rounds", 0)
	v.SetDefault("round_delay", time.Second)
	v.SetDefault("ledger", filepath.Join(dir, "ledger.db"))
	v.SetDefault("client_secret", filepath.Join(dir, "client_secret.json"))
	v.SetDefault("token_dir", filepath.Join(dir, "tokens"))
	v.SetDefault("keyring_passphrase", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("verbose", false)
	v.SetDefault("backoff.initial_interval", p.InitialInterval)
	v.SetDefault("backoff.multiplier", p.Multiplier)
	v.SetDefault("backoff.randomization_factor", p.RandomizationFactor)
	v.SetDefault("backoff.max_interval", p.MaxInterval)
	v.SetDefault("backoff.max_elapsed_time", p.MaxElapsedTime)
}

// New returns a viper instance wired for env overrides and, when path is
// non-empty or the default file exists, a YAML config file.
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = filepath.Join(DefaultDir(), "config.yaml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return v, nil
		}
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	return v, nil
}

// Load decodes v into a Config.
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Mailbox = expandHome(cfg.Mailbox)
	cfg.Ledger = expandHome(cfg.Ledger)
	cfg.ClientSecret = expandHome(cfg.ClientSecret)
	cfg.TokenDir = expandHome(cfg.TokenDir)
	return cfg, nil
}

// Validate checks the settings an import run depends on.
func (c Config) Validate() error {
	switch {
	case c.Mailbox == "":
		return errors.New("mailbox is required")
	case c.User == "":
		return errors.New("user must not be empty")
	case c.MaxMessages < 0:
		return fmt.Errorf("max_messages must not be negative, got %d", c.MaxMessages)
	case c.BatchSize <= 0 || c.BatchSize > 100:
		return fmt.Errorf("batch_size must be within 1..100, got %d", c.BatchSize)
	case c.MaxRetries < 0:
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	case c.Concurrency <= 0:
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	case c.MaxRounds < 0:
		return fmt.Errorf("max_rounds must not be negative, got %d", c.MaxRounds)
	}
	if err := c.Backoff.Validate(); err != nil {
		return err
	}
	return nil
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
