// Package config loads the sharecast configuration from YAML, environment
// variables (SHARECAST_*), and defaults, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/blacktop/sharecast/internal/share"
)

// Credentials is one named credential profile for a provider.
type Credentials map[string]string

// Get returns the trimmed credential value for key, or "" when unset.
func (c Credentials) Get(key string) string {
	return strings.TrimSpace(c[key])
}

// ProviderConfig carries one provider's endpoint, poll tuning, and
// credential profiles.
type ProviderConfig struct {
	// BaseURL overrides the provider API host (tests, proxies).
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// GraphVersion is the Meta Graph API version segment (facebook, instagram).
	GraphVersion string `mapstructure:"graph_version"`

	// DefaultProfile names the profile used when none is requested.
	DefaultProfile string `mapstructure:"default_profile"`

	// PollAttempts bounds readiness polling, 0 keeps the driver default.
	PollAttempts int `mapstructure:"poll_attempts" validate:"gte=0"`

	// PollInterval is the fallback sleep between polls, 0 keeps the driver default.
	PollInterval time.Duration `mapstructure:"poll_interval" validate:"gte=0"`

	// Profiles maps profile name to credentials.
	Profiles map[string]Credentials `mapstructure:"profiles"`
}

// HTTPConfig tunes the shared transport.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" validate:"gte=0"`
	Retries        int           `mapstructure:"retries" validate:"gte=0"`
	RetrySleepMS   int           `mapstructure:"retry_sleep_ms" validate:"gte=0"`
}

// S3Config configures the S3-compatible temporary media store.
type S3Config struct {
	Endpoint      string `mapstructure:"endpoint"`
	AccessKey     string `mapstructure:"access_key"`
	SecretKey     string `mapstructure:"secret_key"`
	Bucket        string `mapstructure:"bucket"`
	Region        string `mapstructure:"region"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	PublicBaseURL string `mapstructure:"public_base_url"`
}

// TemporaryMediaConfig configures the staging store used to hand local
// files to providers that only accept URLs.
type TemporaryMediaConfig struct {
	// Disk selects the store driver.
	Disk string `mapstructure:"disk" validate:"required,oneof=local s3"`

	// Directory is the object prefix (and local base dir) for staged media.
	Directory string `mapstructure:"directory"`

	// Visibility is passed to the store when staging.
	Visibility string `mapstructure:"visibility" validate:"required,oneof=public private"`

	// BaseURL absolutizes relative store URLs.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// S3 is only used when Disk = "s3".
	S3 S3Config `mapstructure:"s3"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Verbose bool `mapstructure:"verbose"`
}

// Config is the complete sharecast configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	HTTP    HTTPConfig    `mapstructure:"http"`

	// DefaultProfile applies when neither the call nor the provider
	// section names one.
	DefaultProfile string `mapstructure:"default_profile"`

	// StrictOptionKeys makes the fluent builder reject unknown option keys.
	StrictOptionKeys bool `mapstructure:"strict_option_keys"`

	TemporaryMedia TemporaryMediaConfig `mapstructure:"temporary_media"`

	Facebook  ProviderConfig `mapstructure:"facebook"`
	Instagram ProviderConfig `mapstructure:"instagram"`
	Twitter   ProviderConfig `mapstructure:"twitter"`
	LinkedIn  ProviderConfig `mapstructure:"linkedin"`
}

// Provider returns the section for p.
func (c *Config) Provider(p share.Provider) *ProviderConfig {
	switch p {
	case share.Facebook:
		return &c.Facebook
	case share.Instagram:
		return &c.Instagram
	case share.Twitter:
		return &c.Twitter
	case share.LinkedIn:
		return &c.LinkedIn
	}
	return nil
}

// Profile resolves a credential profile for p: the explicitly requested
// name wins, then the provider's default, then the global default, then
// "default". A missing profile is a ConfigError.
func (c *Config) Profile(p share.Provider, name string) (Credentials, error) {
	pc := c.Provider(p)
	if pc == nil {
		return nil, share.ConfigError{Provider: p, Reason: "unknown provider section"}
	}

	resolved := name
	if resolved == "" {
		resolved = pc.DefaultProfile
	}
	if resolved == "" {
		resolved = c.DefaultProfile
	}
	if resolved == "" {
		resolved = "default"
	}

	creds, ok := pc.Profiles[resolved]
	if !ok {
		return nil, share.ConfigError{
			Provider: p,
			Reason:   fmt.Sprintf("profile %q is not configured", resolved),
		}
	}
	return creds, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Precedence (highest to lowest): environment variables (SHARECAST_*),
// configuration file, defaults. An empty configPath searches the current
// directory and $HOME/.config/sharecast for sharecast.yaml.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setupViper(v *viper.Viper, configPath string) {
	// SHARECAST_HTTP_RETRIES=5, SHARECAST_TWITTER_BASE_URL=..., etc.
	v.SetEnvPrefix("SHARECAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		return
	}
	v.AddConfigPath(".")
	v.AddConfigPath(configDir())
	v.SetConfigName("sharecast")
	v.SetConfigType("yaml")
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sharecast")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "sharecast")
}

// ApplyDefaults fills zero values with the reference defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.ConnectTimeout == 0 {
		cfg.HTTP.ConnectTimeout = 10 * time.Second
	}
	if cfg.HTTP.Retries == 0 {
		cfg.HTTP.Retries = 2
	}
	if cfg.HTTP.RetrySleepMS == 0 {
		cfg.HTTP.RetrySleepMS = 500
	}
	if cfg.TemporaryMedia.Disk == "" {
		cfg.TemporaryMedia.Disk = "local"
	}
	if cfg.TemporaryMedia.Directory == "" {
		cfg.TemporaryMedia.Directory = "temp-share-media"
	}
	if cfg.TemporaryMedia.Visibility == "" {
		cfg.TemporaryMedia.Visibility = "public"
	}
}

// Validate runs struct validation over the whole configuration.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}
