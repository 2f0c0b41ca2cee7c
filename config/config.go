package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/chai-project/chai-data-sources/efergy"
	"github.com/chai-project/chai-data-sources/netatmo"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the application configuration
type Config struct {
	Efergy   EfergyConfig   `mapstructure:"efergy"`
	Netatmo  NetatmoConfig  `mapstructure:"netatmo"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Poll     PollConfig     `mapstructure:"poll"`
}

// EfergyConfig contains Efergy meter API settings
type EfergyConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

// NetatmoConfig contains Netatmo API settings. The refresh token here is only
// a seed: once the pair rotates, the persisted pair takes precedence.
type NetatmoConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	AccessToken  string `mapstructure:"access_token"`
	APIURL       string `mapstructure:"api_url"`
	OAuthURL     string `mapstructure:"oauth_url"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // "debug", "info", "warn", "error"
	Format string `mapstructure:"format"` // "json" or "text"
}

// PollConfig contains the polling schedules, in cron syntax
// (descriptors like "@every 30s" included).
type PollConfig struct {
	Power       string `mapstructure:"power"`
	Temperature string `mapstructure:"temperature"`
	Status      string `mapstructure:"status"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Efergy.Token == "" {
		return fmt.Errorf("%w: an Efergy token is required", ErrInvalidConfig)
	}

	if c.Netatmo.ClientID == "" || c.Netatmo.ClientSecret == "" || c.Netatmo.RefreshToken == "" {
		return fmt.Errorf("%w: Netatmo credentials are required", ErrInvalidConfig)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("%w: logging format must be json or text", ErrInvalidConfig)
	}

	if c.Poll.Power == "" || c.Poll.Temperature == "" || c.Poll.Status == "" {
		return fmt.Errorf("%w: polling schedules are required", ErrInvalidConfig)
	}

	return nil
}

// Load loads configuration from the file at path, with CHAI_-prefixed
// environment variables overriding file values (CHAI_EFERGY_TOKEN overrides
// efergy.token, and so on).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("efergy.base_url", efergy.DefaultBaseURL)
	v.SetDefault("netatmo.api_url", netatmo.DefaultAPIURL)
	v.SetDefault("netatmo.oauth_url", netatmo.DefaultOAuthURL)
	v.SetDefault("database.path", "./chai.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("poll.power", "@every 1m")
	v.SetDefault("poll.temperature", "@every 4m")
	v.SetDefault("poll.status", "@every 5m")

	v.SetEnvPrefix("CHAI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings make the environment overrides visible to Unmarshal.
	for _, key := range []string{
		"efergy.token", "efergy.base_url",
		"netatmo.client_id", "netatmo.client_secret",
		"netatmo.refresh_token", "netatmo.access_token",
		"netatmo.api_url", "netatmo.oauth_url",
		"database.path",
		"logging.level", "logging.format",
		"poll.power", "poll.temperature", "poll.status",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}
