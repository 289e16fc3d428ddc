// Package config loads pipeline configuration from defaults, an optional
// YAML file and OFFERS_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/Sternrassler/offer-pipeline/pkg/auth"
	"github.com/Sternrassler/offer-pipeline/pkg/client"
	"github.com/Sternrassler/offer-pipeline/pkg/pagination"
	"github.com/spf13/viper"
)

// ErrNoPartitionsFile is returned by ValidateFetch when no partition key
// file is configured.
var ErrNoPartitionsFile = errors.New("fetch.partitions_file is required (OFFERS_FETCH_PARTITIONS_FILE)")

// EnvPrefix prefixes every environment variable, e.g. OFFERS_API_CLIENT_ID.
const EnvPrefix = "OFFERS"

// Config is the complete pipeline configuration.
type Config struct {
	API struct {
		ClientID       string        `mapstructure:"client_id"`
		ClientSecret   string        `mapstructure:"client_secret"`
		Scope          string        `mapstructure:"scope"`
		Realm          string        `mapstructure:"realm"`
		TokenURL       string        `mapstructure:"token_url"`
		BaseURL        string        `mapstructure:"base_url"`
		UserAgent      string        `mapstructure:"user_agent"`
		RequestTimeout time.Duration `mapstructure:"request_timeout"`
	} `mapstructure:"api"`

	Fetch struct {
		PageSize       int           `mapstructure:"page_size"`
		MaxOffset      int           `mapstructure:"max_offset"`
		Workers        int           `mapstructure:"workers"`
		MinInterval    time.Duration `mapstructure:"min_interval"`
		MaxRetries     int           `mapstructure:"max_retries"`
		InitialBackoff time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff"`
		PartitionsFile string        `mapstructure:"partitions_file"`
		FilterByDate   bool          `mapstructure:"filter_by_date"`
	} `mapstructure:"fetch"`

	Token struct {
		SafetyMargin time.Duration `mapstructure:"safety_margin"`
	} `mapstructure:"token"`

	Bronze struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"bronze"`

	Silver struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
		Dir    string `mapstructure:"dir"`
	} `mapstructure:"silver"`

	Audit struct {
		File     string `mapstructure:"file"`
		RedisURL string `mapstructure:"redis_url"`
		Stream   string `mapstructure:"stream"`
	} `mapstructure:"audit"`

	Log struct {
		Level  string `mapstructure:"level"`
		Pretty bool   `mapstructure:"pretty"`
	} `mapstructure:"log"`

	Timezone string `mapstructure:"timezone"`

	Schedule struct {
		Spec string `mapstructure:"spec"`
	} `mapstructure:"schedule"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`
}

// NewViper returns a viper instance with defaults and environment binding.
// configFile is read when non-empty.
func NewViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	return v, nil
}

// Load unmarshals and validates the configuration held by v.
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

// Validate checks values that do not depend on the command being run.
// Credentials are checked by ValidateFetch.
func (c *Config) Validate() error {
	if c.Fetch.PageSize < 1 || c.Fetch.PageSize > client.DefaultPageSize {
		return fmt.Errorf("fetch.page_size must be between 1 and %d, got %d", client.DefaultPageSize, c.Fetch.PageSize)
	}
	if c.Fetch.Workers < 1 {
		return fmt.Errorf("fetch.workers must be at least 1, got %d", c.Fetch.Workers)
	}
	if c.Fetch.MinInterval <= 0 {
		return fmt.Errorf("fetch.min_interval must be positive, got %v", c.Fetch.MinInterval)
	}
	if c.Fetch.MaxRetries < 0 {
		return fmt.Errorf("fetch.max_retries must not be negative, got %d", c.Fetch.MaxRetries)
	}
	if c.Fetch.MaxOffset < 0 {
		return fmt.Errorf("fetch.max_offset must not be negative, got %d", c.Fetch.MaxOffset)
	}
	switch c.Silver.Driver {
	case "sqlite3", "pgx", "csv":
	default:
		return fmt.Errorf("silver.driver must be sqlite3, pgx or csv, got %q", c.Silver.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// ValidateFetch checks what a fetch run additionally needs.
func (c *Config) ValidateFetch() error {
	if c.API.ClientID == "" || c.API.ClientSecret == "" {
		return fmt.Errorf("api.client_id and api.client_secret are required (OFFERS_API_CLIENT_ID, OFFERS_API_CLIENT_SECRET)")
	}
	if c.API.TokenURL == "" || c.API.BaseURL == "" {
		return fmt.Errorf("api.token_url and api.base_url are required")
	}
	if strings.TrimSpace(c.Fetch.PartitionsFile) == "" {
		return ErrNoPartitionsFile
	}
	return nil
}

// Location returns the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// AuthConfig returns the token manager configuration.
func (c *Config) AuthConfig() auth.Config {
	return auth.Config{
		ClientID:     c.API.ClientID,
		ClientSecret: c.API.ClientSecret,
		TokenURL:     c.API.TokenURL,
		Scopes:       strings.Fields(c.API.Scope),
		Realm:        c.API.Realm,
		SafetyMargin: c.Token.SafetyMargin,
		Timeout:      c.API.RequestTimeout,
	}
}

// ClientConfig returns the page fetcher configuration.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.API.BaseURL)
	cfg.UserAgent = c.API.UserAgent
	cfg.RequestTimeout = c.API.RequestTimeout
	cfg.Retry.MaxRetries = c.Fetch.MaxRetries
	cfg.Retry.InitialBackoff = c.Fetch.InitialBackoff
	cfg.Retry.MaxBackoff = c.Fetch.MaxBackoff
	return cfg
}

// ScanConfig returns the partition scanner configuration.
func (c *Config) ScanConfig() pagination.ScanConfig {
	return pagination.ScanConfig{
		PageSize:  c.Fetch.PageSize,
		MaxOffset: c.Fetch.MaxOffset,
	}
}
