// Package config loads application settings from an optional YAML file,
// CITY_EVENTS_ environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pfrederiksen/city-events/internal/logger"
	"github.com/pfrederiksen/city-events/internal/runlock"
	"github.com/pfrederiksen/city-events/internal/scraper"
	"github.com/pfrederiksen/city-events/internal/storage"
)

// EnvPrefix is prepended to every environment variable, e.g.
// CITY_EVENTS_STORE_DSN for store.dsn.
const EnvPrefix = "CITY_EVENTS"

// Config is the full application configuration
type Config struct {
	Server  ServerConfig     `mapstructure:"server"`
	Store   storage.Config   `mapstructure:"store"`
	Scraper ScraperConfig    `mapstructure:"scraper"`
	Sources []scraper.Source `mapstructure:"sources"`
	Lock    runlock.Config   `mapstructure:"lock"`
	Log     LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type ScraperConfig struct {
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ConfigurationError lists the settings that are missing or invalid
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("store.driver", storage.DriverSQLite)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.sqlite_path", storage.DefaultSQLitePath)
	v.SetDefault("scraper.timeout", scraper.Timeout)
	v.SetDefault("scraper.user_agent", scraper.UserAgent)
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.key", runlock.DefaultKey)
	v.SetDefault("lock.ttl", runlock.DefaultTTL)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", string(logger.FormatJSON))
	v.SetDefault("sources", []map[string]any{{
		"name":     scraper.VisitStockton.Name,
		"city":     scraper.VisitStockton.City,
		"region":   scraper.VisitStockton.Region,
		"base_url": scraper.VisitStockton.BaseURL,
	}})
}

// Load reads configuration from path (if non-empty), the environment and
// defaults. The result is not validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	return &cfg, nil
}

// Validate checks the settings needed to run. It returns a
// *ConfigurationError describing every problem found.
func (c *Config) Validate() error {
	cerr := &ConfigurationError{}

	switch c.Store.Driver {
	case storage.DriverPostgres:
		if c.Store.DSN == "" {
			cerr.Missing = append(cerr.Missing, "store.dsn")
		}
	case storage.DriverSQLite:
		if c.Store.SQLitePath == "" {
			cerr.Missing = append(cerr.Missing, "store.sqlite_path")
		}
	case "":
		cerr.Missing = append(cerr.Missing, "store.driver")
	default:
		cerr.Invalid = append(cerr.Invalid, "store.driver")
	}

	if len(c.Sources) == 0 {
		cerr.Missing = append(cerr.Missing, "sources")
	}
	for i, src := range c.Sources {
		if src.Name == "" {
			cerr.Missing = append(cerr.Missing, fmt.Sprintf("sources[%d].name", i))
		}
		if src.City == "" {
			cerr.Missing = append(cerr.Missing, fmt.Sprintf("sources[%d].city", i))
		}
		if src.BaseURL == "" {
			cerr.Missing = append(cerr.Missing, fmt.Sprintf("sources[%d].base_url", i))
		}
	}

	if c.Lock.RedisAddr != "" && c.Lock.TTL <= 0 {
		cerr.Invalid = append(cerr.Invalid, "lock.ttl")
	}
	if c.Scraper.Timeout <= 0 {
		cerr.Invalid = append(cerr.Invalid, "scraper.timeout")
	}
	switch logger.Format(strings.ToLower(c.Log.Format)) {
	case logger.FormatJSON, logger.FormatConsole, "":
	default:
		cerr.Invalid = append(cerr.Invalid, "log.format")
	}

	if len(cerr.Missing) > 0 || len(cerr.Invalid) > 0 {
		return cerr
	}
	return nil
}

// IsConfigurationError reports whether err is a *ConfigurationError
func IsConfigurationError(err error) bool {
	var cerr *ConfigurationError
	return errors.As(err, &cerr)
}

// EnvCheck reports which connection settings are present. Secret values are
// never included.
type EnvCheck struct {
	Driver     string          `json:"driver"`
	Keys       map[string]bool `json:"keys"`
	Missing    []string        `json:"missing"`
	Sources    int             `json:"sources"`
	Configured bool            `json:"configured"`
}

// Check summarizes the configuration for diagnostics
func (c *Config) Check() EnvCheck {
	check := EnvCheck{
		Driver: c.Store.Driver,
		Keys: map[string]bool{
			"store.driver":      c.Store.Driver != "",
			"store.dsn":         c.Store.DSN != "",
			"store.sqlite_path": c.Store.SQLitePath != "",
			"lock.redis_addr":   c.Lock.RedisAddr != "",
		},
		Missing: []string{},
		Sources: len(c.Sources),
	}

	var cerr *ConfigurationError
	if err := c.Validate(); errors.As(err, &cerr) {
		check.Missing = append(check.Missing, cerr.Missing...)
	} else {
		check.Configured = true
	}
	return check
}

// ScraperOptions converts the scraper settings into PageScraper options
func (c *Config) ScraperOptions() []scraper.Option {
	return []scraper.Option{
		scraper.WithTimeout(c.Scraper.Timeout),
		scraper.WithUserAgent(c.Scraper.UserAgent),
	}
}
