package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Import   ImportConfig   `mapstructure:"import"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig holds sqlite settings.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig holds the HS256 secret bearer tokens are verified with.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// ImportConfig tunes bulk imports.
type ImportConfig struct {
	PreviewRows   int           `mapstructure:"preview_rows"`
	MaxRows       int           `mapstructure:"max_rows"`
	DateLayouts   []string      `mapstructure:"date_layouts"`
	Timezone      string        `mapstructure:"timezone"`
	NotifyTimeout time.Duration `mapstructure:"notify_timeout"`
	// StaleAfter is how long a processing job may go without a heartbeat
	// before recovery fails it as interrupted.
	StaleAfter time.Duration `mapstructure:"stale_after"`
}

// NotifyConfig enables the Redis notifier when RedisAddr is set.
type NotifyConfig struct {
	RedisAddr    string `mapstructure:"redis_addr"`
	RedisChannel string `mapstructure:"redis_channel"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Location resolves the import timezone.
func (c ImportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Load reads configuration from file and env. Env var overrides use prefix JASKLEDGER_.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("database.path", filepath.Join(os.Getenv("HOME"), ".local", "share", "jaskledger", "jaskledger.db"))
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "15s")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("import.preview_rows", 5)
	v.SetDefault("import.max_rows", 50000)
	v.SetDefault("import.date_layouts", []string{})
	v.SetDefault("import.timezone", "UTC")
	v.SetDefault("import.notify_timeout", "5s")
	v.SetDefault("import.stale_after", "2m")
	v.SetDefault("notify.redis_addr", "")
	v.SetDefault("notify.redis_channel", "jaskledger:events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetConfigType("toml")

	cfgPath := os.Getenv("JASKLEDGER_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".config", "jaskledger"))
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("JASKLEDGER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// a missing file is fine, a broken one is not
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(cfgPath == "" && os.IsNotExist(err)) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

// Validate rejects settings the services cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Import.PreviewRows <= 0 {
		errs = append(errs, fmt.Errorf("import.preview_rows must be positive, got %d", c.Import.PreviewRows))
	}
	if c.Import.MaxRows <= 0 {
		errs = append(errs, fmt.Errorf("import.max_rows must be positive, got %d", c.Import.MaxRows))
	}
	if c.Import.StaleAfter <= 0 {
		errs = append(errs, fmt.Errorf("import.stale_after must be positive, got %s", c.Import.StaleAfter))
	}
	if _, err := c.Import.Location(); err != nil {
		errs = append(errs, fmt.Errorf("import.timezone: %w", err))
	}
	if c.HTTP.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("http.shutdown_timeout must not be negative"))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// Save writes the non-secret settings of cfg to disk, creating the config
// directory if needed. The JWT secret is never written; supply it via env.
func Save(cfg Config) (string, error) {
	path := os.Getenv("JASKLEDGER_CONFIG")
	if path == "" {
		path = filepath.Join(os.Getenv("HOME"), ".config", "jaskledger", "config.toml")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("mkdir config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("toml")
	v.Set("database.path", cfg.Database.Path)
	v.Set("http.addr", cfg.HTTP.Addr)
	v.Set("http.shutdown_timeout", cfg.HTTP.ShutdownTimeout.String())
	v.Set("import.preview_rows", cfg.Import.PreviewRows)
	v.Set("import.max_rows", cfg.Import.MaxRows)
	layouts := cfg.Import.DateLayouts
	if layouts == nil {
		layouts = []string{}
	}
	v.Set("import.date_layouts", layouts)
	v.Set("import.timezone", cfg.Import.Timezone)
	v.Set("import.notify_timeout", cfg.Import.NotifyTimeout.String())
	v.Set("import.stale_after", cfg.Import.StaleAfter.String())
	v.Set("notify.redis_addr", cfg.Notify.RedisAddr)
	v.Set("notify.redis_channel", cfg.Notify.RedisChannel)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.format", cfg.Log.Format)

	if err := v.WriteConfigAs(path); err != nil {
		return "", fmt.Errorf("write config: %w", err)
	}
	return path, nil
}
