// Package config loads the server configuration.
//
// Sources, lowest to highest precedence: built-in defaults, an optional YAML
// file, and MYDRIVE_* environment variables (e.g. MYDRIVE_LISTEN_ADDR).
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MYDRIVE"

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `mapstructure:"listen_addr" validate:"required"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// Logging
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Storage
	StorageRoot   string `mapstructure:"storage_root" validate:"required"`
	MaxUploadSize int64  `mapstructure:"max_upload_size" validate:"gt=0"`

	// Database (postgres://... or sqlite://path)
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// Auth
	JWTSecret string        `mapstructure:"jwt_secret" validate:"required,min=16"`
	TokenTTL  time.Duration `mapstructure:"token_ttl" validate:"gt=0"`

	// Share links are rendered against this base; empty means the request host.
	PublicBaseURL string `mapstructure:"public_base_url" validate:"omitempty,url"`

	// TLS (optional, if both set the server uses HTTPS)
	TLSCertFile string `mapstructure:"tls_cert_file" validate:"required_with=TLSKeyFile"`
	TLSKeyFile  string `mapstructure:"tls_key_file" validate:"required_with=TLSCertFile"`

	WebDAVEnabled bool `mapstructure:"webdav_enabled"`

	v *viper.Viper
}

// defaults mirrors the keys of Config.
var defaults = map[string]any{
	"listen_addr":     ":5000",
	"metrics_addr":    ":9090",
	"log_level":       "info",
	"log_format":      "json",
	"storage_root":    "./myDrive_data",
	"max_upload_size": int64(1 << 30),
	"database_url":    "sqlite://./myDrive_data/.mydrive.db",
	"jwt_secret":      "",
	"token_ttl":       720 * time.Hour,
	"public_base_url": "",
	"tls_cert_file":   "",
	"tls_key_file":    "",
	"webdav_enabled":  true,
}

var validate = newValidator()

// newValidator reports fields by their config key instead of the Go name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("mapstructure")
	})
	return v
}

// Load reads configuration from the optional file at path and the environment.
// An empty path means no file; a missing file at a given path is an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cfg.v = v
	return cfg, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Validate checks cfg against its struct tags.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError reports the first failing field by its config key.
func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: failed %q check", e.Field(), e.Tag())
	}
	return err
}

// FileUsed returns the config file path, or "" when running from env only.
func (c *Config) FileUsed() string {
	if c.v == nil {
		return ""
	}
	return c.v.ConfigFileUsed()
}

// Watch re-reads the config file whenever it changes and passes each valid
// new configuration to onChange. Invalid edits are reported through onError
// and otherwise ignored. Watch returns false when there is no file to watch.
func (c *Config) Watch(onChange func(*Config), onError func(error)) bool {
	if c.FileUsed() == "" {
		return false
	}
	c.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		next, err := decode(c.v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		next.v = c.v
		onChange(next)
	})
	c.v.WatchConfig()
	return true
}
