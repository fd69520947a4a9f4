// Package config loads service settings from a YAML file, the environment
// and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix is prepended to every environment variable, e.g. CARPRICE_MODEL_PATH.
const EnvPrefix = "CARPRICE"

// Settings holds the service configuration.
type Settings struct {
	Server  ServerSettings  `mapstructure:"server"`
	Model   ModelSettings   `mapstructure:"model"`
	Cache   CacheSettings   `mapstructure:"cache"`
	Batch   BatchSettings   `mapstructure:"batch"`
	Log     LogSettings     `mapstructure:"log"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

// ServerSettings configures the HTTP listener.
type ServerSettings struct {
	Address         string        `mapstructure:"address"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelSettings locates the model artifact.
type ModelSettings struct {
	Path string `mapstructure:"path"`
}

// CacheSettings configures prediction memoization.
type CacheSettings struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// BatchSettings limits the batch prediction endpoint.
type BatchSettings struct {
	MaxSize     int `mapstructure:"max_size"`
	Concurrency int `mapstructure:"concurrency"`
}

// LogSettings configures the zap logger.
type LogSettings struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("model.path", "model.yaml")
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl", 10*time.Minute)
	v.SetDefault("batch.max_size", 100)
	v.SetDefault("batch.concurrency", 8)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// SERVER_ADDRESS predates the prefixed variables.
	_ = v.BindEnv("server.address", EnvPrefix+"_SERVER_ADDRESS", "SERVER_ADDRESS")
	return v
}

// BindFlags maps command line flags onto configuration keys. Flags that are
// absent from fs are skipped.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	keys := map[string]string{
		"server.address": "addr",
		"model.path":     "model",
		"log.level":      "log-level",
	}
	for key, name := range keys {
		flag := fs.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("binding flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads the optional config file and unmarshals the settings. An empty
// file searches for config.yaml in the working directory and /etc/carprice.
func Load(v *viper.Viper, file string) (*Settings, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/carprice")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// Validate checks the settings for values the service cannot run with.
func (s *Settings) Validate() error {
	var errs []error
	if s.Model.Path == "" {
		errs = append(errs, errors.New("model.path must be set"))
	}
	if s.Server.Address == "" {
		errs = append(errs, errors.New("server.address must be set"))
	}
	if s.Batch.MaxSize <= 0 {
		errs = append(errs, fmt.Errorf("batch.max_size must be positive, got %d", s.Batch.MaxSize))
	}
	if s.Batch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("batch.concurrency must be positive, got %d", s.Batch.Concurrency))
	}
	if s.Cache.Enabled && s.Cache.TTL <= 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be positive when the cache is enabled, got %s", s.Cache.TTL))
	}
	if _, err := zapcore.ParseLevel(s.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if s.Metrics.Enabled && !strings.HasPrefix(s.Metrics.Path, "/") {
		errs = append(errs, fmt.Errorf("metrics.path must start with /, got %q", s.Metrics.Path))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
