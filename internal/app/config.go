package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

// Config represents the runtime configuration for the collaboration server.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Collab     CollabConfig     `mapstructure:"collab"`
	Auth       AuthConfig       `mapstructure:"auth"`
	History    HistoryConfig    `mapstructure:"history"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// CollabConfig tunes the synchronization engine.
type CollabConfig struct {
	LockLease           time.Duration `mapstructure:"lock_lease"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
}

// SweepSchedule renders the sweep interval as a cron specification.
func (c CollabConfig) SweepSchedule() string {
	interval := c.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return fmt.Sprintf("@every %s", interval)
}

// AuthConfig captures token validation settings for the websocket boundary.
type AuthConfig struct {
	Enabled bool        `mapstructure:"enabled"`
	JWT     JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT validation.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"token_ttl"`
}

// HistoryConfig toggles durable auditing of lock and conflict events.
type HistoryConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations the server cannot start with. All
// violations are reported together.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	var err error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port %d is out of range", c.Server.Port))
	}
	if c.Auth.Enabled && strings.TrimSpace(c.Auth.JWT.Secret) == "" {
		err = multierr.Append(err, errors.New("auth.jwt.secret must be configured when auth is enabled"))
	}
	if c.Collab.SweepInterval < 0 || c.Collab.LockLease < 0 || c.Collab.InactivityThreshold < 0 {
		err = multierr.Append(err, errors.New("collab durations must not be negative"))
	}
	return err
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("collab.lock_lease", "300s")
	v.SetDefault("collab.sweep_interval", "30s")
	v.SetDefault("collab.inactivity_threshold", "5m")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.jwt.token_ttl", "12h")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.database.driver", "sqlite")
	v.SetDefault("history.database.path", "./data/collab.sqlite")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
