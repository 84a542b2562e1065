package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the battle service.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Battle     BattleConfig     `mapstructure:"battle"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AuthConfig captures authentication settings.
type AuthConfig struct {
	JWT JWTSettings `mapstructure:"jwt"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// BattleConfig tunes room lifecycle and live traffic behaviour.
type BattleConfig struct {
	Deadline          time.Duration `mapstructure:"deadline"`
	GracePeriod       time.Duration `mapstructure:"grace_period"`
	StaleFormingAge   time.Duration `mapstructure:"stale_forming_age"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MaxParticipants   int           `mapstructure:"max_participants"`
	ChatHistory       int           `mapstructure:"chat_history"`
	StrictProgress    bool          `mapstructure:"strict_progress"`
	FanoutConcurrency int           `mapstructure:"fanout_concurrency"`
	JudgeTimeout      time.Duration `mapstructure:"judge_timeout"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
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

	v.SetEnvPrefix("LEARNYZER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/battles.sqlite")

	v.SetDefault("auth.jwt.issuer", "learnyzer")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")

	v.SetDefault("battle.deadline", "10m")
	v.SetDefault("battle.grace_period", "2m")
	v.SetDefault("battle.stale_forming_age", "30m")
	v.SetDefault("battle.idle_timeout", "5m")
	v.SetDefault("battle.max_participants", 8)
	v.SetDefault("battle.chat_history", 100)
	v.SetDefault("battle.strict_progress", false)
	v.SetDefault("battle.fanout_concurrency", 8)
	v.SetDefault("battle.judge_timeout", "5s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}
