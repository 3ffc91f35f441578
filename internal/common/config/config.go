// internal/common/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the main console configuration struct.
type Config struct {
	App             AppConfig             `mapstructure:"app"`
	DecisionService DecisionServiceConfig `mapstructure:"decision_service"`
	Orchestration   OrchestrationConfig   `mapstructure:"orchestration"`
	Session         SessionConfig         `mapstructure:"session"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Transcript      TranscriptConfig      `mapstructure:"transcript"`
	Typewriter      TypewriterConfig      `mapstructure:"typewriter"`
	Metrics         MetricsConfig         `mapstructure:"metrics"`
	Logging         LoggingConfig         `mapstructure:"logging"`
}

// --- Core App Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

// DecisionServiceConfig points the console at the remote Decision Service.
type DecisionServiceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
	Timeout int    `mapstructure:"timeout"` // milliseconds
}

// OrchestrationConfig bounds the per-step playback delay. The delay is drawn
// uniformly from [MinDelay, MaxDelay).
type OrchestrationConfig struct {
	MinDelay int `mapstructure:"min_delay"` // milliseconds
	MaxDelay int `mapstructure:"max_delay"` // milliseconds
}

type SessionConfig struct {
	Store string `mapstructure:"store"` // memory | redis
	TTL   int    `mapstructure:"ttl"`   // seconds
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// TranscriptConfig enables the Postgres audit copy of the conversation log.
type TranscriptConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TypewriterConfig struct {
	Enabled  bool `mapstructure:"enabled"`
	Interval int  `mapstructure:"interval"` // milliseconds per character
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RequestTimeout is the bounded timeout applied to every Decision Service call.
func (c DecisionServiceConfig) RequestTimeout() time.Duration {
	return GetDuration(c.Timeout)
}

// DelayRange returns the playback delay bounds.
func (o OrchestrationConfig) DelayRange() (time.Duration, time.Duration) {
	return GetDuration(o.MinDelay), GetDuration(o.MaxDelay)
}

func (s SessionConfig) Lifetime() time.Duration {
	return time.Duration(s.TTL) * time.Second
}
