package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/lastofguss/guss/internal/gateway"
	"github.com/lastofguss/guss/internal/relay"
	"github.com/lastofguss/guss/internal/rounds"
	"github.com/lastofguss/guss/internal/scheduler"
	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from the environment;
// an optional YAML file (CONFIG_PATH) overrides the game timing knobs.
type Config struct {
	Port     string
	Database DatabaseConfig
	Auth     AuthConfig
	Game     rounds.Config
	Sched    scheduler.Config
	Socket   gateway.Config

	// NATSURL enables the JetStream relay when non-empty.
	NATSURL string
	Relay   relay.Config
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// URL renders the config as a connection URL for the given scheme.
func (c DatabaseConfig) URL(scheme string) string {
	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		scheme, c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

// fileConfig is the YAML overlay shape for game timing. Durations are Go
// duration strings ("30s", "1m").
type fileConfig struct {
	Game struct {
		RoundDuration    string `yaml:"round_duration"`
		CooldownDuration string `yaml:"cooldown_duration"`
	} `yaml:"game"`
	Scheduler struct {
		Interval  string `yaml:"interval"`
		Lookahead string `yaml:"lookahead"`
		Tolerance string `yaml:"tolerance"`
	} `yaml:"scheduler"`
}

func loadConfig() (*Config, error) {
	config := &Config{
		Port: getEnv("PORT", "8080"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "guss"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  getEnvAsDuration("TOKEN_TTL", 24*time.Hour),
		},
		Game: rounds.Config{
			RoundDuration:    getEnvAsDuration("ROUND_DURATION", time.Minute),
			CooldownDuration: getEnvAsDuration("COOLDOWN_DURATION", 30*time.Second),
		},
		Sched:   scheduler.DefaultConfig(),
		Socket:  gateway.DefaultConfig(),
		NATSURL: os.Getenv("NATS_URL"),
		Relay:   relay.DefaultConfig(),
	}
	if config.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if config.NATSURL != "" {
		config.Relay.URL = config.NATSURL
	}

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := applyFileConfig(config, path); err != nil {
			return nil, err
		}
	}
	return config, nil
}

func applyFileConfig(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	overrides := []struct {
		value  string
		target *time.Duration
	}{
		{file.Game.RoundDuration, &config.Game.RoundDuration},
		{file.Game.CooldownDuration, &config.Game.CooldownDuration},
		{file.Scheduler.Interval, &config.Sched.Interval},
		{file.Scheduler.Lookahead, &config.Sched.Lookahead},
		{file.Scheduler.Tolerance, &config.Sched.Tolerance},
	}
	for _, o := range overrides {
		if o.value == "" {
			continue
		}
		d, err := time.ParseDuration(o.value)
		if err != nil {
			return fmt.Errorf("failed to parse duration %q in config: %w", o.value, err)
		}
		*o.target = d
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
