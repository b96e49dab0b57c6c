package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config describes all runtime settings for the table server.
//
// Loaded once in main, validated, then passed down explicitly.
type Config struct {
	Env string `envconfig:"APP_ENV" default:"dev"` // dev|stage|prod

	Log struct {
		Format string `envconfig:"LOG_FORMAT" default:"text"` // text|json
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
	}

	HTTP struct {
		Addr              string        `envconfig:"HTTP_ADDR" default:":8080"`
		ReadHeaderTimeout time.Duration `envconfig:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
		IdleTimeout       time.Duration `envconfig:"HTTP_IDLE_TIMEOUT" default:"60s"`
		ShutdownTimeout   time.Duration `envconfig:"HTTP_SHUTDOWN_TIMEOUT" default:"10s"`
	}

	// Postgres keeps player and round history. Empty URL disables it.
	Postgres struct {
		URL           string `envconfig:"DATABASE_URL"`
		RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	}

	// Redis keeps the identity roster across restarts. Empty Addr disables it.
	Redis struct {
		Addr       string        `envconfig:"REDIS_ADDR"`
		DB         int           `envconfig:"REDIS_DB" default:"0"`
		SessionTTL time.Duration `envconfig:"SESSION_TTL" default:"12h"`
	}

	Table struct {
		ID string `envconfig:"TABLE_ID" default:"table"`
		// Secret signs join tokens, base58. Random per process when empty.
		Secret       string        `envconfig:"TABLE_SECRET"`
		TokenTTL     time.Duration `envconfig:"JOIN_TOKEN_TTL" default:"0"`
		PublicIP     string        `envconfig:"PUBLIC_IP" default:"127.0.0.1"`
		PublicPort   int           `envconfig:"PUBLIC_PORT" default:"8080"`
		WifiName     string        `envconfig:"WIFI_NAME"`
		WifiPassword string        `envconfig:"WIFI_PASSWORD"`
		Dedicated    bool          `envconfig:"DEDICATED" default:"true"`
	}

	Game struct {
		ActionTimeout   time.Duration `envconfig:"ACTION_TIMEOUT" default:"30s"`
		IdentifyTimeout time.Duration `envconfig:"IDENTIFY_TIMEOUT" default:"5s"`
		PingPeriod      time.Duration `envconfig:"PING_PERIOD" default:"25s"`
		WriteWait       time.Duration `envconfig:"WRITE_WAIT" default:"10s"`
		SendBuffer      int           `envconfig:"SEND_BUFFER" default:"64"`
	}

	Session struct {
		Grace time.Duration `envconfig:"SESSION_GRACE" default:"60s"`
	}

	Futures struct {
		Retention     time.Duration `envconfig:"FUTURE_RETENTION" default:"1m"`
		SweepInterval time.Duration `envconfig:"FUTURE_SWEEP_INTERVAL" default:"30s"`
	}
}

func LoadFromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("HTTP addr is empty")
	}
	if c.Table.ID == "" {
		return errors.New("TABLE_ID is empty")
	}
	if c.Env != "dev" && c.Table.Secret == "" {
		return fmt.Errorf("refuse to run with a throwaway TABLE_SECRET in %s", c.Env)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("unsupported LOG_FORMAT=%q (want text|json)", c.Log.Format)
	}
	if c.Postgres.RunMigrations && c.Postgres.URL == "" {
		return errors.New("RUN_MIGRATIONS needs DATABASE_URL")
	}
	if c.Session.Grace <= 0 {
		return errors.New("SESSION_GRACE must be positive")
	}
	if c.Game.ActionTimeout <= 0 {
		return errors.New("ACTION_TIMEOUT must be positive")
	}
	if c.Game.SendBuffer <= 0 {
		return errors.New("SEND_BUFFER must be positive")
	}
	if c.Table.PublicPort <= 0 || c.Table.PublicPort > 65535 {
		return fmt.Errorf("PUBLIC_PORT=%d out of range", c.Table.PublicPort)
	}
	return nil
}
