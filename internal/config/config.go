package config

import (
	"fmt"
	"graceq/internal/domain"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Redis     Redis
	HTTP      HTTP
	Scheduler Scheduler
	Defaults  Defaults
	Log       Log
}

type Redis struct {
	Addr      string `env:"REDIS_ADDRESS" envDefault:"localhost:6379"`
	Password  string `env:"REDIS_PASSWORD"`
	DB        int    `env:"REDIS_DB" envDefault:"0"`
	KeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"graceq:"`
}

type HTTP struct {
	Port           int      `env:"HTTP_PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
}

type Scheduler struct {
	Store         string        `env:"SCHEDULER_STORE" envDefault:"redis"`
	Wakeups       string        `env:"SCHEDULER_WAKEUPS" envDefault:"redis"`
	PollInterval  time.Duration `env:"SCHEDULER_POLL_INTERVAL" envDefault:"1s"`
	SweepInterval time.Duration `env:"SCHEDULER_SWEEP_INTERVAL" envDefault:"1h"`
	Retention     time.Duration `env:"SCHEDULER_RETENTION" envDefault:"15m"`
	ClaimTTL      time.Duration `env:"SCHEDULER_CLAIM_TTL" envDefault:"2m"`
	TargetTimeout time.Duration `env:"SCHEDULER_TARGET_TIMEOUT" envDefault:"5s"`
	TargetGrace   time.Duration `env:"SCHEDULER_TARGET_GRACE" envDefault:"2m"`
	Timezone      string        `env:"SCHEDULER_TIMEZONE"`
}

// Defaults seed the persisted settings until a user saves their own.
type Defaults struct {
	Enabled        bool `env:"DEFAULT_ENABLED" envDefault:"true"`
	DelaySeconds   int  `env:"DEFAULT_DELAY_SECONDS" envDefault:"60"`
	SmartDelay     bool `env:"DEFAULT_SMART_DELAY" envDefault:"false"`
	AfterHours     bool `env:"DEFAULT_SMART_DELAY_AFTER_HOURS" envDefault:"true"`
	Weekends       bool `env:"DEFAULT_SMART_DELAY_WEEKENDS" envDefault:"true"`
	IncreasedDelay int  `env:"DEFAULT_SMART_DELAY_SECONDS" envDefault:"300"`
	Notify         bool `env:"DEFAULT_NOTIFY" envDefault:"true"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() *Config {
	c, err := Parse()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	return c
}

// Parse reads an optional .env file and then the process environment.
func Parse() (*Config, error) {
	_ = godotenv.Load()

	var c Config
	if err := env.Parse(&c); err != nil {
		return nil, err
	}
	if _, err := c.Location(); err != nil {
		return nil, err
	}
	if err := c.Defaults.Settings().Validate(); err != nil {
		return nil, err
	}
	switch c.Scheduler.Store {
	case "redis", "memory":
	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Scheduler.Store)
	}
	switch c.Scheduler.Wakeups {
	case "redis", "timer":
	default:
		return nil, fmt.Errorf("unknown wakeup backend %q", c.Scheduler.Wakeups)
	}
	if c.Scheduler.Store == "memory" && c.Scheduler.Wakeups == "redis" {
		return nil, fmt.Errorf("redis wakeups need the redis store")
	}
	return &c, nil
}

// Location is the zone in which after-hours and weekend overrides are evaluated.
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Scheduler.Timezone, err)
	}
	return loc, nil
}

func (d Defaults) Settings() domain.Settings {
	return domain.Settings{
		Enabled:      d.Enabled,
		DelaySeconds: d.DelaySeconds,
		SmartDelay: domain.Policy{
			Enabled:               d.SmartDelay,
			AfterHours:            d.AfterHours,
			Weekends:              d.Weekends,
			IncreasedDelaySeconds: d.IncreasedDelay,
		},
		Notifications: domain.Notifications{Desktop: d.Notify},
	}
}
