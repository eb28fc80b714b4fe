package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	LogLevel   string        `mapstructure:"log_level"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	SendBuffer int           `mapstructure:"send_buffer"`

	HistoryLimit          int  `mapstructure:"history_limit"`
	EnforceServerBoundary bool `mapstructure:"enforce_server_boundary"`

	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	Features  Features  `mapstructure:"features"`
	Auth      Auth      `mapstructure:"auth"`
	Database  Database  `mapstructure:"database"`
	Redis     Redis     `mapstructure:"redis"`
	RateLimit RateLimit `mapstructure:"rate_limit"`
	Seed      Seed      `mapstructure:"seed"`
}

type Features struct {
	Friends        bool `mapstructure:"friends"`
	DirectMessages bool `mapstructure:"direct_messages"`
}

type Auth struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	Issuer        string `mapstructure:"issuer"`
	AutoProvision bool   `mapstructure:"auto_provision"`
}

type Database struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type RateLimit struct {
	Backend  string        `mapstructure:"backend"`
	Events   int           `mapstructure:"events"`
	Interval time.Duration `mapstructure:"interval"`
}

type Seed struct {
	Server   string   `mapstructure:"server"`
	Channels []string `mapstructure:"channels"`
}

// PongWait is how long a connection may stay silent before it is dropped.
func (c *Config) PongWait() time.Duration {
	return c.PingPeriod * 10 / 9
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("log_level", "info")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("send_buffer", 64)
	v.SetDefault("history_limit", 100)
	v.SetDefault("enforce_server_boundary", false)
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("features.friends", true)
	v.SetDefault("features.direct_messages", true)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "cordor")
	v.SetDefault("auth.auto_provision", false)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.events", 20)
	v.SetDefault("rate_limit.interval", "1s")
	v.SetDefault("seed.server", "Cordor")
	v.SetDefault("seed.channels", []string{"general", "random", "announcements", "help"})
}

// Load reads config/config.<CONFIG_ENV>.yaml, then applies environment
// overrides (auth.jwt_secret -> AUTH_JWT_SECRET).
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Bool("friends", cfg.Features.Friends).Bool("dms", cfg.Features.DirectMessages).
		Str("rate_limit", cfg.RateLimit.Backend).Bool("postgres", cfg.Database.URL != "").Msg("config")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("rate_limit.backend=redis needs redis.addr")
		}
	default:
		return fmt.Errorf("unknown rate_limit.backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Events <= 0 || c.RateLimit.Interval <= 0 {
		return fmt.Errorf("rate_limit.events and rate_limit.interval must be positive")
	}
	if c.PingPeriod <= 0 || c.WriteWait <= 0 {
		return fmt.Errorf("ping_period and write_wait must be positive")
	}
	return nil
}
