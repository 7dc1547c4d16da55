// Package config loads service configuration from LICENSED_* environment
// variables, optionally overlaid by a YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const envPrefix = "LICENSED"

type Config struct {
	Server    ServerConfig    `yaml:"server" envconfig:"SERVER"`
	DB        DBConfig        `yaml:"db" envconfig:"DB"`
	Admin     AdminConfig     `yaml:"admin" envconfig:"ADMIN"`
	Audit     AuditConfig     `yaml:"audit" envconfig:"AUDIT"`
	Telegram  TelegramConfig  `yaml:"telegram" envconfig:"TELEGRAM"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Log       LogConfig       `yaml:"log" envconfig:"LOG"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" split_words:"true" default:":10000" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" split_words:"true" default:"10s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" split_words:"true" default:"10s"`
	// SecureCookies marks the admin session cookie Secure; enable behind TLS.
	SecureCookies bool `yaml:"secure_cookies" split_words:"true"`
	// TrustProxy takes client addresses from X-Forwarded-For; enable only
	// behind a reverse proxy that sets it.
	TrustProxy bool `yaml:"trust_proxy" split_words:"true"`
}

type DBConfig struct {
	Driver string `yaml:"driver" split_words:"true" default:"sqlite" validate:"oneof=sqlite bbolt"`
	Path   string `yaml:"path" split_words:"true" default:"./data/licenses.db" validate:"required"`
}

type AdminConfig struct {
	// Password is either plain text or an $argon2id$ encoded hash.
	Password       string        `yaml:"password" split_words:"true" validate:"required"`
	SessionTTL     time.Duration `yaml:"session_ttl" split_words:"true" default:"12h" validate:"gt=0"`
	SessionBackend string        `yaml:"session_backend" split_words:"true" default:"memory" validate:"oneof=memory redis"`
	MaxSessions    int           `yaml:"max_sessions" split_words:"true" default:"256" validate:"gt=0"`
	RedisAddr      string        `yaml:"redis_addr" split_words:"true" default:"localhost:6379" validate:"required_if=SessionBackend redis"`
	RedisPassword  string        `yaml:"redis_password" split_words:"true"`
}

type AuditConfig struct {
	LogPath     string `yaml:"log_path" split_words:"true" default:"./data/actions.log"`
	NatsURL     string `yaml:"nats_url" split_words:"true"`
	NatsSubject string `yaml:"nats_subject" split_words:"true" default:"licenses.audit" validate:"required_with=NatsURL"`
}

type TelegramConfig struct {
	BotToken    string `yaml:"bot_token" split_words:"true"`
	AdminChatID int64  `yaml:"admin_chat_id" split_words:"true" validate:"required_with=BotToken"`
}

type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" split_words:"true" default:"true"`
	RPS     float64 `yaml:"rps" split_words:"true" default:"5" validate:"gt=0"`
	Burst   int     `yaml:"burst" split_words:"true" default:"20" validate:"gt=0"`
	Clients int     `yaml:"clients" split_words:"true" default:"10000" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `yaml:"level" split_words:"true" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" split_words:"true" default:"json" validate:"oneof=json text"`
}

// Load reads defaults and the environment, then applies file on top when it
// is non-empty, and validates the result. Precedence is file > LICENSED_*
// environment > defaults: a key present in the file wins over the same
// setting in the environment, and keys absent from the file keep their
// environment (or default) value. envconfig fills defaults for every unset
// variable, so the file has to be applied last.
func Load(file string) (*Config, error) {
	cfg, err := read(file)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadOffline is Load without the serving sections (admin, telegram, rate
// limit) being validated, for tools that only open the store.
func LoadOffline(file string) (*Config, error) {
	cfg, err := read(file)
	if err != nil {
		return nil, err
	}
	v := validator.New()
	for _, section := range []any{cfg.DB, cfg.Audit, cfg.Log} {
		if err := v.Struct(section); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}
	return cfg, nil
}

func read(file string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}
	if file != "" {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	return validator.New(validator.WithRequiredStructEnabled()).Struct(c)
}

// TelegramEnabled reports whether the admin bot should run.
func (c *Config) TelegramEnabled() bool { return c.Telegram.BotToken != "" }
