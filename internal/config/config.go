package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath   = "config.toml"
	DefaultHTTPAddr     = ":8080"
	DefaultVKAPIBase    = "https://api.vk.com/method"
	DefaultVKAPIVersion = "5.131"
	DefaultOpenAIBase   = "https://api.openai.com/v1"
	DefaultPGHost       = "127.0.0.1"
	DefaultPGPort       = 5432
	DefaultPGUser       = "postgres"
	DefaultPGDatabase   = "vkchatbot"
	DefaultPGSSLMode    = "disable"
)

type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	VK          VKConfig          `toml:"vk"`
	OpenAI      OpenAIConfig      `toml:"openai"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Bot         BotConfig         `toml:"bot"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type VKConfig struct {
	AccessToken    string `toml:"access_token" validate:"required"`
	GroupID        int64  `toml:"group_id" validate:"required,gt=0"`
	APIBase        string `toml:"api_base" validate:"omitempty,url"`
	APIVersion     string `toml:"api_version"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

type OpenAIConfig struct {
	APIKey         string `toml:"api_key" validate:"required"`
	BaseURL        string `toml:"base_url" validate:"omitempty,url"`
	TimeoutSeconds int    `toml:"timeout_seconds" validate:"gte=0"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type BotConfig struct {
	PollIntervalMs int `toml:"poll_interval_ms" validate:"gte=0"`
	HistoryDepth   int `toml:"history_depth" validate:"gte=0"`
}

type MaintenanceConfig struct {
	PruneSchedule string `toml:"prune_schedule"`
	RetentionDays int    `toml:"retention_days" validate:"gte=0"`
}

// DSN builds a pgx-compatible connection string.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		VK: VKConfig{
			APIBase:        DefaultVKAPIBase,
			APIVersion:     DefaultVKAPIVersion,
			TimeoutSeconds: 30,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        DefaultOpenAIBase,
			TimeoutSeconds: 60,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Bot: BotConfig{
			PollIntervalMs: 1000,
			HistoryDepth:   30,
		},
		Maintenance: MaintenanceConfig{
			PruneSchedule: "0 4 * * *",
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks structural requirements on a loaded config. Load alone stays
// permissive so tooling can inspect partial configs; serve validates before
// wiring services.
func Validate(cfg Config) error {
	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
