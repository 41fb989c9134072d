package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/lox/forecastbot/internal/chart"
	"github.com/lox/forecastbot/internal/discord"
	"github.com/lox/forecastbot/internal/ingest"
	"github.com/lox/forecastbot/internal/observe"
	"github.com/lox/forecastbot/internal/publish"
	"github.com/lox/forecastbot/internal/scheduler"
)

// EnvPrefix prefixes every environment override, e.g. FORECASTBOT_DATABASE_PATH.
const EnvPrefix = "FORECASTBOT"

type Config struct {
	DatabasePath string `yaml:"database_path" envconfig:"DATABASE_PATH" validate:"required"`
	ListenAddr   string `yaml:"listen_addr" envconfig:"LISTEN_ADDR" validate:"required,hostname_port"`

	Fonts    FontConfig           `yaml:"fonts" envconfig:"FONTS"`
	Chart    chart.Config         `yaml:"chart" envconfig:"CHART"`
	Forecast ingest.Config        `yaml:"forecast" envconfig:"FORECAST"`
	Discord  discord.Config       `yaml:"discord" envconfig:"DISCORD"`
	FTP      publish.FTPConfig    `yaml:"ftp" envconfig:"FTP"`
	OpenAI   OpenAIConfig         `yaml:"openai" envconfig:"OPENAI"`
	Sentry   observe.SentryConfig `yaml:"sentry" envconfig:"SENTRY"`
	Log      observe.LogConfig    `yaml:"log" envconfig:"LOG"`

	Schedules       []scheduler.Schedule `yaml:"schedules" ignored:"true" validate:"dive"`
	ScheduleTimeout time.Duration        `yaml:"schedule_timeout" envconfig:"SCHEDULE_TIMEOUT"`
	PreviewCacheTTL time.Duration        `yaml:"preview_cache_ttl" envconfig:"PREVIEW_CACHE_TTL"`

	ArchivePayloads      bool `yaml:"archive_payloads" envconfig:"ARCHIVE_PAYLOADS"`
	PayloadRetentionDays int  `yaml:"payload_retention_days" envconfig:"PAYLOAD_RETENTION_DAYS" validate:"gte=0"`
}

// FontConfig points at TTF files to use instead of the bundled Go fonts.
type FontConfig struct {
	Regular string `yaml:"regular" envconfig:"REGULAR" validate:"omitempty,file"`
	Bold    string `yaml:"bold" envconfig:"BOLD" validate:"omitempty,file"`
}

// OpenAIConfig enables narrated captions when an API key is set.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key" envconfig:"API_KEY"`
	Model   string        `yaml:"model" envconfig:"MODEL"`
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`
}

func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func Default() *Config {
	return &Config{
		DatabasePath:    "forecastbot.db",
		ListenAddr:      "localhost:8080",
		Chart:           chart.DefaultConfig(),
		Forecast:        ingest.DefaultConfig(),
		Discord:         discord.Config{CommandTimeout: time.Minute},
		OpenAI:          OpenAIConfig{Timeout: 10 * time.Second},
		Log:             observe.LogConfig{Level: "info", Format: "json"},
		ScheduleTimeout: 2 * time.Minute,
		PreviewCacheTTL: 10 * time.Minute,

		PayloadRetentionDays: 30,
	}
}

// Load reads the YAML file at path over the defaults, applies FORECASTBOT_*
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and that every schedule target has a
// configured sender.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Schedules))
	for _, s := range c.Schedules {
		if seen[s.Name] {
			return fmt.Errorf("invalid config: duplicate schedule %q", s.Name)
		}
		seen[s.Name] = true

		scheme, _, err := publish.ParseTarget(s.Target)
		if err != nil {
			return fmt.Errorf("invalid config: schedule %s: %w", s.Name, err)
		}
		switch scheme {
		case "discord":
			if !c.Discord.Enabled() {
				return fmt.Errorf("invalid config: schedule %s targets discord but no discord token is set", s.Name)
			}
		case "ftp":
			if !c.FTP.Enabled() {
				return fmt.Errorf("invalid config: schedule %s targets ftp but no ftp server is set", s.Name)
			}
		default:
			return fmt.Errorf("invalid config: schedule %s has unsupported target %q", s.Name, s.Target)
		}
	}
	return nil
}
