package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. SOUNDSTAGE_API_PORT.
const EnvPrefix = "SOUNDSTAGE_"

type AppConfig struct {
	Version    int            `yaml:"version"`
	DataMap    string         `yaml:"data_map" env:"DATA_MAP"`
	StartScene string         `yaml:"start_scene" env:"START_SCENE"`
	Watch      bool           `yaml:"watch" env:"WATCH"`
	Audio      AudioConfig    `yaml:"audio" envPrefix:"AUDIO_"`
	API        APIConfig      `yaml:"api" envPrefix:"API_"`
	MQTT       MQTTConfig     `yaml:"mqtt" envPrefix:"MQTT_"`
	Postgres   PostgresConfig `yaml:"postgres" envPrefix:"PG_"`
}

type AudioConfig struct {
	SampleRate int     `yaml:"sample_rate" env:"SAMPLE_RATE"`
	BufferMS   int     `yaml:"buffer_ms" env:"BUFFER_MS"`
	Volume     float64 `yaml:"volume" env:"VOLUME"`
	FadeTickMS int     `yaml:"fade_tick_ms" env:"FADE_TICK_MS"`
}

// Buffer returns the speaker buffer length.
func (a AudioConfig) Buffer() time.Duration {
	return time.Duration(a.BufferMS) * time.Millisecond
}

// FadeTick returns how often fades are advanced.
func (a AudioConfig) FadeTick() time.Duration {
	return time.Duration(a.FadeTickMS) * time.Millisecond
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Port    int    `yaml:"port" env:"PORT"`
	TLSCert string `yaml:"tls_cert" env:"TLS_CERT"`
	TLSKey  string `yaml:"tls_key" env:"TLS_KEY"`

	AlertWebhook     string `yaml:"alert_webhook" env:"ALERT_WEBHOOK"`
	MQTTAlertDelayMS int    `yaml:"mqtt_alert_delay_ms" env:"MQTT_ALERT_DELAY_MS"`

	// Credentials never come from the yaml file; see ResolveCredentials.
	AdminUser    string `yaml:"-"`
	AdminPass    string `yaml:"-"`
	OperatorUser string `yaml:"-"`
	OperatorPass string `yaml:"-"`
}

// MQTTAlertDelay returns how long the broker may be unreachable before an
// alert is sent. Zero means the alerter default.
func (a APIConfig) MQTTAlertDelay() time.Duration {
	return time.Duration(a.MQTTAlertDelayMS) * time.Millisecond
}

type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	URL      string `yaml:"url" env:"URL"`
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`
	Prefix   string `yaml:"prefix" env:"PREFIX"`
}

type PostgresConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Database string `yaml:"database" env:"DATABASE"`
	SSLMode  string `yaml:"sslmode" env:"SSLMODE"`
	Password string `yaml:"-"`
}

// Default returns the configuration used when no file is given.
func Default() *AppConfig {
	cfg := &AppConfig{Version: 1}
	cfg.applyDefaults()
	return cfg
}

func (c *AppConfig) applyDefaults() {
	if c.Audio.SampleRate == 0 {
		c.Audio.SampleRate = 44100
	}
	if c.Audio.BufferMS == 0 {
		c.Audio.BufferMS = 100
	}
	if c.Audio.Volume == 0 {
		c.Audio.Volume = 0.5
	}
	if c.Audio.FadeTickMS == 0 {
		c.Audio.FadeTickMS = 20
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.MQTT.URL == "" {
		c.MQTT.URL = "tcp://localhost:1883"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "soundstage"
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "soundstage"
	}
	if c.Postgres.Host == "" {
		c.Postgres.Host = "127.0.0.1"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.User == "" {
		c.Postgres.User = "soundstage"
	}
	if c.Postgres.Database == "" {
		c.Postgres.Database = "soundstage"
	}
	if c.Postgres.SSLMode == "" {
		c.Postgres.SSLMode = "disable"
	}
}

// Validate reports settings that cannot work.
func (c *AppConfig) Validate() error {
	if c.Audio.Volume < 0 || c.Audio.Volume > 1 {
		return fmt.Errorf("audio.volume must be within [0, 1], got %v", c.Audio.Volume)
	}
	if c.Audio.SampleRate < 0 || c.Audio.BufferMS < 0 || c.Audio.FadeTickMS < 0 {
		return fmt.Errorf("audio settings must not be negative")
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if (c.API.TLSCert == "") != (c.API.TLSKey == "") {
		return fmt.Errorf("api.tls_cert and api.tls_key must be set together")
	}
	return nil
}

// LoadAppConfig reads soundstage.yaml at path (if non-empty), loads .env from
// the working directory when present, applies SOUNDSTAGE_* overrides and
// resolves credentials.
func LoadAppConfig(path string) (*AppConfig, error) {
	cfg := &AppConfig{Version: 1}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if cfg.Version != 1 {
			return nil, fmt.Errorf("unsupported soundstage.yaml version: %d", cfg.Version)
		}
	}

	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.ResolveCredentials(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}
