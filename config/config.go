// Package config holds the persistent device configuration. It is stored as
// YAML and written by the configuration mode.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const Version = 1

var ErrNotFound = errors.New("config: no configuration")

type Config struct {
	Version int           `yaml:"version"`
	Cistern CisternConfig `yaml:"cistern"`
	Device  DeviceConfig  `yaml:"device"`
	Posting PostingConfig `yaml:"posting"`
	Log     LogConfig     `yaml:"log"`
}

// ---- CISTERN ----

type CisternConfig struct {
	Type            uint8 `yaml:"type"` // 1 horizontal cylinder, 2 vertical cylinder
	RadiusMM        int   `yaml:"radius_mm"`
	LengthMM        int   `yaml:"length_mm"`
	DistanceEmptyMM int   `yaml:"distance_empty_mm"`
	LitersFull      int   `yaml:"liters_full"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	HostName              string `yaml:"hostname"`
	DeepSleepPeriodS      int    `yaml:"deep_sleep_period_s"`
	MinDifferenceToPostMM int    `yaml:"min_difference_to_post_mm"`
	MaxDataAgeToPostS     int    `yaml:"max_data_age_to_post_s"`
}

// ---- POSTING ----

type PostingConfig struct {
	ThingSpeak  ThingSpeakConfig  `yaml:"thingspeak"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Pushgateway PushgatewayConfig `yaml:"pushgateway"`
	History     HistoryConfig     `yaml:"history"`
}

type ThingSpeakConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

func (t ThingSpeakConfig) Enabled() bool { return t.APIKey != "" }

type MQTTConfig struct {
	Broker   string `yaml:"broker"` // tcp://host:1883
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

type PushgatewayConfig struct {
	URL string `yaml:"url"`
	Job string `yaml:"job"`
}

func (p PushgatewayConfig) Enabled() bool { return p.URL != "" }

type HistoryConfig struct {
	DSN string `yaml:"dsn"` // postgres connection string
}

func (h HistoryConfig) Enabled() bool { return h.DSN != "" }

// ---- LOG ----

type LogConfig struct {
	Type uint8  `yaml:"type"` // 0 disabled, 1 tcp, 2 tls
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads, validates and normalizes the configuration at path.
// ErrNotFound is returned when there is none yet.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}

// Save writes cfg to path, replacing the previous file atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write: %w", err)
	}
	return os.Rename(tmp, path)
}

// ApplyEnv overrides secrets from the environment.
func ApplyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("CISTERN_THINGSPEAK_KEY"); ok {
		cfg.Posting.ThingSpeak.APIKey = v
	}
	if v, ok := os.LookupEnv("CISTERN_MQTT_PASSWORD"); ok {
		cfg.Posting.MQTT.Password = v
	}
}
