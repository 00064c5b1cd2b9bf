package config

import (
	"fmt"
	"net/url"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: empty")
	}
	if cfg.Version != 0 && cfg.Version != Version {
		return fmt.Errorf("config: unsupported version %d", cfg.Version)
	}

	c := cfg.Cistern
	switch c.Type {
	case 1:
		if c.LengthMM <= 0 {
			return fmt.Errorf("cistern: horizontal cylinder needs length_mm")
		}
	case 2:
	default:
		return fmt.Errorf("cistern: unknown type %d", c.Type)
	}
	if c.RadiusMM <= 0 {
		return fmt.Errorf("cistern: radius_mm must be positive")
	}
	if c.DistanceEmptyMM <= 0 {
		return fmt.Errorf("cistern: distance_empty_mm must be positive")
	}
	if c.LitersFull <= 0 {
		return fmt.Errorf("cistern: liters_full must be positive")
	}

	d := cfg.Device
	if d.HostName == "" {
		return fmt.Errorf("device: hostname is required")
	}
	if d.DeepSleepPeriodS <= 0 {
		return fmt.Errorf("device: deep_sleep_period_s must be positive")
	}
	if d.MinDifferenceToPostMM <= 0 {
		return fmt.Errorf("device: min_difference_to_post_mm must be positive")
	}
	if d.MaxDataAgeToPostS <= 0 {
		return fmt.Errorf("device: max_data_age_to_post_s must be positive")
	}

	p := cfg.Posting
	if p.ThingSpeak.URL != "" {
		if err := checkURL(p.ThingSpeak.URL, "http", "https"); err != nil {
			return fmt.Errorf("posting.thingspeak: %w", err)
		}
	}
	if p.MQTT.Enabled() {
		if err := checkURL(p.MQTT.Broker, "tcp", "ssl", "tls", "ws", "wss", "mqtt", "mqtts"); err != nil {
			return fmt.Errorf("posting.mqtt: %w", err)
		}
		if p.MQTT.Topic == "" {
			return fmt.Errorf("posting.mqtt: topic is required")
		}
	}
	if p.Pushgateway.Enabled() {
		if err := checkURL(p.Pushgateway.URL, "http", "https"); err != nil {
			return fmt.Errorf("posting.pushgateway: %w", err)
		}
	}

	l := cfg.Log
	if l.Type > 2 {
		return fmt.Errorf("log: unknown type %d", l.Type)
	}
	if l.Type != 0 {
		if l.Host == "" {
			return fmt.Errorf("log: host is required")
		}
		if l.Port <= 0 || l.Port > 65535 {
			return fmt.Errorf("log: port %d out of range", l.Port)
		}
	}
	return nil
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return fmt.Errorf("%q has no host", raw)
			}
			return nil
		}
	}
	return fmt.Errorf("%q: unsupported scheme %q", raw, u.Scheme)
}
