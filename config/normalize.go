package config

import "github.com/gr-butler/cistern/env"

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Version = Version

	if cfg.Posting.ThingSpeak.URL == "" {
		cfg.Posting.ThingSpeak.URL = env.ThingSpeakURL
	}
	if cfg.Posting.MQTT.ClientID == "" {
		cfg.Posting.MQTT.ClientID = cfg.Device.HostName
	}
	if cfg.Posting.Pushgateway.Job == "" {
		cfg.Posting.Pushgateway.Job = "cistern"
	}
	// a horizontal length is meaningless for a vertical cylinder
	if cfg.Cistern.Type == 2 {
		cfg.Cistern.LengthMM = 0
	}
}
