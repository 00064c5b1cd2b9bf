package config

import (
	"encoding/json"
	"fmt"
)

// Provision is the document a client sends in configuration mode. The key
// names are the ones the existing provisioning tools use.
type Provision struct {
	CisternType         uint8
	CisternRadius       int
	CisternLength       int
	DistanceEmpty       int
	LitersFull          int
	HostName            string
	DeepSleepPeriod     int // s
	MinDifferenceToPost int // mm
	MaxDataAgeToPost    int // s
	ThingspeakApiKey    string
	LogType             uint8
	LogHost             string
	LogPort             int
	MqttServer          string
	MqttClientName      string
	MqttUsername        string
	MqttPassword        string
	MqttTopic           string

	// Measure asks for a single shot measurement instead of a configuration.
	Measure bool `json:",omitempty"`
}

func ParseProvision(data []byte) (*Provision, error) {
	p := &Provision{}
	if err := json.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("config: provision: %w", err)
	}
	return p, nil
}

// Config turns a provision into a validated, normalized configuration.
// Settings the document does not carry are taken from base when set.
func (p *Provision) Config(base *Config) (*Config, error) {
	cfg := &Config{}
	if base != nil {
		*cfg = *base
	}
	cfg.Version = Version
	cfg.Cistern = CisternConfig{
		Type:            p.CisternType,
		RadiusMM:        p.CisternRadius,
		LengthMM:        p.CisternLength,
		DistanceEmptyMM: p.DistanceEmpty,
		LitersFull:      p.LitersFull,
	}
	cfg.Device = DeviceConfig{
		HostName:              p.HostName,
		DeepSleepPeriodS:      p.DeepSleepPeriod,
		MinDifferenceToPostMM: p.MinDifferenceToPost,
		MaxDataAgeToPostS:     p.MaxDataAgeToPost,
	}
	cfg.Posting.ThingSpeak.APIKey = p.ThingspeakApiKey
	cfg.Posting.MQTT = MQTTConfig{
		Broker:   p.MqttServer,
		ClientID: p.MqttClientName,
		Username: p.MqttUsername,
		Password: p.MqttPassword,
		Topic:    p.MqttTopic,
	}
	cfg.Log = LogConfig{Type: p.LogType, Host: p.LogHost, Port: p.LogPort}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	Normalize(cfg)
	return cfg, nil
}
