package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func valid() *Config {
	return &Config{
		Cistern: CisternConfig{Type: 1, RadiusMM: 800, LengthMM: 2400, DistanceEmptyMM: 1800, LitersFull: 4800},
		Device: DeviceConfig{
			HostName:              "cistern",
			DeepSleepPeriodS:      600,
			MinDifferenceToPostMM: 20,
			MaxDataAgeToPostS:     3600,
		},
	}
}

func TestValidate_Valid(t *testing.T) {
	assert.NoError(t, Validate(valid()))

	cfg := valid()
	cfg.Cistern = CisternConfig{Type: 2, RadiusMM: 800, DistanceEmptyMM: 1800, LitersFull: 2000}
	assert.NoError(t, Validate(cfg))
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"horizontal without length", func(c *Config) { c.Cistern.LengthMM = 0 }, "length_mm"},
		{"unknown type", func(c *Config) { c.Cistern.Type = 3 }, "unknown type"},
		{"radius", func(c *Config) { c.Cistern.RadiusMM = 0 }, "radius_mm"},
		{"distance empty", func(c *Config) { c.Cistern.DistanceEmptyMM = -1 }, "distance_empty_mm"},
		{"liters full", func(c *Config) { c.Cistern.LitersFull = 0 }, "liters_full"},
		{"hostname", func(c *Config) { c.Device.HostName = "" }, "hostname"},
		{"deep sleep", func(c *Config) { c.Device.DeepSleepPeriodS = 0 }, "deep_sleep"},
		{"min difference", func(c *Config) { c.Device.MinDifferenceToPostMM = 0 }, "min_difference"},
		{"max age", func(c *Config) { c.Device.MaxDataAgeToPostS = 0 }, "max_data_age"},
		{"version", func(c *Config) { c.Version = 2 }, "version"},
		{"mqtt topic", func(c *Config) { c.Posting.MQTT.Broker = "tcp://broker:1883" }, "topic"},
		{"mqtt scheme", func(c *Config) {
			c.Posting.MQTT.Broker = "http://broker"
			c.Posting.MQTT.Topic = "t"
		}, "scheme"},
		{"pushgateway host", func(c *Config) { c.Posting.Pushgateway.URL = "http://" }, "no host"},
		{"log type", func(c *Config) { c.Log.Type = 3 }, "log: unknown"},
		{"log host", func(c *Config) { c.Log = LogConfig{Type: 1, Port: 9000} }, "log: host"},
		{"log port", func(c *Config) { c.Log = LogConfig{Type: 2, Host: "logs", Port: 70000} }, "port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	cfg := valid()
	before := *cfg
	_ = Validate(cfg)
	assert.Equal(t, before, *cfg)
}

func TestNormalize(t *testing.T) {
	cfg := valid()
	cfg.Cistern.Type = 2
	Normalize(cfg)
	assert.Equal(t, Version, cfg.Version)
	assert.Equal(t, 0, cfg.Cistern.LengthMM)
	assert.Equal(t, "cistern", cfg.Posting.MQTT.ClientID)
	assert.Equal(t, "cistern", cfg.Posting.Pushgateway.Job)
	assert.True(t, strings.HasPrefix(cfg.Posting.ThingSpeak.URL, "https://api.thingspeak.com/"))
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "etc", "config.yaml")
	_, err := Load(path)
	assert.ErrorIs(t, err, ErrNotFound)

	cfg := valid()
	cfg.Posting.ThingSpeak.APIKey = "KEY"
	cfg.Log = LogConfig{Type: 1, Host: "logs.local", Port: 9000}
	Normalize(cfg)
	require.NoError(t, Save(path, cfg))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\ncistern:\n  type: 9\n"), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(path, []byte("cistern: [\n"), 0o600))
	_, err = Load(path)
	assert.Error(t, err)
}

func TestLoadSecretsFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(path, valid()))
	t.Setenv("CISTERN_THINGSPEAK_KEY", "from-env")
	t.Setenv("CISTERN_MQTT_PASSWORD", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Posting.ThingSpeak.APIKey)
	assert.Equal(t, "secret", cfg.Posting.MQTT.Password)
}

func TestProvision(t *testing.T) {
	doc := `{"CisternType":2,"CisternRadius":750,"DistanceEmpty":1900,"LitersFull":3300,
		"HostName":"zisterne","DeepSleepPeriod":900,"MinDifferenceToPost":10,
		"MaxDataAgeToPost":21600,"ThingspeakApiKey":"ABC","LogType":1,
		"LogHost":"10.0.0.2","LogPort":5000,"MqttServer":"tcp://10.0.0.3:1883","MqttTopic":"home/cistern"}`
	p, err := ParseProvision([]byte(doc))
	require.NoError(t, err)
	assert.False(t, p.Measure)

	base := &Config{Posting: PostingConfig{History: HistoryConfig{DSN: "postgres://h/db"}}}
	cfg, err := p.Config(base)
	require.NoError(t, err)
	assert.Equal(t, CisternConfig{Type: 2, RadiusMM: 750, DistanceEmptyMM: 1900, LitersFull: 3300}, cfg.Cistern)
	assert.Equal(t, 900, cfg.Device.DeepSleepPeriodS)
	assert.Equal(t, "ABC", cfg.Posting.ThingSpeak.APIKey)
	assert.Equal(t, "zisterne", cfg.Posting.MQTT.ClientID)
	assert.Equal(t, "postgres://h/db", cfg.Posting.History.DSN)
	assert.Equal(t, LogConfig{Type: 1, Host: "10.0.0.2", Port: 5000}, cfg.Log)
}

func TestProvisionIncomplete(t *testing.T) {
	p, err := ParseProvision([]byte(`{"CisternType":1,"CisternRadius":750}`))
	require.NoError(t, err)
	_, err = p.Config(nil)
	assert.Error(t, err)

	_, err = ParseProvision([]byte(`{"CisternType":"one"}`))
	assert.Error(t, err)

	p, err = ParseProvision([]byte(`{"Measure":true}`))
	require.NoError(t, err)
	assert.True(t, p.Measure)
}
