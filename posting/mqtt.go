package posting

import (
	"context"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gr-butler/cistern/config"
	logger "github.com/sirupsen/logrus"
)

// MQTT publishes the reading as retained messages below a topic.
type MQTT struct {
	opts      *mqtt.ClientOptions
	topic     string
	newClient func(*mqtt.ClientOptions) mqtt.Client
}

func NewMQTT(cfg config.MQTTConfig) *MQTT {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	return &MQTT{opts: opts, topic: cfg.Topic, newClient: mqtt.NewClient}
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Post(ctx context.Context, r Reading) error {
	client := m.newClient(m.opts)
	if err := wait(ctx, client.Connect()); err != nil {
		return fmt.Errorf("mqtt: connect: %w", err)
	}
	defer client.Disconnect(250)

	values := []struct {
		sub string
		v   float64
	}{
		{"centimeter", r.Centimeters},
		{"liter", r.Liters},
		{"percent", r.Percent},
	}
	for _, val := range values {
		topic := m.topic + "/" + val.sub
		payload := strconv.Itoa(int(val.v))
		logger.Debugf("MQTT publish [%v] => [%v]", topic, payload)
		if err := wait(ctx, client.Publish(topic, 0, true, payload)); err != nil {
			return fmt.Errorf("mqtt: publish %s: %w", topic, err)
		}
	}
	return nil
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
