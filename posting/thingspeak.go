package posting

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/go-querystring/query"
	logger "github.com/sirupsen/logrus"
)

type thingSpeakData struct {
	Key         string `url:"key"`
	Centimeters int    `url:"field1"`
	Liters      int    `url:"field2"`
	Percent     int    `url:"field3"`
	EnclosureC  string `url:"field4,omitempty"`
}

// ThingSpeak updates a channel through the GET update API.
type ThingSpeak struct {
	baseURL string
	key     string
	client  *http.Client
}

func NewThingSpeak(baseURL, key string, client *http.Client) *ThingSpeak {
	if client == nil {
		client = http.DefaultClient
	}
	return &ThingSpeak{baseURL: baseURL, key: key, client: client}
}

func (t *ThingSpeak) Name() string { return "thingspeak" }

func (t *ThingSpeak) Post(ctx context.Context, r Reading) error {
	data := thingSpeakData{
		Key:         t.key,
		Centimeters: int(r.Centimeters),
		Liters:      int(r.Liters),
		Percent:     int(r.Percent),
	}
	if r.EnclosureC != nil {
		data.EnclosureC = fmt.Sprintf("%.1f", *r.EnclosureC)
	}
	vals, err := query.Values(data)
	if err != nil {
		return err
	}
	logger.Debugf("ThingSpeak data [%v]", vals.Get("field1"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+vals.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("thingspeak: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("thingspeak: HTTP %v", resp.Status)
	}
	// the body is the new entry id, 0 when the update was rejected
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return fmt.Errorf("thingspeak: %w", err)
	}
	if strings.TrimSpace(string(body)) == "0" {
		return fmt.Errorf("thingspeak: update rejected")
	}
	return nil
}
