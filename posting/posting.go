// Package posting sends a water level reading to the configured services.
package posting

import (
	"context"
	"time"
)

// Reading is one posted measurement.
type Reading struct {
	At          time.Time
	LevelMM     float64
	Centimeters float64
	Liters      float64
	Percent     float64
	// EnclosureC is the enclosure temperature, nil without a sensor.
	EnclosureC *float64
}

// Sink receives readings.
type Sink interface {
	Name() string
	Post(ctx context.Context, r Reading) error
}
