// Package button watches the configuration button for a long press.
package button

import (
	"context"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// Button is active low. A press counts once it is released after being
// held for at least the minimum hold time.
type Button struct {
	pin     gpio.PinIn
	poll    time.Duration
	minHeld int // polls
	held    int
}

func New(pin gpio.PinIn, poll, minHold time.Duration) *Button {
	return &Button{
		pin:     pin,
		poll:    poll,
		minHeld: int(minHold / poll),
	}
}

func (b *Button) Init() error {
	return b.pin.In(gpio.PullUp, gpio.NoEdge)
}

// Watch polls the button until ctx is done. Long presses are signalled on
// pressed without blocking.
func (b *Button) Watch(ctx context.Context, pressed chan<- struct{}) {
	t := time.NewTicker(b.poll)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if b.tick() {
				logger.Info("Configuration button pressed")
				select {
				case pressed <- struct{}{}:
				default:
				}
			}
		}
	}
}

func (b *Button) tick() bool {
	if b.pin.Read() == gpio.Low {
		b.held++
		return false
	}
	long := b.held >= b.minHeld
	b.held = 0
	return long
}
