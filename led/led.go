package led

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

// LED drives the status LED. Pulse and Blink run on timers and never block;
// any call replaces the running pattern.
type LED struct {
	Name  string
	lock  sync.Mutex
	on    bool
	pin   gpio.PinOut
	timer *time.Timer
}

// NewLED wraps pin. A nil pin gives an LED that only tracks its state.
func NewLED(name string, pin gpio.PinOut) *LED {
	if pin == nil {
		logger.Warnf("No pin for LED [%v]", name)
	} else {
		logger.Infof("Creating new LED on pin [%v] called [%v]", pin, name)
	}
	l := &LED{Name: name, pin: pin}
	l.set(false)
	return l
}

func (l *LED) On() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stop()
	l.set(true)
}

func (l *LED) Off() {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stop()
	l.set(false)
}

// Pulse turns the LED on for d.
func (l *LED) Pulse(d time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stop()
	l.set(true)
	l.after(d, func() { l.set(false) })
}

// Blink alternates on and off until the next call.
func (l *LED) Blink(onPeriod, offPeriod time.Duration) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.stop()
	l.set(true)
	var toggle func()
	toggle = func() {
		l.set(!l.on)
		d := offPeriod
		if l.on {
			d = onPeriod
		}
		l.after(d, toggle)
	}
	l.after(onPeriod, toggle)
}

func (l *LED) IsOn() bool {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.on
}

// after runs fn with the lock held unless the pattern was replaced meanwhile.
func (l *LED) after(d time.Duration, fn func()) {
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		l.lock.Lock()
		defer l.lock.Unlock()
		if l.timer != t {
			return
		}
		l.timer = nil
		fn()
	})
	l.timer = t
}

func (l *LED) stop() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *LED) set(on bool) {
	l.on = on
	if l.pin != nil {
		_ = l.pin.Out(gpio.Level(on))
	}
}
