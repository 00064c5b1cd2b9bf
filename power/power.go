// Package power decides what each wake does and how long the device sleeps
// afterwards. All state that has to survive sleep lives in a single control
// record.
package power

import (
	"context"
	"math"
	"time"

	"github.com/gr-butler/cistern/env"
	logger "github.com/sirupsen/logrus"
)

// Settings are the configuration values the controller works with.
type Settings struct {
	DeepSleepPeriod     time.Duration
	MinDifferenceToPost float64 // mm
	MaxDataAgeToPost    time.Duration
}

// countdownCycles is the number of deep sleeps after which a level is posted
// even when unchanged.
func (s Settings) countdownCycles() uint16 {
	if s.DeepSleepPeriod <= 0 {
		return 0
	}
	n := s.MaxDataAgeToPost / s.DeepSleepPeriod
	if n > math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(n)
}

// LogSaver flushes the log. It may update the log cursor and request a log
// post through the controller.
type LogSaver interface {
	Save()
}

type Phase int

const (
	PhaseNone Phase = iota
	PhaseConfigure
	PhasePost
	PhaseMeasure
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigure:
		return "configure"
	case PhasePost:
		return "post"
	case PhaseMeasure:
		return "measure"
	}
	return "none"
}

type Controller struct {
	store     ScratchStore
	suspender Suspender
	settings  Settings
	log       LogSaver
	rec       Record
}

func NewController(store ScratchStore, suspender Suspender, settings Settings) *Controller {
	return &Controller{
		store:     store,
		suspender: suspender,
		settings:  settings,
		rec:       defaultRecord(),
	}
}

func (c *Controller) Apply(s Settings) {
	c.settings = s
}

func (c *Controller) AttachLog(l LogSaver) {
	c.log = l
}

// LoadOrInitialize reads the control record. A missing or corrupt record is
// replaced with defaults and the device sleeps for the modem activation
// period before anything else happens; false is returned in that case.
func (c *Controller) LoadOrInitialize(ctx context.Context) (bool, error) {
	data, err := c.store.Load()
	if err == nil {
		err = c.rec.UnmarshalBinary(data)
	}
	if err == nil && c.rec.Valid() {
		return true, nil
	}
	if err != nil {
		logger.Warnf("Control record unreadable [%v], initialising", err)
	} else {
		logger.Warnf("Control record magic [%#04x] invalid, initialising", c.rec.Magic)
	}
	c.rec = defaultRecord()
	return false, c.persistAndSuspend(ctx, env.ModemActivationPeriod, WakeRadioDisabled)
}

func (c *Controller) WantsConfigMode() bool      { return c.rec.EnterConfigRequested }
func (c *Controller) WantsMeasurement() bool     { return c.rec.DoMeasurementNext }
func (c *Controller) WantsPostMeasurement() bool { return c.rec.PostMeasurementNext }
func (c *Controller) WantsPostLog() bool         { return c.rec.PostLogNext }

// Phase is the one thing this wake should do.
func (c *Controller) Phase() Phase {
	switch {
	case c.rec.EnterConfigRequested:
		return PhaseConfigure
	case c.rec.PostMeasurementNext || c.rec.PostLogNext:
		return PhasePost
	case c.rec.DoMeasurementNext:
		return PhaseMeasure
	}
	return PhaseNone
}

// LastMeasurement is the last level accepted for posting, or InvalidLevel.
func (c *Controller) LastMeasurement() float64 {
	return float64(c.rec.LastMeasuredLevel)
}

// EvaluateMeasurement accepts level for posting when the post countdown has
// run out or the level moved by at least MinDifferenceToPost.
func (c *Controller) EvaluateMeasurement(level float64) bool {
	diff := math.Abs(float64(c.rec.LastMeasuredLevel) - level)
	if c.rec.UnchangedPostCountdown != 0 && diff < c.settings.MinDifferenceToPost {
		logger.Debugf("Level [%.0f] unchanged, countdown [%v]", level, c.rec.UnchangedPostCountdown)
		return false
	}
	c.rec.LastMeasuredLevel = float32(level)
	c.rec.PostMeasurementNext = true
	c.rec.DoMeasurementNext = false
	return true
}

func (c *Controller) MarkPosted() {
	c.rec.UnchangedPostCountdown = c.settings.countdownCycles()
	c.rec.PostMeasurementNext = false
	c.rec.DoMeasurementNext = true
}

// MarkPostingCanceled drops the pending post. The countdown is cleared so the
// next measurement is posted regardless of change.
func (c *Controller) MarkPostingCanceled() {
	c.rec.UnchangedPostCountdown = 0
	c.rec.PostMeasurementNext = false
	c.rec.DoMeasurementNext = true
}

func (c *Controller) EnterConfigMode(ctx context.Context) error {
	c.rec.EnterConfigRequested = true
	c.rec.DoMeasurementNext = false
	c.rec.PostMeasurementNext = false
	return c.Sleep(ctx)
}

func (c *Controller) LeaveConfigMode(ctx context.Context) error {
	c.rec.EnterConfigRequested = false
	c.rec.DoMeasurementNext = true
	c.saveLog()
	return c.persistAndSuspend(ctx, env.ModemActivationPeriod, WakeRadioDisabled)
}

// Sleep flushes the log, picks the next wake and suspends. Only a deep sleep
// counts down towards the forced post.
func (c *Controller) Sleep(ctx context.Context) error {
	c.saveLog()
	period, mode := env.ModemActivationPeriod, WakeNoRFCalibrate
	switch {
	case c.rec.PostMeasurementNext || c.rec.PostLogNext:
	case c.rec.EnterConfigRequested:
		mode = WakeRFCalibrate
	default:
		period, mode = c.settings.DeepSleepPeriod, WakeRadioDisabled
		if c.rec.UnchangedPostCountdown > 0 {
			c.rec.UnchangedPostCountdown--
		}
	}
	return c.persistAndSuspend(ctx, period, mode)
}

func (c *Controller) NextLogBytePointer() uint32 {
	return c.rec.LogCursor
}

func (c *Controller) SetNextLogBytePointer(p uint32) {
	c.rec.LogCursor = p
}

func (c *Controller) SetShouldPostLog(b bool) {
	c.rec.PostLogNext = b
}

func (c *Controller) saveLog() {
	if c.log != nil {
		c.log.Save()
	}
}

// persistAndSuspend writes the record and suspends. A failed write is logged
// and the device sleeps anyway; the next wake then starts from defaults.
func (c *Controller) persistAndSuspend(ctx context.Context, period time.Duration, mode WakeMode) error {
	b, err := c.rec.MarshalBinary()
	if err == nil {
		err = c.store.Store(b)
	}
	if err != nil {
		logger.Errorf("Failed to persist control record [%v]", err)
	}
	return c.suspender.Suspend(ctx, period, mode)
}
