package main

import (
	"context"
	"io"
	"time"

	"github.com/gr-butler/cistern/calculator"
	"github.com/gr-butler/cistern/config"
	"github.com/gr-butler/cistern/env"
	"github.com/gr-butler/cistern/led"
	"github.com/gr-butler/cistern/logring"
	"github.com/gr-butler/cistern/posting"
	"github.com/gr-butler/cistern/power"
	logger "github.com/sirupsen/logrus"
)

type meter interface {
	StartMeasurement(ctx context.Context, onDone func(), singleShot bool) error
	SetEmptyDistance(mm float64)
	WaterLevel() float64
	EchoQuality() int
	SingleShotDistance() float64
}

// gauge runs wake cycles. Each wake does one phase chosen by the power
// controller and ends in a sleep. A post wake whose log could not be posted
// also measures.
type gauge struct {
	ctrl           *power.Controller
	meter          meter
	status         *led.LED
	log            *logring.Log
	pressed        <-chan struct{}
	enclosure      func() (float64, bool)
	configPath     string
	configAddr     string
	onListen       func(addr string)
	testMode       bool
	postTimeout    time.Duration
	measureTimeout time.Duration // lost echoes must not keep the wake from sleeping

	cfg     *config.Config
	calc    *calculator.Calculator
	logType logring.LogType
	logDest logring.Destination
	primary []posting.Sink // a success on any of these counts as posted
	extra   []posting.Sink
}

func (g *gauge) wake(ctx context.Context) error {
	ok, err := g.ctrl.LoadOrInitialize(ctx)
	if err != nil || !ok {
		return err
	}
	g.enableLog()

	if g.cfg == nil && g.ctrl.Phase() != power.PhaseConfigure {
		logger.Warn("No configuration, entering configuration mode")
		return g.ctrl.EnterConfigMode(ctx)
	}
	if g.buttonPressed() {
		return g.ctrl.EnterConfigMode(ctx)
	}

	phase := g.ctrl.Phase()
	logger.Infof("Wake phase [%v]", phase)
	switch phase {
	case power.PhaseConfigure:
		return g.configure(ctx)
	case power.PhasePost:
		g.post(ctx)
		// a log that could not be posted must not hold up measuring. The
		// radio stays on while this measurement runs.
		if g.ctrl.WantsPostLog() && g.ctrl.WantsMeasurement() {
			g.measure(ctx)
		}
	case power.PhaseMeasure:
		g.measure(ctx)
	default:
		logger.Warn("Nothing pending, forcing a measurement")
		g.ctrl.MarkPostingCanceled()
	}

	if g.buttonPressed() {
		return g.ctrl.EnterConfigMode(ctx)
	}
	return g.ctrl.Sleep(ctx)
}

func (g *gauge) buttonPressed() bool {
	select {
	case <-g.pressed:
		return true
	default:
		return false
	}
}

func (g *gauge) enableLog() {
	if g.log != nil {
		if err := g.log.Enable(g.logType); err != nil {
			logger.Errorf("Failed to enable log [%v]", err)
		}
	}
	if (g.log == nil || g.logType == logring.Disabled) && g.ctrl.WantsPostLog() {
		g.ctrl.SetShouldPostLog(false)
	}
}

func (g *gauge) measure(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, g.measureTimeout)
	defer cancel()
	done := make(chan struct{})
	if err := g.meter.StartMeasurement(ctx, func() { close(done) }, false); err != nil {
		logger.Errorf("Failed to start measurement [%v]", err)
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warnf("Measurement incomplete [%v], quality [%v]", ctx.Err(), g.meter.EchoQuality())
		return
	}
	level := g.meter.WaterLevel()
	logger.Infof("Water level [%.0f] mm", level)
	logger.Infof("Quality [%v]", g.meter.EchoQuality())
	if g.ctrl.EvaluateMeasurement(level) {
		logger.Info("Data should be sent")
	} else {
		logger.Info("Sending data not needed")
	}
}

// singleShot measures the raw distance to the water for calibration.
func (g *gauge) singleShot(ctx context.Context) (float64, int, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	g.meter.SetEmptyDistance(env.MaxRangeMM)
	defer g.meter.SetEmptyDistance(g.emptyDistance())

	done := make(chan struct{})
	if err := g.meter.StartMeasurement(ctx, func() { close(done) }, true); err != nil {
		return 0, 0, err
	}
	select {
	case <-done:
		return g.meter.SingleShotDistance(), g.meter.EchoQuality(), nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

func (g *gauge) emptyDistance() float64 {
	if g.cfg == nil {
		return 0
	}
	return float64(g.cfg.Cistern.DistanceEmptyMM)
}

// apply installs cfg in every component that depends on it.
func (g *gauge) apply(cfg *config.Config) {
	g.cfg = cfg
	d := cfg.Device
	g.ctrl.Apply(power.Settings{
		DeepSleepPeriod:     time.Duration(d.DeepSleepPeriodS) * time.Second,
		MinDifferenceToPost: float64(d.MinDifferenceToPostMM),
		MaxDataAgeToPost:    time.Duration(d.MaxDataAgeToPostS) * time.Second,
	})
	c := cfg.Cistern
	g.calc = calculator.New(calculator.Geometry{
		Type:       calculator.CisternType(c.Type),
		Radius:     float64(c.RadiusMM),
		Length:     float64(c.LengthMM),
		LitersFull: float64(c.LitersFull),
	})
	g.meter.SetEmptyDistance(float64(c.DistanceEmptyMM))
	g.logType = logring.LogType(cfg.Log.Type)
	g.logDest = logring.Destination{Host: cfg.Log.Host, Port: cfg.Log.Port}

	for _, s := range g.extra {
		if c, ok := s.(io.Closer); ok {
			_ = c.Close()
		}
	}
	g.primary, g.extra = buildSinks(cfg)
}
