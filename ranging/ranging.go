// Package ranging drives an HC-SR04 style trigger/echo ultrasonic module
// through a series of one-shot measurement cycles and reduces the echoes to a
// single water level.
//
// The echo pin is armed for the rising edge with every trigger and rearmed
// for the falling edge once it arrives. A watcher goroutine stamps the edges
// and hands the completed start/stop pair to the measurement loop through a
// single slot. Everything else (sample storage, quality, cycle
// timing, completion) happens on the measurement loop.
package ranging

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gr-butler/cistern/buffer"
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
)

const (
	// MaxMeasurements is the number of one-shot cycles per measurement.
	MaxMeasurements = 10
	// USPerMM is the round trip time per millimetre (datasheet: 58us/cm).
	USPerMM = 5.8
	// TriggerPulse is the length of the trigger pulse.
	TriggerPulse = 15 * time.Microsecond
	// SilencePeriod is the cadence of the cycles; the echo of the previous
	// ping must have died away before the next one.
	SilencePeriod = 1500 * time.Millisecond

	initialQuality = 5
	// how often the edge watcher looks for cancellation
	edgePoll = 50 * time.Millisecond
)

var ErrBusy = errors.New("ranging: measurement in progress")

type State int32

const (
	Idle State = iota
	WaitPosEdge
	WaitNegEdge
	WaitSilence
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case WaitPosEdge:
		return "wait-pos-edge"
	case WaitNegEdge:
		return "wait-neg-edge"
	case WaitSilence:
		return "wait-silence"
	case Done:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// echo is the timestamp pair of one received echo pulse.
type echo struct {
	start time.Duration
	stop  time.Duration
}

type Engine struct {
	trigger       gpio.PinOut
	echoPin       gpio.PinIn
	emptyDistance float64
	cycle         time.Duration
	pulse         func()
	now           func() time.Duration

	running atomic.Bool
	state   atomic.Int32
	quality atomic.Int32
	samples *buffer.SampleBuffer

	// fixed for the duration of one measurement
	singleShot bool
	limit      float64

	// single slot handoff from the edge watcher
	slot   chan echo
	riseAt time.Duration // owned by the edge watcher
	drops  atomic.Uint32
}

type Option func(*Engine)

// WithCycle overrides the time between two one-shot cycles.
func WithCycle(d time.Duration) Option {
	return func(e *Engine) { e.cycle = d }
}

// WithClock replaces the monotonic clock used to stamp echo edges.
func WithClock(now func() time.Duration) Option {
	return func(e *Engine) { e.now = now }
}

// WithCyclePulse is called each time a trigger pulse is sent (LED feedback).
func WithCyclePulse(f func()) Option {
	return func(e *Engine) { e.pulse = f }
}

// New creates an engine. emptyDistanceMM is the sensor to water distance of
// an empty cistern; echoes from further away are discarded.
func New(trigger gpio.PinOut, echoPin gpio.PinIn, emptyDistanceMM float64, opts ...Option) *Engine {
	epoch := time.Now()
	e := &Engine{
		trigger:       trigger,
		echoPin:       echoPin,
		emptyDistance: emptyDistanceMM,
		cycle:         SilencePeriod,
		now:           func() time.Duration { return time.Since(epoch) },
		samples:       buffer.NewBuffer(MaxMeasurements),
		slot:          make(chan echo, 1),
	}
	e.quality.Store(initialQuality)
	for _, o := range opts {
		o(e)
	}
	return e
}

// StartMeasurement starts MaxMeasurements one-shot cycles, or a single one
// in single shot mode. The first trigger is sent before it returns. onDone is
// called once from the measurement loop when the samples are in, after the
// echo interrupt is disabled; the engine accepts a new start from onDone.
func (e *Engine) StartMeasurement(ctx context.Context, onDone func(), singleShot bool) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrBusy
	}
	if err := e.trigger.Out(gpio.Low); err != nil {
		e.running.Store(false)
		return fmt.Errorf("ranging: trigger pin: %w", err)
	}
	e.begin(singleShot)

	logger.Info("Starting range measurement...")
	if err := e.triggerCycle(); err != nil {
		e.running.Store(false)
		return err
	}
	ctx, stop := context.WithCancel(ctx)
	watching := make(chan struct{})
	go func() {
		defer close(watching)
		e.watch(ctx)
	}()
	go e.run(ctx, stop, watching, onDone)
	return nil
}

func (e *Engine) begin(singleShot bool) {
	e.singleShot = singleShot
	e.limit = e.emptyDistance
	e.samples.Reset()
	e.quality.Store(initialQuality)
	e.state.Store(int32(Idle))
	select {
	case <-e.slot:
	default:
	}
}

// run owns the samples until the measurement is complete or ctx is done.
// The watcher has exited and the echo interrupt is off before the engine
// reports idle.
func (e *Engine) run(ctx context.Context, stop context.CancelFunc, watching <-chan struct{}, onDone func()) {
	t := time.NewTicker(e.cycle)
	complete := false
	for !complete && ctx.Err() == nil {
		select {
		case <-ctx.Done():
		case ev := <-e.slot:
			complete = e.record(ev)
		case <-t.C:
			if err := e.triggerCycle(); err != nil {
				logger.Errorf("Range cycle failed [%v]", err)
			}
		}
	}
	t.Stop()
	stop()
	<-watching
	if err := e.echoPin.In(gpio.PullDown, gpio.NoEdge); err != nil {
		logger.Warnf("Failed to disable echo interrupt [%v]", err)
	}
	if complete {
		e.state.Store(int32(Done))
	}
	e.running.Store(false)
	if complete && onDone != nil {
		onDone()
	}
}

// watch is the interrupt handler. It stamps edges and rearms the pin; the
// direction of an edge is the one the pin was armed for.
func (e *Engine) watch(ctx context.Context) {
	for ctx.Err() == nil {
		if !e.echoPin.WaitForEdge(edgePoll) {
			continue
		}
		at := e.now()
		if ctx.Err() != nil {
			return
		}
		e.edge(at)
	}
}

func (e *Engine) edge(at time.Duration) {
	switch {
	case e.state.CompareAndSwap(int32(WaitPosEdge), int32(WaitNegEdge)):
		e.riseAt = at
		if err := e.echoPin.In(gpio.PullDown, gpio.FallingEdge); err != nil {
			logger.Errorf("Failed to arm falling edge [%v]", err)
		}
	case e.state.CompareAndSwap(int32(WaitNegEdge), int32(WaitSilence)):
		select {
		case e.slot <- echo{start: e.riseAt, stop: at}:
		default:
			e.drops.Add(1)
		}
	}
}

func (e *Engine) triggerCycle() error {
	st := e.State()
	missed := st == WaitPosEdge || st == WaitNegEdge
	ringing := e.echoPin.Read() == gpio.High
	if missed || ringing {
		e.degrade()
	}
	if ringing {
		logger.Warn("Echo pin high! Next measurement not possible")
		return nil
	}

	if err := e.echoPin.In(gpio.PullDown, gpio.RisingEdge); err != nil {
		return fmt.Errorf("ranging: arm echo pin: %w", err)
	}
	e.state.Store(int32(WaitPosEdge))
	if e.pulse != nil {
		e.pulse()
	}
	_ = e.trigger.Out(gpio.High)
	time.Sleep(TriggerPulse)
	_ = e.trigger.Out(gpio.Low)
	return nil
}

// record stores one echo and reports whether the measurement is complete.
func (e *Engine) record(ev echo) bool {
	distance := float64(ev.stop-ev.start) / float64(time.Microsecond) / USPerMM
	if distance <= 0 || distance > e.limit {
		distance = buffer.Invalid
	}
	e.samples.AddItem(distance)
	logger.Infof("Distance [%.0f] mm", distance)

	if distance > 0 {
		if q := e.quality.Load(); q < MaxMeasurements {
			e.quality.Store(q + 1)
		}
	} else {
		e.degrade()
	}

	n := e.samples.Len()
	return n == MaxMeasurements || (e.singleShot && n == 1)
}

func (e *Engine) degrade() {
	if q := e.quality.Load(); q > 0 {
		e.quality.Store(q - 1)
	}
}

// SetEmptyDistance changes the empty distance from the next measurement on.
// Call it only while no measurement is running.
func (e *Engine) SetEmptyDistance(mm float64) {
	e.emptyDistance = mm
}

// WaterLevel is the empty distance minus the trimmed mean of the valid
// distances, or 0 when no echo was received.
func (e *Engine) WaterLevel() float64 {
	avg, count := e.samples.TrimmedAverage()
	if count == 0 {
		return 0
	}
	return e.limit - float64(avg)
}

// EchoQuality is 0 for no echo at all up to MaxMeasurements for a clean run.
func (e *Engine) EchoQuality() int {
	return int(e.quality.Load())
}

// SingleShotDistance returns the first sample as recorded.
func (e *Engine) SingleShotDistance() float64 {
	return e.samples.GetFirst()
}

func (e *Engine) Samples() []float64 {
	return e.samples.GetRawData()
}

func (e *Engine) State() State {
	return State(e.state.Load())
}

// Drops counts echoes lost because the loop had not taken the previous one.
func (e *Engine) Drops() uint32 {
	return e.drops.Load()
}
