package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gr-butler/cistern/config"
	"github.com/gr-butler/cistern/led"
	"github.com/gr-butler/cistern/logring"
	"github.com/gr-butler/cistern/posting"
	"github.com/gr-butler/cistern/power"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMeter struct {
	level    float64
	distance float64
	quality  int
	empty    float64
	starts   int
	single   bool
	silent   bool // never completes
}

func (m *fakeMeter) StartMeasurement(ctx context.Context, onDone func(), singleShot bool) error {
	m.starts++
	m.single = singleShot
	if !m.silent {
		onDone()
	}
	return nil
}

func (m *fakeMeter) SetEmptyDistance(mm float64) { m.empty = mm }
func (m *fakeMeter) WaterLevel() float64         { return m.level }
func (m *fakeMeter) EchoQuality() int            { return m.quality }
func (m *fakeMeter) SingleShotDistance() float64 { return m.distance }

type fakeSink struct {
	name  string
	err   error
	block bool
	lock  sync.Mutex
	got   []posting.Reading
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) Post(ctx context.Context, r posting.Reading) error {
	s.lock.Lock()
	s.got = append(s.got, r)
	s.lock.Unlock()
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.err
}

type suspendCall struct {
	period time.Duration
	mode   power.WakeMode
}

type fakeSuspender struct {
	calls []suspendCall
}

func (f *fakeSuspender) Suspend(ctx context.Context, period time.Duration, mode power.WakeMode) error {
	f.calls = append(f.calls, suspendCall{period, mode})
	return ctx.Err()
}

func (f *fakeSuspender) last() suspendCall {
	return f.calls[len(f.calls)-1]
}

type harness struct {
	g      *gauge
	meter  *fakeMeter
	sleeps *fakeSuspender
	dev    *logring.MemDevice
}

func testConfig() *config.Config {
	cfg := &config.Config{
		Cistern: config.CisternConfig{Type: 2, RadiusMM: 1000, DistanceEmptyMM: 2000, LitersFull: 6000},
		Device: config.DeviceConfig{
			HostName:              "cistern",
			DeepSleepPeriodS:      600,
			MinDifferenceToPostMM: 20,
			MaxDataAgeToPostS:     3600,
		},
	}
	config.Normalize(cfg)
	return cfg
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	h := &harness{
		meter:  &fakeMeter{level: 1500, quality: 10},
		sleeps: &fakeSuspender{},
		dev:    logring.NewMemDevice(4, 256),
	}
	ctrl := power.NewController(&power.MemScratch{}, h.sleeps, power.Settings{})
	h.g = &gauge{
		ctrl:           ctrl,
		meter:          h.meter,
		status:         led.NewLED("status", nil),
		log:            logring.New(h.dev, ctrl),
		configPath:     filepath.Join(t.TempDir(), "config.yaml"),
		configAddr:     "127.0.0.1:0",
		postTimeout:    time.Second * 5,
		measureTimeout: time.Second * 5,
	}
	ctrl.AttachLog(h.g.log)
	if cfg != nil {
		h.g.apply(cfg)
	}
	return h
}

// prime stores a control record prepared by f.
func (h *harness) prime(t *testing.T, f func(c *power.Controller)) {
	t.Helper()
	ctx := context.Background()
	_, err := h.g.ctrl.LoadOrInitialize(ctx)
	require.NoError(t, err)
	f(h.g.ctrl)
	require.NoError(t, h.g.ctrl.Sleep(ctx))
	h.sleeps.calls = nil
}

func TestFirstWakeOnlyInitialises(t *testing.T) {
	h := newHarness(t, testConfig())
	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, 0, h.meter.starts)
	assert.Equal(t, []suspendCall{{time.Second, power.WakeRadioDisabled}}, h.sleeps.calls)

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, 1, h.meter.starts)
	assert.False(t, h.meter.single)
	// first level is always posted, the radio is needed next
	assert.Equal(t, suspendCall{time.Second, power.WakeNoRFCalibrate}, h.sleeps.last())
	assert.Equal(t, power.PhasePost, h.g.ctrl.Phase())
}

func TestMeasurementThenPost(t *testing.T) {
	h := newHarness(t, testConfig())
	ts := &fakeSink{name: "thingspeak"}
	hist := &fakeSink{name: "history"}
	h.g.primary = []posting.Sink{ts}
	h.g.extra = []posting.Sink{hist}
	h.prime(t, func(c *power.Controller) {})

	require.NoError(t, h.g.wake(context.Background()))
	require.NoError(t, h.g.wake(context.Background()))

	require.Len(t, ts.got, 1)
	r := ts.got[0]
	assert.Equal(t, 1500.0, r.LevelMM)
	assert.Equal(t, 150.0, r.Centimeters)
	assert.InDelta(t, math.Pi*1500, r.Liters, 0.01)
	assert.Len(t, hist.got, 1)

	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
	assert.Equal(t, suspendCall{time.Minute * 10, power.WakeRadioDisabled}, h.sleeps.last())
	assert.False(t, h.g.status.IsOn())

	// unchanged level within the countdown is not posted again
	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
}

func TestPostFailureCancels(t *testing.T) {
	h := newHarness(t, testConfig())
	h.g.primary = []posting.Sink{
		&fakeSink{name: "thingspeak", err: errors.New("down")},
		&fakeSink{name: "mqtt", err: errors.New("down")},
	}
	h.prime(t, func(c *power.Controller) { c.EvaluateMeasurement(1500) })

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())

	// countdown was reset, the same level is posted again
	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhasePost, h.g.ctrl.Phase())
}

func TestOneSinkSucceedingIsEnough(t *testing.T) {
	h := newHarness(t, testConfig())
	h.g.primary = []posting.Sink{
		&fakeSink{name: "thingspeak", err: errors.New("down")},
		&fakeSink{name: "mqtt"},
	}
	h.prime(t, func(c *power.Controller) { c.EvaluateMeasurement(1500) })
	require.NoError(t, h.g.wake(context.Background()))

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase(), "unchanged level not posted")
}

func TestNoSinksCountsAsPosted(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prime(t, func(c *power.Controller) { c.EvaluateMeasurement(1500) })
	require.NoError(t, h.g.wake(context.Background()))
	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
}

func TestPostTimeout(t *testing.T) {
	h := newHarness(t, testConfig())
	h.g.postTimeout = time.Millisecond * 20
	h.g.primary = []posting.Sink{&fakeSink{name: "mqtt", block: true}}
	h.prime(t, func(c *power.Controller) { c.EvaluateMeasurement(1500) })

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
	assert.Equal(t, suspendCall{time.Minute * 10, power.WakeRadioDisabled}, h.sleeps.last())
}

func TestIncompleteMeasurementStillSleeps(t *testing.T) {
	h := newHarness(t, testConfig())
	h.g.measureTimeout = time.Millisecond * 20
	h.meter.silent = true
	h.prime(t, func(c *power.Controller) {})

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, 1, h.meter.starts)
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
	assert.Equal(t, []suspendCall{{time.Minute * 10, power.WakeRadioDisabled}}, h.sleeps.calls)
}

func TestMissingConfigEntersConfigMode(t *testing.T) {
	h := newHarness(t, nil)
	h.prime(t, func(c *power.Controller) {})

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseConfigure, h.g.ctrl.Phase())
	assert.Equal(t, suspendCall{time.Second, power.WakeRFCalibrate}, h.sleeps.last())
	assert.Equal(t, 0, h.meter.starts)
}

func TestButtonEntersConfigMode(t *testing.T) {
	h := newHarness(t, testConfig())
	pressed := make(chan struct{}, 1)
	pressed <- struct{}{}
	h.g.pressed = pressed
	h.prime(t, func(c *power.Controller) {})

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, power.PhaseConfigure, h.g.ctrl.Phase())
	assert.Equal(t, 0, h.meter.starts)
}

func TestLogPostOnlyWake(t *testing.T) {
	cfg := testConfig()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	cfg.Log = config.LogConfig{Type: 1, Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	got := make(chan []byte, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(got)
			return
		}
		defer conn.Close()
		b, _ := io.ReadAll(conn)
		got <- b
	}()

	h := newHarness(t, cfg)
	h.prime(t, func(c *power.Controller) { c.SetShouldPostLog(true) })

	require.NoError(t, h.g.wake(context.Background()))
	select {
	case b := <-got:
		assert.NotNil(t, b)
	case <-time.After(time.Second * 5):
		t.Fatal("log not posted")
	}
	assert.False(t, h.g.ctrl.WantsPostLog())
	assert.Equal(t, 0, h.meter.starts)
	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
	rolling, _ := logring.DecodeCursor(h.g.ctrl.NextLogBytePointer())
	assert.Equal(t, 1, rolling)
}

func TestFailedLogPostStillMeasures(t *testing.T) {
	cfg := testConfig()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	cfg.Log = config.LogConfig{Type: 1, Host: "127.0.0.1", Port: port}

	h := newHarness(t, cfg)
	h.prime(t, func(c *power.Controller) { c.SetShouldPostLog(true) })

	require.NoError(t, h.g.wake(context.Background()))
	assert.Equal(t, 1, h.meter.starts)
	assert.True(t, h.g.ctrl.WantsPostMeasurement())
}

func TestStalePostLogClearedWhenLogDisabled(t *testing.T) {
	h := newHarness(t, testConfig())
	h.prime(t, func(c *power.Controller) { c.SetShouldPostLog(true) })
	require.NoError(t, h.g.wake(context.Background()))
	assert.False(t, h.g.ctrl.WantsPostLog())
	assert.Equal(t, 1, h.meter.starts)
}

func exchange(t *testing.T, addr string, req interface{}, reply interface{}) {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, json.NewEncoder(conn).Encode(req))
	require.NoError(t, json.NewDecoder(conn).Decode(reply))
}

func TestConfigurationMode(t *testing.T) {
	h := newHarness(t, nil)
	h.meter.distance = 1234
	h.meter.quality = 6
	h.prime(t, func(c *power.Controller) { _ = c.EnterConfigMode(context.Background()) })

	addrs := make(chan string, 1)
	h.g.onListen = func(addr string) { addrs <- addr }
	errs := make(chan error, 1)
	go func() { errs <- h.g.wake(context.Background()) }()
	addr := <-addrs

	var m measureReply
	exchange(t, addr, map[string]interface{}{"Measure": true}, &m)
	assert.Equal(t, 1234.0, m.Distance)
	assert.Equal(t, 6, m.Quality)
	assert.Empty(t, m.Error)

	var st statusReply
	exchange(t, addr, map[string]interface{}{"CisternType": 1, "CisternRadius": 500}, &st)
	assert.Equal(t, "rejected", st.Status)

	exchange(t, addr, config.Provision{
		CisternType:         2,
		CisternRadius:       750,
		DistanceEmpty:       1900,
		LitersFull:          3300,
		HostName:            "zisterne",
		DeepSleepPeriod:     900,
		MinDifferenceToPost: 10,
		MaxDataAgeToPost:    21600,
	}, &st)
	assert.Equal(t, "ok", st.Status)

	select {
	case err := <-errs:
		require.NoError(t, err)
	case <-time.After(time.Second * 5):
		t.Fatal("configuration mode did not end")
	}

	assert.Equal(t, power.PhaseMeasure, h.g.ctrl.Phase())
	assert.Equal(t, suspendCall{time.Second, power.WakeRadioDisabled}, h.sleeps.last())
	assert.Equal(t, 1900.0, h.meter.empty)
	saved, err := config.Load(h.g.configPath)
	require.NoError(t, err)
	assert.Equal(t, 900, saved.Device.DeepSleepPeriodS)
	assert.Equal(t, saved, h.g.cfg)
}

func TestConfigurationModeCanceled(t *testing.T) {
	h := newHarness(t, nil)
	h.prime(t, func(c *power.Controller) { _ = c.EnterConfigMode(context.Background()) })

	ctx, cancel := context.WithCancel(context.Background())
	h.g.onListen = func(string) { cancel() }
	assert.ErrorIs(t, h.g.wake(ctx), context.Canceled)
	assert.Equal(t, power.PhaseConfigure, h.g.ctrl.Phase())
}
