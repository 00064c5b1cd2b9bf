package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gr-butler/cistern/button"
	"github.com/gr-butler/cistern/config"
	"github.com/gr-butler/cistern/env"
	"github.com/gr-butler/cistern/led"
	"github.com/gr-butler/cistern/logring"
	"github.com/gr-butler/cistern/power"
	"github.com/gr-butler/cistern/ranging"
	"github.com/gr-butler/cistern/sensors"

	logger "github.com/sirupsen/logrus"
)

const version = "GRB-Cistern-1.0.0"

func main() {
	args := env.Args{
		Test:        flag.Bool("test", false, "test mode, measurements are not posted"),
		Once:        flag.Bool("once", false, "run one wake cycle, print the sleep period in seconds and exit"),
		Verbose:     flag.Bool("verbose", false, "debug logging"),
		ConfigPath:  flag.String("config", env.DefaultConfigPath, "configuration file"),
		ScratchPath: flag.String("scratch", env.DefaultScratchPath, "control record, must be on tmpfs"),
		FlashPath:   flag.String("flash", env.DefaultFlashPath, "log region image"),
		Console:     flag.String("console", "", "serial console to mirror the log to (/dev/ttyS0)"),
		Rfkill:      flag.String("rfkill", "", "rfkill device of the radio (rfkill0)"),
		Bus:         flag.String("bus", "", "I²C bus (/dev/i2c-1)"),
	}
	flag.Parse()

	if *args.Verbose {
		logger.SetLevel(logger.DebugLevel)
	}
	logger.Infof("Starting cistern gauge [%v]", version)
	if *args.Test {
		logger.Info("TEST MODE")
	}

	outputs := []io.Writer{os.Stderr}
	if *args.Console != "" {
		console, err := openConsole(*args.Console)
		if err != nil {
			logger.Errorf("Failed to open console [%v]", err)
		} else {
			defer console.Close()
			outputs = append(outputs, console)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Infof("%v: Initialize sensors...", time.Now().Format(time.RFC822))
	s, err := sensors.InitSensors(*args.Bus)
	if err != nil {
		logger.Errorf("Failed to initialise sensors!! [%v]", err)
		logger.Exit(1)
	}
	defer s.Close()

	var radio power.Radio
	if *args.Rfkill != "" {
		radio = power.RfkillRadio{Path: filepath.Join("/sys/class/rfkill", *args.Rfkill)}
	}
	suspender := &power.HostSuspender{Radio: radio, Handoff: *args.Once}
	ctrl := power.NewController(power.FileScratch{Path: *args.ScratchPath}, suspender, power.Settings{})

	status := led.NewLED("status", s.Led)
	g := &gauge{
		ctrl:           ctrl,
		status:         status,
		configPath:     *args.ConfigPath,
		configAddr:     fmt.Sprintf(":%d", env.ConfigListenPort),
		testMode:       *args.Test,
		postTimeout:    env.PostMeasurementTimeout,
		measureTimeout: env.MeasurementTimeout,
		meter: ranging.New(s.Trigger, s.Echo, 0,
			ranging.WithCyclePulse(func() { status.Pulse(env.RangingLedPulse) })),
	}
	if s.Enclosure != nil {
		g.enclosure = func() (float64, bool) {
			t, ok := s.Enclosure.GetTemperature()
			return t.Float64(), ok
		}
	}

	dev, err := logring.OpenFileDevice(*args.FlashPath, env.DefaultFlashBlocks, env.DefaultFlashBlockLen)
	if err != nil {
		logger.Errorf("Log region unavailable [%v]", err)
	} else {
		defer dev.Close()
		g.log = logring.New(dev, ctrl)
		ctrl.AttachLog(g.log)
		outputs = append(outputs, g.log)
	}
	logger.SetOutput(io.MultiWriter(outputs...))

	cfg, err := config.Load(*args.ConfigPath)
	switch {
	case errors.Is(err, config.ErrNotFound):
		logger.Warnf("No configuration at [%v]", *args.ConfigPath)
	case err != nil:
		logger.Errorf("Invalid configuration [%v]", err)
	default:
		g.apply(cfg)
	}

	if s.Button != nil {
		b := button.New(s.Button, env.ConfigButtonPoll, env.ConfigButtonMinHold)
		if err := b.Init(); err != nil {
			logger.Errorf("Failed to set up config button [%v]", err)
		} else {
			pressed := make(chan struct{}, 1)
			g.pressed = pressed
			go b.Watch(ctx, pressed)
		}
	}

	for {
		if err := g.wake(ctx); err != nil && ctx.Err() == nil {
			logger.Errorf("Wake failed [%v]", err)
		}
		if *args.Once || ctx.Err() != nil {
			break
		}
	}
	if *args.Once {
		fmt.Println(int(suspender.Requested.Seconds()))
	}
	logger.Info("Exiting...")
}
