package power

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logger "github.com/sirupsen/logrus"
)

// WakeMode selects the radio state after the next wake.
type WakeMode int

const (
	WakeRFCalibrate   WakeMode = 1
	WakeNoRFCalibrate WakeMode = 2
	WakeRadioDisabled WakeMode = 4
)

func (m WakeMode) String() string {
	switch m {
	case WakeRFCalibrate:
		return "rf-calibrate"
	case WakeNoRFCalibrate:
		return "no-rf-calibrate"
	case WakeRadioDisabled:
		return "radio-disabled"
	}
	return fmt.Sprintf("wake(%d)", int(m))
}

// Suspender powers the device down for period. It returns when the device
// is awake again.
type Suspender interface {
	Suspend(ctx context.Context, period time.Duration, mode WakeMode) error
}

type Radio interface {
	SetEnabled(on bool) error
}

// RfkillRadio switches a radio through its rfkill soft block, for example
// /sys/class/rfkill/rfkill0.
type RfkillRadio struct {
	Path string
}

func (r RfkillRadio) SetEnabled(on bool) error {
	v := "1"
	if on {
		v = "0"
	}
	if err := os.WriteFile(filepath.Join(r.Path, "soft"), []byte(v), 0o644); err != nil {
		return fmt.Errorf("power: rfkill: %w", err)
	}
	return nil
}

// HostSuspender sleeps in process. The radio is set for the wake mode before
// going to sleep.
type HostSuspender struct {
	Radio Radio
	// Handoff skips the sleep and leaves the period in Requested for an
	// external wake timer.
	Handoff   bool
	Requested time.Duration
}

func (h *HostSuspender) Suspend(ctx context.Context, period time.Duration, mode WakeMode) error {
	if h.Radio != nil {
		if err := h.Radio.SetEnabled(mode != WakeRadioDisabled); err != nil {
			logger.Warnf("Radio switch failed [%v]", err)
		}
	}
	h.Requested = period
	if h.Handoff {
		return nil
	}
	logger.Debugf("Sleeping [%v] wake [%v]", period, mode)
	t := time.NewTimer(period)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
