package sensors

import (
	"fmt"

	"github.com/gr-butler/cistern/env"
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

/*
 * Sensors owns the host hardware of the gauge: the ultrasonic ranger pins,
 * the status LED, the configuration button and the optional enclosure
 * temperature sensor on the I²C bus.
 */

type Sensors struct {
	Trigger   gpio.PinIO
	Echo      gpio.PinIO
	Led       gpio.PinIO
	Button    gpio.PinIO
	Enclosure *Enclosure
	bus       i2c.BusCloser
}

// InitSensors initialises the host drivers and looks up the pins. The
// ranger pins are required, everything else is optional.
func InitSensors(i2cBus string) (*Sensors, error) {
	if _, err := host.Init(); err != nil {
		logger.Errorf("Failed to init host drivers [%v]", err)
		return nil, err
	}
	s := &Sensors{}

	var err error
	if s.Trigger, err = pin(env.TriggerOut, "trigger"); err != nil {
		return nil, err
	}
	if s.Echo, err = pin(env.EchoIn, "echo"); err != nil {
		return nil, err
	}
	// missing LED or button is not critical
	s.Led, _ = pin(env.StatusLed, "status LED")
	s.Button, _ = pin(env.ConfigButton, "config button")

	bus, err := i2creg.Open(i2cBus)
	if err != nil {
		logger.Warnf("No I²C bus, enclosure temperature disabled [%v]", err)
		return s, nil
	}
	s.bus = bus
	s.Enclosure = NewEnclosure(bus, env.EnclosureTempI2C)
	logger.Info("Sensors initialized.")
	return s, nil
}

func pin(name, what string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		logger.Errorf("Failed to find %v - %v pin", name, what)
		return nil, fmt.Errorf("sensors: no pin %s for %s", name, what)
	}
	logger.Infof("%s: %s", p, what)
	return p, nil
}

func (s *Sensors) Close() error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Close()
}
