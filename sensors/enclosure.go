package sensors

import (
	logger "github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/mcp9808"
)

type TemperatureC float64

func (t TemperatureC) Float64() float64 {
	return float64(t)
}

// Enclosure reads the MCP9808 inside the sensor housing.
type Enclosure struct {
	temp *mcp9808.Dev
}

// NewEnclosure returns nil when there is no sensor at addr.
func NewEnclosure(bus i2c.Bus, addr int) *Enclosure {
	logger.Infof("Starting MCP9808 Temperature Sensor [%x]", addr)
	dev, err := mcp9808.New(bus, &mcp9808.Opts{Addr: addr, Res: mcp9808.High})
	if err != nil {
		logger.Warnf("Failed to open MCP9808 sensor [%v]", err)
		return nil
	}
	return &Enclosure{temp: dev}
}

// GetTemperature returns false when the sensor could not be read.
func (e *Enclosure) GetTemperature() (TemperatureC, bool) {
	if e == nil || e.temp == nil {
		return 0, false
	}
	env := physic.Env{}
	if err := e.temp.Sense(&env); err != nil {
		logger.Errorf("MCP9808 read failed [%v]", err)
		return 0, false
	}
	return TemperatureC(env.Temperature.Celsius()), true
}
