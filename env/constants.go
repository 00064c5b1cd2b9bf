package env

import "time"

const (
	GPIO04 = "GPIO4"
	GPIO17 = "GPIO17" // config button (pulled up, active low)
	GPIO23 = "GPIO23" // HC-SR04 trigger
	GPIO24 = "GPIO24" // HC-SR04 echo (via divider, 5V -> 3V3)
	GPIO25 = "GPIO25" // status LED

	TriggerOut   = GPIO23
	EchoIn       = GPIO24
	StatusLed    = GPIO25
	ConfigButton = GPIO17

	// MCP9808 in the sensor enclosure, optional
	EnclosureTempI2C = 0x18

	// turning the modem on or off works via a short sleep cycle
	ModemActivationPeriod = time.Second

	// posting must be done within this time, otherwise it is cancelled
	PostMeasurementTimeout = time.Second * 60
	// a measurement that has not collected its samples by then is abandoned
	MeasurementTimeout     = time.Second * 45

	ConfigButtonMinHold  = time.Second * 2
	ConfigButtonPoll     = time.Millisecond * 500
	ConfigListenPort     = 1253
	ConfigBlinkPeriod    = time.Millisecond * 500
	RangingLedPulse      = time.Millisecond * 100
	MaxRangeMM           = 4500 // HC-SR04 upper limit, used for calibration shots
	ThingSpeakURL        = "https://api.thingspeak.com/update?"
	ConsoleBaud          = 74880
	DefaultConfigPath    = "/etc/cistern/config.yaml"
	DefaultScratchPath   = "/run/cistern/scratch.bin"
	DefaultFlashPath     = "/var/lib/cistern/log.img"
	DefaultFlashBlocks   = 4
	DefaultFlashBlockLen = 4096
)
