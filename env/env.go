package env

type Args struct {
	Test        *bool   // no posting, measurements are logged only
	Once        *bool   // run a single wake cycle and exit
	Verbose     *bool   // debug logging
	ConfigPath  *string // YAML configuration
	ScratchPath *string // control record, must live on tmpfs
	FlashPath   *string // log region image
	Console     *string // optional serial console device
	Rfkill      *string // rfkill device of the radio, empty = no radio control
	Bus         *string // I²C bus of the enclosure sensor
}
