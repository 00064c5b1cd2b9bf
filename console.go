package main

import (
	"io"

	"github.com/gr-butler/cistern/env"
	"github.com/tarm/serial"
)

// openConsole opens the serial console the log is mirrored to.
func openConsole(name string) (io.WriteCloser, error) {
	return serial.OpenPort(&serial.Config{Name: name, Baud: env.ConsoleBaud})
}
