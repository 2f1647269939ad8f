package report

import (
	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// DefaultBaudRate is the console rate used when none is configured.
const DefaultBaudRate = 115200

// OpenSerial opens a serial port for reporting.
func OpenSerial(name string, baudRate int) (serial.Port, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", name)
	}
	return port, nil
}

// SerialPorts returns the names of the serial ports on this host.
func SerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list serial ports")
	}
	return ports, nil
}
