package transport

import (
	"fmt"

	"go.bug.st/serial"
)

// SerialConfig names a physical serial port and its driver-specified baud
// rate.
type SerialConfig struct {
	PortName string
	BaudRate int
}

// OpenSerial opens a physical serial port and returns a Port usable with
// New. Framing (newline-terminated ASCII) and timing are handled entirely
// by Transport; this function only establishes the byte stream.
func OpenSerial(cfg SerialConfig) (Port, error) {
	mode := &serial.Mode{BaudRate: cfg.BaudRate}
	port, err := serial.Open(cfg.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.PortName, err)
	}
	return port, nil
}

// ListPorts enumerates candidate serial ports on the host. It is
// intentionally a thin pass-through to go.bug.st/serial; deeper OS-level
// port matching is left to the caller.
func ListPorts() ([]string, error) {
	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return names, nil
}
