package transport

import (
	"fmt"
	"io"

	"go.bug.st/serial"
)

// DefaultBaudRate is the rate every Meshtastic device's USB/UART console
// speaks at.
const DefaultBaudRate = 115200

// OpenSerial opens port at the standard Meshtastic settings (115200 8N1, no
// flow control) and asserts RTS/DTR the way the firmware expects a connected
// USB-serial host to.
func OpenSerial(port string) (io.ReadWriteCloser, error) {
	mode := &serial.Mode{
		BaudRate: DefaultBaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(port, mode)
	if err != nil {
		return nil, fmt.Errorf("serial: opening %s: %w", port, err)
	}
	if err := p.SetRTS(true); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: asserting RTS on %s: %w", port, err)
	}
	if err := p.SetDTR(true); err != nil {
		p.Close()
		return nil, fmt.Errorf("serial: asserting DTR on %s: %w", port, err)
	}
	return p, nil
}

// Ports lists the serial ports available on this host.
func Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: listing ports: %w", err)
	}
	return ports, nil
}
