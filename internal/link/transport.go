package link

import (
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport is the minimal serial-port surface the channel needs. The
// production implementation is go.bug.st/serial; tests substitute a mock.
type Transport interface {
	io.ReadWriteCloser

	// SetReadTimeout bounds how long a Read blocks; a timed-out Read
	// returns (0, nil).
	SetReadTimeout(t time.Duration) error
}

// Opener opens a transport on a named port at the given speed.
type Opener func(name string, baud int) (Transport, error)

// OpenSerial is the default Opener, backed by go.bug.st/serial.
func OpenSerial(name string, baud int) (Transport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return port, nil
}

// ListPorts returns the names of the serial ports present on the system.
func ListPorts() ([]string, error) {
	return serial.GetPortsList()
}
