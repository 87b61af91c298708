package ble

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Transport represents an established, bidirectional byte stream to a Grove
// BLE module.
//
// A Transport is assumed to be already connected and ready for use. The
// stream carries no framing: commands go out bare and response bytes trickle
// in without any terminator.
//
// Read must never block. When no data is pending it returns (0, nil); the
// controller polls the transport once per tick and drains whatever happens
// to be buffered. Typical implementations include serial ports opened with a
// zero read timeout, TCP connections to emulators, or in-memory fakes used
// for testing.
type Transport interface {
	io.ReadWriteCloser
}

// Dialer opens a Transport to a Grove BLE module.
//
// Dialer abstracts how the connection is created (for example, via a serial
// port, TCP-based emulator, or test double) and is intended to be used
// during controller construction only. Once a Transport is obtained, the
// Dialer is no longer needed.
type Dialer interface {
	// Dial is responsible for creating and returning a connected Transport. It may
	// perform blocking operations and should respect cancellation and deadlines
	// provided by the context. Dial returns an error if the transport cannot be
	// established.
	Dial(ctx context.Context) (Transport, error)
}

// SerialDialer opens a Grove BLE module over a serial port using
// go.bug.st/serial.
type SerialDialer struct {
	// PortName is the path of the serial device (e.g. "/dev/ttyUSB0").
	PortName string
	// Mode configures baud rate, parity, data and stop bits. When nil the
	// Grove BLE factory settings are used (9600 8N1).
	Mode *serial.Mode
}

func (d SerialDialer) Dial(ctx context.Context) (Transport, error) {
	if ctx == nil {
		return nil, errors.New("ble: context is nil")
	}
	if d.PortName == "" {
		return nil, errors.New("ble: serial port name is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode := d.Mode
	if mode == nil {
		mode = &serial.Mode{
			BaudRate: 9600,
			Parity:   serial.NoParity,
			DataBits: 8,
			StopBits: serial.OneStopBit,
		}
	}

	port, err := serial.Open(d.PortName, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %q: %w", d.PortName, err)
	}

	// The controller is poll-driven; reads have to return immediately with
	// whatever is pending.
	if err := port.SetReadTimeout(time.Duration(0)); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout on %q: %w", d.PortName, err)
	}

	return port, nil
}
