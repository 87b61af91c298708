package ble

import "errors"

var (
	// ErrNoDialer is returned when a BLE controller is constructed without a
	// Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the module.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNoDeviceName is returned when a BLE controller is constructed
	// without a device name.
	//
	// The name becomes part of the AT+NAME command verbatim and cannot be
	// empty.
	ErrNoDeviceName = errors.New("no device name configured")

	// ErrNotInitialized is returned when the Dialer produced no usable
	// transport.
	ErrNotInitialized = errors.New("controller not initialized")

	// ErrAlreadyClosed is returned when Close is called on a controller that
	// has already been closed.
	ErrAlreadyClosed = errors.New("controller already closed")
)
