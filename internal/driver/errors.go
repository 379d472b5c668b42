package driver

import "errors"

var (
	// ErrConnectionLost is returned internally when the device link fails.
	ErrConnectionLost = errors.New("driver: connection lost")

	// ErrClosed is returned for operations on a closed driver.
	ErrClosed = errors.New("driver: closed")

	// ErrQueueFull is returned when a command cannot be queued in time.
	ErrQueueFull = errors.New("driver: command queue full")

	// ErrPortNotFound is returned when an auto: port matches no device.
	ErrPortNotFound = errors.New("driver: serial port not found")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("driver: already running")
)
