package process

import "errors"

var (
	// ErrAlreadyRunning is returned by Start on a running manager.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrExited records a child that exited with status 0 without being stopped.
	ErrExited = errors.New("process exited")

	// ErrUnhealthy records a child killed after failing its health checks.
	ErrUnhealthy = errors.New("process killed after failed health checks")

	// ErrNoChildren is returned when the supervisor has nothing to run.
	ErrNoChildren = errors.New("no children configured")
)
