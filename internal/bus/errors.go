package bus

import "errors"

var (
	// ErrNotStarted is returned when publishing before Start.
	ErrNotStarted = errors.New("bus: not started")

	// ErrEmptyText is returned when publishing an empty line.
	ErrEmptyText = errors.New("bus: empty text")

	// ErrInboxFull is returned to the transport when an inbound line
	// cannot be queued for dispatch.
	ErrInboxFull = errors.New("bus: inbox full")
)
