package protocol

import "errors"

var (
	// ErrUnrecognizedLine is reported for an ASCII line without a known tag.
	ErrUnrecognizedLine = errors.New("protocol: unrecognized line")

	// ErrMalformedFrame is reported for a binary frame that fails to decode.
	ErrMalformedFrame = errors.New("protocol: malformed frame")

	// ErrMalformedStatus is returned for a status payload outside the grammar.
	ErrMalformedStatus = errors.New("protocol: malformed status payload")

	// ErrUnsupportedVersion is returned for a status payload with an unknown version prefix.
	ErrUnsupportedVersion = errors.New("protocol: unsupported status version")

	// ErrUnknownCommand is returned when a text command has no encoding.
	ErrUnknownCommand = errors.New("protocol: unknown command")

	// ErrBadArgument is returned when a command's arguments do not encode.
	ErrBadArgument = errors.New("protocol: bad argument")

	// ErrFrameTooLarge is returned when a payload exceeds the codec limit.
	ErrFrameTooLarge = errors.New("protocol: frame too large")
)
