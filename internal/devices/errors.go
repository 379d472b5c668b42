package devices

import (
	"errors"
	"fmt"
)

// ErrUnknownKind is returned for a device kind without a translator.
var ErrUnknownKind = errors.New("devices: unknown device kind")

// UsageError is a command the translator could not understand. Its text
// is published to the bus as-is.
type UsageError struct {
	Text string
}

func (e *UsageError) Error() string {
	return e.Text
}

func usagef(format string, args ...any) error {
	return &UsageError{Text: fmt.Sprintf(format, args...)}
}
