// Package queue provides the bounded FIFO that sits between command
// producers and the single goroutine that consumes them.
//
// A device driver owns one Queue of outbound commands; the macro robot owns
// one Queue of pending work. Capacity is deliberately small for devices: a
// full queue means the device cannot keep up, and producers see ErrFull (or
// block until room appears) instead of buffering without bound.
//
// Producers may call Put and TryPut from any goroutine. Consumers use Get,
// TryGet, or select on Ready() alongside their other channels.
package queue
