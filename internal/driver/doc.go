// Package driver runs the connection to one lab device.
//
// A Driver owns a serial endpoint and a bounded outbound command queue. Its
// Run loop connects (retrying forever at a flat interval), writes queued
// commands one at a time under the device's send gate, and feeds inbound
// bytes through a protocol.Decoder, delivering the resulting events to the
// registered handlers.
//
// Send gates:
//
//   - GatePrompt: write only after the device printed its ready prompt.
//   - GateReply: write only when no command is awaiting its reply frame.
//   - GateNone: write as soon as a command is dequeued.
//
// Commands survive reconnects: queued commands stay queued and a command
// whose write failed is written first after the next connect. Written
// commands are never replayed. Interrupt bypasses the queue and the gate
// for emergency stops.
//
// Thread Safety:
//   - Enqueue, TryEnqueue, Interrupt, Stats and Close are safe for
//     concurrent use.
//   - Handlers are invoked from the Run goroutine and must not block.
package driver
