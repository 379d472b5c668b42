// Package statuslog is the single source of truth for what a device is
// doing right now, with a bounded history for diagnostics.
//
// Every recorded entry goes to a per-category ring (default depth 100).
// Status entries are key/value payloads merged into the current state; an
// entry is only admitted when at least one value changed, so periodic
// heartbeats do not flood the history or the subscribers.
//
// Subscribers run synchronously in registration order. A subscriber that
// returns an error or panics is logged and does not stop delivery to the
// rest.
package statuslog
