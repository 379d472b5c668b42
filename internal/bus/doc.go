// Package bus adapts the MQTT client into the lab's text bus.
//
// Every process joins one channel under a nick. Lines are published as a
// JSON envelope on <prefix>/bus/<channel>:
//
//	{"id":"<uuid>","sender":"bank","channel":"system","text":"charge : OK, value = 0","timestamp":"..."}
//
// A plain (non-JSON) payload is accepted as a line from an anonymous
// sender, so operators can type into the bus with any MQTT tool.
//
// Inbound lines are handed to handlers in arrival order on one dispatch
// goroutine per adapter, so a handler may reply on the bus without holding
// up the MQTT client's delivery of the ack it waits for.
//
// A process never sees its own lines. Addressing and the global STOP
// convention are plain text prefixes, see Addressed and IsStop.
package bus
