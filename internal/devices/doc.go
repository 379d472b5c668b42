// Package devices turns bus commands into device commands and device
// events back into bus lines.
//
// A Translator knows one device kind's command set (bank-ascii,
// bank-binary, stepper). A Bot joins a translator, a driver.Driver and a
// statuslog.Log: addressed bus lines are translated and queued, decoded
// device events are recorded, and admitted log entries are republished to
// the bus as human-readable lines that macro waits can match.
package devices
