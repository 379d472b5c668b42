package influxdb

import (
	"strconv"
	"strings"
)

// Measurements written by device bots.
const (
	MeasurementStatus = "device_status"
	MeasurementEvent  = "device_events"
)

// WriteStatus records the numeric subset of a device status update as one
// device_status point tagged with the device nick, and returns the number
// of fields written.
//
// Status values arrive as text ("hv_voltage=2400", "chgPWR=on",
// "switch_3=AUTO"); categorical values like switch positions are skipped,
// they are already visible on the bus and in the event stream.
func (c *Client) WriteStatus(device string, values map[string]string) int {
	fields := NumericFields(values)
	if len(fields) == 0 {
		return 0
	}
	if !c.write(MeasurementStatus, map[string]string{"device": device}, fields) {
		return 0
	}
	return len(fields)
}

// WriteEvent records one event line under its status log category.
func (c *Client) WriteEvent(device, category, text string) {
	c.write(MeasurementEvent,
		map[string]string{"device": device, "category": category},
		map[string]any{"text": text})
}

// NumericFields keeps the values that parse as numbers or as on/off and
// true/false flags.
func NumericFields(values map[string]string) map[string]any {
	fields := make(map[string]any, len(values))
	for k, v := range values {
		v = strings.TrimSpace(v)
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			fields[k] = f
			continue
		}
		switch strings.ToLower(v) {
		case "true", "on":
			fields[k] = true
		case "false", "off":
			fields[k] = false
		}
	}
	return fields
}
