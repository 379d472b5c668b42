package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "gridctl"

// Topics builds gridctl topic names under a configurable prefix.
//
// Layout:
//
//	<prefix>/bus/<channel>     text bus lines (JSON envelope)
//	<prefix>/state/<device>    retained device state snapshot
//	<prefix>/status/<client>   retained process presence (LWT)
type Topics struct {
	Prefix string
}

// NewTopics returns a builder for prefix, trimming any trailing slash.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Channel returns the topic carrying one bus channel.
//
// Example: gridctl/bus/system
func (t Topics) Channel(channel string) string {
	return t.Prefix + "/bus/" + channel
}

// AllChannels matches every bus channel.
func (t Topics) AllChannels() string {
	return t.Prefix + "/bus/+"
}

// DeviceState returns the retained state topic for a device.
//
// Example: gridctl/state/bank
func (t Topics) DeviceState(device string) string {
	return t.Prefix + "/state/" + device
}

// Status returns the presence topic for a client.
//
// Example: gridctl/status/gridctl-bank
func (t Topics) Status(clientID string) string {
	return t.Prefix + "/status/" + clientID
}

// AllStatus matches every client's presence topic.
func (t Topics) AllStatus() string {
	return t.Prefix + "/status/+"
}

// ChannelFromTopic extracts the channel from a bus topic, returning false
// if topic is not a bus topic under this prefix.
func (t Topics) ChannelFromTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/bus/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
