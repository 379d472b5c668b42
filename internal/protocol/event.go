package protocol

// Category classifies one unit of inbound device data.
type Category string

// Event categories.
const (
	CategoryReady       Category = "ready"
	CategoryError       Category = "error"
	CategoryAck         Category = "ack"
	CategoryStateChange Category = "state_change"
	CategoryEvent       Category = "event"
	CategoryInfo        Category = "info"
	CategoryStatus      Category = "status"
	CategoryResponse    Category = "response"
	CategoryHeartbeat   Category = "heartbeat"
)

// Status log category names, shared with the control panel history views.
const (
	LogCommands = "commands"
	LogReplies  = "replies"
	LogErrors   = "errors"
	LogEvents   = "events"
	LogInfo     = "info"
	LogStatus   = "status"
)

// LogCategory returns the status log category an event is recorded under,
// or "" for events that only drive the send gate.
func (c Category) LogCategory() string {
	switch c {
	case CategoryAck:
		return LogCommands
	case CategoryResponse:
		return LogReplies
	case CategoryError:
		return LogErrors
	case CategoryEvent:
		return LogEvents
	case CategoryInfo:
		return LogInfo
	case CategoryStatus:
		return LogStatus
	default:
		return ""
	}
}

// Event is one classified unit of the device stream.
type Event struct {
	Category Category

	// Payload is the line text after the tag, or the human-readable
	// rendering of a binary frame.
	Payload string

	// Values holds parsed key/value pairs for CategoryStatus.
	Values map[string]string

	// Completes marks a reply to the outstanding command of a reply-gated device.
	Completes bool
}

// InvalidFunc receives data a decoder could not classify, with the reason.
type InvalidFunc func(data []byte, err error)

// Decoder turns raw inbound bytes into Events.
//
// Decoders are stateful (partial lines, partial frames) and are owned by a
// single goroutine.
type Decoder interface {
	// Decode consumes data and returns every event it completes.
	Decode(data []byte) []Event

	// SetOnInvalid registers the callback for unclassifiable input.
	SetOnInvalid(fn InvalidFunc)

	// Reset discards partial input, used after a reconnect.
	Reset()
}
