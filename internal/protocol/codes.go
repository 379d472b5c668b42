package protocol

import "strings"

// Code is one named byte value of the binary bank protocol.
type Code struct {
	Name  string
	Value byte
}

// CodeTable maps names to byte codes in declaration order.
type CodeTable struct {
	title   string
	entries []Code
}

func newTable(title string, entries ...Code) CodeTable {
	return CodeTable{title: title, entries: entries}
}

// Title returns the human-readable table name.
func (t CodeTable) Title() string { return t.title }

// Entries returns a copy of the table in declaration order.
func (t CodeTable) Entries() []Code {
	out := make([]Code, len(t.entries))
	copy(out, t.entries)
	return out
}

// Value looks a name up case-insensitively.
func (t CodeTable) Value(name string) (byte, bool) {
	for _, e := range t.entries {
		if strings.EqualFold(e.Name, name) {
			return e.Value, true
		}
	}
	return 0, false
}

// Name returns the name for a code, or "" when the code is unknown.
func (t CodeTable) Name(value byte) string {
	for _, e := range t.entries {
		if e.Value == value {
			return e.Name
		}
	}
	return ""
}

// Binary bank command codes.
var Commands = newTable("commands",
	Code{"get", 0},
	Code{"set", 1},
	Code{"reset", 2},
	Code{"dry_run", 4},
	Code{"charge", 8},
	Code{"pulse", 16},
	Code{"abort", 32},
)

// Binary bank parameter codes.
var Parameters = newTable("parameters",
	Code{"pulse_width", 0},
	Code{"pulse_delay", 1},
	Code{"charge_enable", 2},
	Code{"charge_power", 4},
	Code{"hv_state", 8},
	Code{"hv_voltage", 16},
	Code{"bank_voltage", 32},
	Code{"switch_state", 64},
)

// ResponseOK is the success response code.
const ResponseOK byte = 0

// Binary bank response codes.
var Responses = newTable("responses",
	Code{"OK", 0},
	Code{"AT_LEAST_ONE_BANK_MANUAL", 1},
	Code{"WRONG_NUMBER_OF_ARGUMENTS", 2},
	Code{"INVALID_BANK_NUMBER", 3},
	Code{"BANK_VOLTAGE_OUT_OF_RANGE", 4},
	Code{"ATTEMPT_TO_PULSE_WHILST_CHARGING", 5},
	Code{"ALREADY_PULSING", 6},
	Code{"TIMED_OUT", 7},
	Code{"ALREADY_AT_TARGET_VOLTAGE", 8},
	Code{"ALREADY_CHARGING", 9},
	Code{"ATTEMPT_TO_CHARGE_WHILST_PULSING", 10},
	Code{"CHARGE_RATE_ABNORMAL", 11},
	Code{"BAD_SWITCH_STATE", 12},
	Code{"ILLEGAL_VALUE_FOR_ARGUMENT", 13},
	Code{"ABORTED", 14},
)

// Binary bank switch position codes.
var Switches = newTable("switches",
	Code{"OFF", 0},
	Code{"MANUAL", 1},
	Code{"AUTO", 2},
	Code{"ERROR_MANUAL_AND_AUTO", 3},
	Code{"TRIGGER_OFF", 4},
	Code{"TRIGGER_MANUAL", 5},
	Code{"TRIGGER_AUTO", 6},
	Code{"ERROR_TRIGGER_MANUAL_AND_AUTO", 7},
)

// Symbolic argument values accepted by set and dry_run.
var SymbolicValues = newTable("values",
	Code{"false", 0},
	Code{"true", 1},
	Code{"off", 0},
	Code{"on", 1},
	Code{"0", 0},
	Code{"1", 1},
	Code{"2", 2},
	Code{"3", 3},
	Code{"4", 4},
	Code{"5", 5},
)

// Tables lists every code table, for listings.
func Tables() []CodeTable {
	return []CodeTable{Commands, Parameters, Responses, Switches, SymbolicValues}
}
