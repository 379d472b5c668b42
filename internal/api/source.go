package api

import (
	"github.com/shieldgrid/gridctl/internal/devices"
	"github.com/shieldgrid/gridctl/internal/router"
	"github.com/shieldgrid/gridctl/internal/sequencer"
	"github.com/shieldgrid/gridctl/internal/statuslog"
)

// Source supplies the process-specific views served by the API.
type Source interface {
	Name() string
	State() any
	Stats() any
}

// HistorySource is implemented by processes that keep a status log.
type HistorySource interface {
	History(category string) []statuslog.Entry
	Categories() []string
}

// MacroSource is implemented by processes that run the sequencer.
type MacroSource interface {
	Functions() []sequencer.Function
}

// DeviceSource serves a driver process.
type DeviceSource struct {
	Bot *devices.Bot
}

var (
	_ Source        = DeviceSource{}
	_ HistorySource = DeviceSource{}
)

// Name returns the device nick.
func (d DeviceSource) Name() string { return d.Bot.Name() }

// State returns the merged device state with the ready and connected flags.
func (d DeviceSource) State() any { return d.Bot.Log().CurrentState() }

// Stats returns the driver counters.
func (d DeviceSource) Stats() any { return d.Bot.Stats() }

// History returns the retained entries of category.
func (d DeviceSource) History(category string) []statuslog.Entry {
	return d.Bot.Log().History(category)
}

// Categories returns the categories with retained entries.
func (d DeviceSource) Categories() []string { return d.Bot.Log().Categories() }

// RobotSource serves the robot process.
type RobotSource struct {
	Router    *router.Router
	Sequencer *sequencer.Sequencer
}

var (
	_ Source      = RobotSource{}
	_ MacroSource = RobotSource{}
)

// Name returns the robot nick.
func (r RobotSource) Name() string { return r.Sequencer.Nick() }

// State returns the router status.
func (r RobotSource) State() any { return r.Router.Status() }

// Stats returns the router counters.
func (r RobotSource) Stats() any { return r.Router.Stats() }

// Functions lists primitives and user functions.
func (r RobotSource) Functions() []sequencer.Function { return r.Sequencer.Functions() }
