// Package process supervises gridctl child processes for "gridctl up".
//
// A Manager runs one child: it starts the binary in its own process group,
// relays its output line by line to the logger, restarts it after a flat
// delay when it exits unexpectedly, and optionally kills it after repeated
// failed health checks. Stop sends SIGTERM to the group and escalates to
// SIGKILL after the graceful timeout.
//
// A Supervisor owns one Manager per configured device plus the robot:
//
//	sup, err := process.NewSupervisor(cfg.Supervisor, process.Children(cfg, path))
//	if err != nil {
//	    return err
//	}
//	return sup.Run(ctx) // blocks until ctx is cancelled
package process
