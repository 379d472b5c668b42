// Package sequencer interprets the robot's macro language.
//
// A macro line is parsed into a small tagged AST and evaluated against a
// fixed set of primitives:
//
//	emit("bank: charge 100")          publish a line to the bus
//	wait("charge : OK", 30)           block until a matching line arrives
//	sleep(0.5)                        block, cut short by abort
//	abort()                           cancel in-flight and queued work
//
// User functions are declared with
//
//	def shot(V, dir) -> charge(V); pulse(); sleep(1); collect_data(dir)
//
// and replace any earlier definition of the same name. Loops use
// for x in range(a, b[, step]) { ... }.
//
// Abort is honoured between statements as well as inside wait and sleep,
// and one command line may make at most Config.MaxCalls calls, so a macro
// whose calls fan out through many levels still ends.
//
// Waiting and abort state lives in State, which is shared with the command
// router. A wait first scans the backlog of unclaimed bus lines, then
// blocks until the router offers a matching line, the timeout expires or
// abort is signalled.
//
// Thread Safety:
//   - State is safe for concurrent use; Abort may be called from any goroutine.
//   - Sequencer.Execute is meant to be called from one goroutine at a time
//     (the router's work loop). A concurrent wait fails with ErrWaitPending.
package sequencer
