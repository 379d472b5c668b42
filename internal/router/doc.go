// Package router feeds bus traffic to the macro sequencer.
//
// Every inbound line is classified in order:
//
//  1. "<nick>: help" is answered immediately, even during a wait.
//  2. A line containing "ERROR" aborts, drains queued work and reports
//     "Aborting due to ERROR message".
//  3. A line containing ABORT, HALT, DIE or STOP aborts and drains.
//  4. A line matching the live wait resolves it.
//  5. A line addressed to the nick is queued as work.
//  6. Anything else goes to the backlog for later waits.
//
// Queued work runs one item at a time on the Run goroutine. Whenever the
// abort flag is set between items, pending work is dropped and the flag is
// cleared so new commands can run.
package router
