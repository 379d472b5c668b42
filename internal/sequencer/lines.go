package sequencer

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// shotColumns is the column count of a shot line:
//
//	step sleep voltage _ delay width delay5 width5
const shotColumns = 8

// ProcessLine handles one line of a run file:
//
//	# comment         ignored
//	@ <command>       fed to the router
//	! <text>          emitted after the current command
//	<8 integers>      expanded into a shot
//
// Nothing happens while abort is set. Column errors are published and the
// line is skipped.
func (s *Sequencer) ProcessLine(ctx context.Context, line string) error {
	if s.state.Aborted() {
		return nil
	}

	line = strings.TrimSpace(line)
	switch {
	case line == "", strings.HasPrefix(line, "#"):
		return nil
	case strings.HasPrefix(line, "@"):
		return s.Feed(strings.TrimSpace(line[1:]))
	case strings.HasPrefix(line, "!"):
		return s.DeferredEmit(strings.TrimSpace(line[1:]))
	}

	fields := strings.Fields(line)
	if len(fields) != shotColumns {
		s.say(ctx, fmt.Sprintf("ERROR: expected %d elements, but got %d", shotColumns, len(fields)))
		s.say(ctx, "Offending line: "+line)
		return nil
	}
	cols := make([]int, shotColumns)
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			s.say(ctx, fmt.Sprintf("ERROR: could not parse element %d as integer", i+1))
			s.say(ctx, "Offending line: "+line)
			return nil
		}
		cols[i] = n
	}
	return s.queueShot(cols)
}

// queueShot feeds the steps of one shot line: stepper move, settle time,
// pulse timing for banks 1-4 and bank 5, then the shot itself into a
// numbered run directory.
func (s *Sequencer) queueShot(cols []int) error {
	step, settle, volts := cols[0], cols[1], cols[2]
	delay, width, delay5, width5 := cols[4], cols[5], cols[6], cols[7]

	q := &shotFeeder{s: s}
	switch {
	case step > 0:
		q.emit("stepper: forward %d", step)
	case step < 0:
		q.emit("stepper: backwards %d", -step)
	}
	if settle > 0 {
		q.feed("sleep(%d)", settle)
	}
	for bank := 1; bank <= 4; bank++ {
		q.emit("bank: set pulse_delay %d %d", bank, delay)
		q.feed("wait('set pulse_delay: OK')")
		q.emit("bank: set pulse_width %d %d", bank, width)
		q.feed("wait('set pulse_width: OK')")
	}
	q.emit("bank: set pulse_delay 5 %d", delay5)
	q.feed("wait('set pulse_delay: OK')")
	q.emit("bank: set pulse_width 5 %d", width5)
	q.feed("wait('set pulse_width: OK')")

	dir := fmt.Sprintf("%03d", s.state.nextSeq())
	q.feed("shot(%d, path(RUNDIR, %s))", volts, quote(dir))
	return q.err
}

// shotFeeder stops feeding after the first error.
type shotFeeder struct {
	s   *Sequencer
	err error
}

func (q *shotFeeder) emit(format string, args ...any) {
	if q.err == nil {
		q.err = q.s.DeferredEmit(fmt.Sprintf(format, args...))
	}
}

func (q *shotFeeder) feed(format string, args ...any) {
	if q.err == nil {
		q.err = q.s.Feed(fmt.Sprintf(format, args...))
	}
}

// RunFile resets the shot counter and passes each line of path to
// ProcessLine.
func (s *Sequencer) RunFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("run_file: %w", err)
	}
	defer f.Close()

	s.state.ResetSeq()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if err := s.ProcessLine(ctx, sc.Text()); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("run_file %s: %w", path, err)
	}
	return nil
}
