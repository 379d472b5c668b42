package sequencer

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// ColumnError locates a problem in a column file.
type ColumnError struct {
	Line int
	Msg  string
}

func (e *ColumnError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

type columnHandler struct {
	check func(v string) error
	run   func(ctx context.Context, s *Sequencer, out io.Writer, v string) error
}

var columnHandlers = map[string]columnHandler{
	"print": {
		check: func(string) error { return nil },
		run: func(_ context.Context, _ *Sequencer, out io.Writer, v string) error {
			_, err := fmt.Fprintln(out, v)
			return err
		},
	},
	"emit": {
		check: func(string) error { return nil },
		run: func(ctx context.Context, s *Sequencer, _ io.Writer, v string) error {
			return s.Emit(ctx, v)
		},
	},
	"wait": {
		check: func(v string) error {
			_, err := parseCount(v)
			return err
		},
		run: func(ctx context.Context, s *Sequencer, _ io.Writer, v string) error {
			n, _ := parseCount(v)
			return s.Sleep(ctx, time.Duration(n)*time.Second)
		},
	},
	"sleep": {
		check: func(v string) error {
			_, err := seconds(Str(v))
			return err
		},
		run: func(ctx context.Context, s *Sequencer, _ io.Writer, v string) error {
			d, _ := seconds(Str(v))
			return s.Sleep(ctx, d)
		},
	},
	"charge": {
		check: func(v string) error {
			_, err := parseCount(v)
			return err
		},
		run: func(ctx context.Context, s *Sequencer, _ io.Writer, v string) error {
			n, _ := parseCount(v)
			_, err := s.Call(ctx, "charge", Num(float64(n)))
			return err
		},
	},
	"pulse": {
		check: func(v string) error {
			_, err := parseSwitch(v)
			return err
		},
		run: func(ctx context.Context, s *Sequencer, _ io.Writer, v string) error {
			if on, _ := parseSwitch(v); !on {
				return nil
			}
			_, err := s.Call(ctx, "pulse")
			return err
		},
	},
}

// ColumnCommands lists the handlers a column file may name.
func ColumnCommands() []string {
	names := make([]string, 0, len(columnHandlers))
	for name := range columnHandlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ColumnFile is a validated column command file. The first non-comment
// line names a handler per column; each following line holds one value
// per column.
type ColumnFile struct {
	Columns []string
	Rows    [][]string
	lines   []int
}

// LoadColumns reads and validates a column file.
func LoadColumns(path string) (*ColumnFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseColumns(f)
}

// ParseColumns reads a column file and checks every cell with its
// handler before returning. All problems are reported together.
func ParseColumns(r io.Reader) (*ColumnFile, error) {
	cf := &ColumnFile{}
	var errs error

	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := sc.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Fields(line)

		if cf.Columns == nil {
			for _, name := range fields {
				name = strings.ToLower(name)
				if _, ok := columnHandlers[name]; !ok {
					errs = multierr.Append(errs, &ColumnError{Line: n, Msg: fmt.Sprintf("unknown command %q", name)})
				}
				cf.Columns = append(cf.Columns, name)
			}
			continue
		}

		if len(fields) != len(cf.Columns) {
			errs = multierr.Append(errs, &ColumnError{Line: n,
				Msg: fmt.Sprintf("column number mismatch: expected %d entries, but got %d", len(cf.Columns), len(fields))})
			continue
		}
		for i, v := range fields {
			h, ok := columnHandlers[cf.Columns[i]]
			if !ok {
				continue
			}
			if err := h.check(v); err != nil {
				errs = multierr.Append(errs, &ColumnError{Line: n,
					Msg: fmt.Sprintf("invalid value for %s: %q", cf.Columns[i], v)})
			}
		}
		cf.Rows = append(cf.Rows, fields)
		cf.lines = append(cf.lines, n)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if cf.Columns == nil {
		errs = multierr.Append(errs, &ColumnError{Line: n, Msg: "no command header"})
	}
	if errs != nil {
		return nil, errs
	}
	return cf, nil
}

// Run executes the rows in order, each cell through its column's handler.
// print output goes to out.
func (cf *ColumnFile) Run(ctx context.Context, s *Sequencer, out io.Writer) error {
	for r, row := range cf.Rows {
		for i, v := range row {
			if err := columnHandlers[cf.Columns[i]].run(ctx, s, out, v); err != nil {
				return fmt.Errorf("line %d, %s %s: %w", cf.lines[r], cf.Columns[i], v, err)
			}
		}
	}
	return nil
}

func parseCount(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q is not a non-negative integer", ErrBadArguments, v)
	}
	return n, nil
}

func parseSwitch(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "1", "yes", "on", "true":
		return true, nil
	case "0", "no", "off", "false", "-":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not on/off", ErrBadArguments, v)
}
