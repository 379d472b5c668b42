package sequencer

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/multierr"
)

// CheckScript parses every line of a macro script without running it and
// returns all parse errors, each prefixed with its line number. It returns
// the number of statements found.
func CheckScript(r io.Reader) (int, error) {
	var errs error
	stmts := 0

	sc := bufio.NewScanner(r)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parsed, err := Parse(line)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("line %d: %w", n, err))
			continue
		}
		stmts += len(parsed)
	}
	if err := sc.Err(); err != nil {
		return stmts, err
	}
	return stmts, errs
}
