package sequencer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

func TestParseColumns_Valid(t *testing.T) {
	src := `# shot plan
PRINT   emit          sleep
first   hello         0.01
second  done          0
`
	cf, err := ParseColumns(strings.NewReader(src))
	if err != nil {
		t.Fatalf("ParseColumns() error = %v", err)
	}
	if strings.Join(cf.Columns, ",") != "print,emit,sleep" {
		t.Errorf("Columns = %v", cf.Columns)
	}
	if len(cf.Rows) != 2 {
		t.Fatalf("Rows = %d, want 2", len(cf.Rows))
	}

	s, pub, _ := newTestSequencer(t)
	var out bytes.Buffer
	if err := cf.Run(context.Background(), s, &out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.String() != "first\nsecond\n" {
		t.Errorf("print output = %q", out.String())
	}
	if got := pub.published(); strings.Join(got, "|") != "hello|done" {
		t.Errorf("published = %q", got)
	}
}

func TestParseColumns_CollectsAllProblems(t *testing.T) {
	src := `print wait fire
a 1 2
b x
c -3 4
`
	_, err := ParseColumns(strings.NewReader(src))
	if err == nil {
		t.Fatal("ParseColumns() error = nil")
	}

	errs := multierr.Errors(err)
	if len(errs) != 3 {
		t.Fatalf("got %d errors, want 3: %v", len(errs), err)
	}
	wantLines := []int{1, 3, 4}
	for i, e := range errs {
		var ce *ColumnError
		if !errors.As(e, &ce) {
			t.Fatalf("error %d = %T, want *ColumnError", i, e)
		}
		if ce.Line != wantLines[i] {
			t.Errorf("error %d line = %d, want %d (%v)", i, ce.Line, wantLines[i], ce)
		}
	}
}

func TestParseColumns_NoHeader(t *testing.T) {
	if _, err := ParseColumns(strings.NewReader("# only comments\n")); err == nil {
		t.Error("ParseColumns() error = nil for a file without header")
	}
}

func TestColumnFile_RunStopsOnAbort(t *testing.T) {
	cf, err := ParseColumns(strings.NewReader("emit\none\ntwo\n"))
	if err != nil {
		t.Fatal(err)
	}
	s, pub, _ := newTestSequencer(t)
	s.Abort()

	err = cf.Run(context.Background(), s, &bytes.Buffer{})
	if !errors.Is(err, ErrAborted) {
		t.Errorf("Run() error = %v, want ErrAborted", err)
	}
	if len(pub.published()) != 0 {
		t.Error("emitted while aborted")
	}
}

func TestColumnCommands(t *testing.T) {
	got := strings.Join(ColumnCommands(), ",")
	if got != "charge,emit,print,pulse,sleep,wait" {
		t.Errorf("ColumnCommands() = %s", got)
	}
}
