package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shieldgrid/gridctl/internal/driver"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "gridctl dev") {
		t.Errorf("output = %q", out)
	}
}

func TestCodes(t *testing.T) {
	out, _, err := execute(t, "codes")
	if err != nil {
		t.Fatalf("codes error = %v", err)
	}
	for _, want := range []string{"charge", "hv_voltage", "ATTEMPT_TO_PULSE_WHILST_CHARGING", "TRIGGER_AUTO"} {
		if !strings.Contains(out, want) {
			t.Errorf("codes output missing %q", want)
		}
	}
}

func TestCheck(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr bool
		wantOut string
		wantLog string
	}{
		{
			name:    "valid",
			script:  "# warm up\nemit(\"bank: reset\")\nemit(\"bank: charge\")\n",
			wantOut: "ok, 2 statements",
		},
		{
			name:    "syntax error",
			script:  "emit(\"bank: reset\")\nemit(\n",
			wantErr: true,
			wantLog: "line 2:",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "script.macro", tt.script)
			out, errOut, err := execute(t, "check", path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("check error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantOut != "" && !strings.Contains(out, tt.wantOut) {
				t.Errorf("stdout = %q, want %q", out, tt.wantOut)
			}
			if tt.wantLog != "" && !strings.Contains(errOut, tt.wantLog) {
				t.Errorf("stderr = %q, want %q", errOut, tt.wantLog)
			}
		})
	}
}

func TestCheck_MissingFile(t *testing.T) {
	if _, _, err := execute(t, "check", filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("check error = nil for a missing file")
	}
}

func TestColumns_DryRun(t *testing.T) {
	path := writeFile(t, "plan.cols", "print emit\nfirst hello\nsecond done\n")
	out, _, err := execute(t, "columns", "--dry-run", path)
	if err != nil {
		t.Fatalf("columns error = %v", err)
	}
	if !strings.Contains(out, "2 rows of [print emit]") {
		t.Errorf("output = %q", out)
	}
}

func TestColumns_Invalid(t *testing.T) {
	path := writeFile(t, "plan.cols", "print wait\na x\nb -1\n")
	_, errOut, err := execute(t, "columns", "--dry-run", path)
	if err == nil {
		t.Fatal("columns error = nil for invalid cells")
	}
	if !strings.Contains(err.Error(), "2 problem(s)") {
		t.Errorf("error = %v", err)
	}
	if strings.Count(errOut, "\n") != 2 {
		t.Errorf("stderr = %q, want one line per problem", errOut)
	}
}

func TestDriver_MissingConfig(t *testing.T) {
	_, _, err := execute(t, "driver", "bank", "--config", filepath.Join(t.TempDir(), "none.yaml"))
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("driver error = %v", err)
	}
}

func TestRenderPorts(t *testing.T) {
	var buf bytes.Buffer
	renderPorts(&buf, []driver.PortInfo{
		{Name: "/dev/ttyUSB0", IsUSB: true, VID: "0403", PID: "6001", SerialNumber: "A9XK", Product: "FT232R"},
		{Name: "/dev/ttyUSB1", IsUSB: true, VID: "2341", PID: "0043"},
		{Name: "/dev/ttyS0"},
	})
	out := buf.String()
	for _, want := range []string{"auto:A9XK", "auto:2341:0043", "/dev/ttyS0", "FT232R"} {
		if !strings.Contains(out, want) {
			t.Errorf("ports output missing %q:\n%s", want, out)
		}
	}
}
