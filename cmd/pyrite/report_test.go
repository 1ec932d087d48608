package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/chazu/pyrite/vm"
)

func TestWriteTraceback(t *testing.T) {
	exc := &vm.ExceptionError{
		Type:        "ValueError",
		Description: "bad value",
		Traceback: []vm.TracebackEntry{
			{File: "prog.py", Name: "inner", Line: 7},
			{File: "prog.py", Name: "<module>", Line: 2},
		},
	}
	var buf bytes.Buffer
	writeTraceback(&buf, exc, "never")

	want := exc.Format()
	if buf.String() != want {
		t.Errorf("traceback =\n%s\nwant\n%s", buf.String(), want)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if !strings.Contains(lines[1], "<module>") || !strings.Contains(lines[2], "inner") {
		t.Errorf("frames are not outermost first: %q", lines)
	}
}

func TestWriteTracebackColor(t *testing.T) {
	exc := &vm.ExceptionError{Type: "KeyError", Description: "'k'"}
	var buf bytes.Buffer
	writeTraceback(&buf, exc, "always")
	if !strings.Contains(buf.String(), "\x1b[") {
		t.Errorf("expected ANSI escapes, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "KeyError: 'k'") {
		t.Errorf("missing exception line in %q", buf.String())
	}
}

func TestWriteStats(t *testing.T) {
	cfg := vm.DefaultConfig()
	cfg.LoadBuiltinLib = false
	cfg.Output = &bytes.Buffer{}
	machine := vm.New(cfg)
	machine.Collect()

	var buf bytes.Buffer
	writeStats(&buf, machine)
	out := buf.String()
	for _, want := range []string{
		"run " + machine.RunID,
		fmt.Sprintf("collections: %d", machine.Heap().Stats().Collections()),
		"last collection:",
		"method cache:",
		"pyrite/gc/collections",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}
