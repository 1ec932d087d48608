package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rcrowley/go-metrics"

	"github.com/chazu/pyrite/vm"
)

// writeTraceback prints an uncaught exception, outermost frame first.
// mode is auto, always or never.
func writeTraceback(w io.Writer, exc *vm.ExceptionError, mode string) {
	header := color.New(color.Faint)
	frame := color.New(color.FgCyan)
	final := color.New(color.FgRed, color.Bold)
	for _, c := range []*color.Color{header, frame, final} {
		switch mode {
		case "always":
			c.EnableColor()
		case "never":
			c.DisableColor()
		}
	}

	header.Fprintln(w, "Traceback (most recent call last):")
	for i := len(exc.Traceback) - 1; i >= 0; i-- {
		frame.Fprintln(w, exc.Traceback[i].String())
	}
	final.Fprintln(w, exc.Error())
}

// writeStats prints the heap registry and method cache counters.
func writeStats(w io.Writer, machine *vm.VM) {
	stats := machine.Heap().Stats()
	last := stats.Last()
	hits, misses, purges := machine.MethodCache()

	fmt.Fprintf(w, "run %s\n", machine.RunID)
	fmt.Fprintf(w, "collections: %d (mean pause %s)\n", stats.Collections(), stats.MeanPause())
	if stats.Collections() > 0 {
		fmt.Fprintf(w, "last collection: %d objects live, %d bytes copied\n", last.Live, last.Copied)
	}
	fmt.Fprintf(w, "allocated: %d bytes\n", stats.Allocated())
	fmt.Fprintf(w, "method cache: %d hits, %d misses, %d purges\n", hits, misses, purges)
	metrics.WriteOnce(stats.Registry(), w)
}
