// Pyrite CLI - runs compiled .pyc programs on the pyrite VM
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"gopkg.in/urfave/cli.v1"

	_ "github.com/chazu/pyrite/ext/mathmod"
	"github.com/chazu/pyrite/memory"
	"github.com/chazu/pyrite/pyc"
	"github.com/chazu/pyrite/vm"
)

var log = commonlog.GetLogger("pyrite.cli")

var app = cli.NewApp()

func init() {
	app.Name = "pyrite"
	app.Usage = "run a compiled .pyc program"
	app.ArgsUsage = "<program.pyc>"
	app.HideVersion = true
	app.Flags = flags
	app.Action = run
}

func main() {
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		cli.ShowAppHelp(ctx)
		return cli.NewExitError("", 2)
	}
	path := ctx.Args().First()

	s, err := loadSettings(ctx, path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	commonlog.Configure(s.Verbosity, s.logFile())

	if s.Disassemble {
		return disassemble(path)
	}

	machine := vm.New(s.VM)
	log.Infof("run %s: program %s, heap %s, mro %s", machine.RunID, path, s.HeapSize, s.VM.MRO)

	if s.GCTrace != "" {
		f, err := os.Create(s.GCTrace)
		if err != nil {
			return cli.NewExitError(errors.Wrap(err, "gc trace").Error(), 1)
		}
		defer f.Close()
		machine.Heap().SetTrace(memory.NewTraceWriter(f, machine.RunID))
	}

	err = machine.RunFile(path)
	if s.Stats {
		writeStats(os.Stderr, machine)
	}
	if err == nil {
		return nil
	}

	var exc *vm.ExceptionError
	if errors.As(err, &exc) {
		writeTraceback(os.Stdout, exc, s.Color)
		if s.Strict {
			return cli.NewExitError("", 1)
		}
		return nil
	}
	log.Criticalf("%+v", err)
	return cli.NewExitError("pyrite: "+err.Error(), 1)
}

func disassemble(path string) error {
	file, err := pyc.DecodeFile(path)
	if err != nil {
		return cli.NewExitError(err.Error(), 1)
	}
	fmt.Print(vm.Disassemble(file.Code))
	return nil
}
