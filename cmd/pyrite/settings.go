package main

import (
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/urfave/cli.v1"

	"github.com/chazu/pyrite/manifest"
	"github.com/chazu/pyrite/memory"
	"github.com/chazu/pyrite/vm"
)

var (
	configFlag = cli.StringFlag{
		Name:  "config",
		Usage: "pyrite.toml file (default: searched for upwards from the program)",
	}
	heapFlag = cli.GenericFlag{
		Name:  "heap",
		Value: new(manifest.Size),
		Usage: "semispace size, e.g. 4MiB",
	}
	mroFlag = cli.StringFlag{
		Name:  "mro",
		Usage: "method resolution order: c3 or simple",
	}
	libFlag = cli.StringFlag{
		Name:  "lib",
		Usage: "library search directory",
	}
	gcTraceFlag = cli.StringFlag{
		Name:  "gc-trace",
		Usage: "write a CBOR record per collection to this file",
	}
	verboseFlag = cli.IntFlag{
		Name:  "verbose, v",
		Usage: "log verbosity",
	}
	disFlag = cli.BoolFlag{
		Name:  "dis",
		Usage: "disassemble the program instead of running it",
	}
	statsFlag = cli.BoolFlag{
		Name:  "stats",
		Usage: "print heap and method cache statistics after the run",
	}
	strictFlag = cli.BoolFlag{
		Name:  "strict",
		Usage: "exit with status 1 when the program raises an uncaught exception",
	}

	flags = []cli.Flag{
		configFlag,
		heapFlag,
		mroFlag,
		libFlag,
		gcTraceFlag,
		verboseFlag,
		disFlag,
		statsFlag,
		strictFlag,
	}
)

// overrides holds the flags given on the command line. Zero values mean
// the flag was not set.
type overrides struct {
	Heap    manifest.Size
	MRO     string
	Lib     string
	GCTrace string
	Verbose *int
}

// settings is the merged run configuration.
type settings struct {
	VM          vm.Config
	HeapSize    manifest.Size
	GCTrace     string
	Color       string
	Verbosity   int
	LogFile     string
	Disassemble bool
	Stats       bool
	Strict      bool
}

func (s *settings) logFile() *string {
	if s.LogFile == "" {
		return nil
	}
	return &s.LogFile
}

func loadSettings(ctx *cli.Context, program string) (*settings, error) {
	m, err := findManifest(ctx.String(configFlag.Name), program)
	if err != nil {
		return nil, err
	}

	var o overrides
	if ctx.IsSet(heapFlag.Name) {
		o.Heap = *ctx.Generic(heapFlag.Name).(*manifest.Size)
	}
	o.MRO = ctx.String(mroFlag.Name)
	o.Lib = ctx.String(libFlag.Name)
	o.GCTrace = ctx.String(gcTraceFlag.Name)
	if ctx.IsSet("verbose") {
		n := ctx.Int("verbose")
		o.Verbose = &n
	}

	s, err := merge(m, o)
	if err != nil {
		return nil, err
	}
	s.Disassemble = ctx.Bool(disFlag.Name)
	s.Stats = ctx.Bool(statsFlag.Name)
	s.Strict = ctx.Bool(strictFlag.Name)
	return s, nil
}

// findManifest loads the explicit config file, or the nearest pyrite.toml
// above the program, or the defaults.
func findManifest(config, program string) (*manifest.Manifest, error) {
	if config != "" {
		return manifest.LoadFile(config)
	}
	m, err := manifest.FindAndLoad(filepath.Dir(program))
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	return m, nil
}

// merge applies flag overrides on top of the manifest.
func merge(m *manifest.Manifest, o overrides) (*settings, error) {
	s := &settings{
		HeapSize:  m.Heap.Semispace,
		GCTrace:   m.GCTracePath(),
		Color:     m.Trace.Color,
		Verbosity: m.Log.Verbosity,
		LogFile:   m.LogFile(),
	}
	cfg := vm.DefaultConfig()
	cfg.MRO = m.Klass.MRO
	cfg.LibPath = m.LibPath()
	cfg.LoadBuiltinLib = m.LoadBuiltinLib()
	cfg.MethodCacheSize = m.MethodCacheSize()

	if o.Heap != 0 {
		s.HeapSize = o.Heap
	}
	if o.MRO != "" {
		if o.MRO != vm.MROC3 && o.MRO != vm.MROSimple {
			return nil, errors.Errorf("--mro: unknown strategy %q (want c3 or simple)", o.MRO)
		}
		cfg.MRO = o.MRO
	}
	if o.Lib != "" {
		cfg.LibPath = o.Lib
	}
	if o.GCTrace != "" {
		s.GCTrace = o.GCTrace
	}
	if o.Verbose != nil {
		s.Verbosity = *o.Verbose
	}

	if s.HeapSize < 64<<10 {
		return nil, errors.Errorf("heap size %s is below the 64KiB minimum", s.HeapSize)
	}
	cfg.Heap = memory.Config{
		SemispaceSize: int(s.HeapSize),
		Verify:        m.Heap.Verify,
	}
	s.VM = cfg
	return s, nil
}
