// Package manifest handles pyrite.toml runtime configuration.
package manifest

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// FileName is the manifest file looked for by FindAndLoad.
const FileName = "pyrite.toml"

// Manifest represents a pyrite.toml configuration. Every key has a
// default, so an empty file is a valid manifest.
type Manifest struct {
	Heap   Heap   `toml:"heap"`
	Klass  Klass  `toml:"klass"`
	Import Import `toml:"import"`
	Cache  Cache  `toml:"cache"`
	Log    Log    `toml:"log"`
	Trace  Trace  `toml:"trace"`

	// Dir is the directory containing the pyrite.toml file (set at load time).
	Dir string `toml:"-"`
}

// Heap configures the semispace heap.
type Heap struct {
	Semispace Size `toml:"semispace"`
	Verify    bool `toml:"verify"`
}

// Klass configures class creation.
type Klass struct {
	MRO string `toml:"mro"`
}

// Import configures module lookup.
type Import struct {
	Lib     string `toml:"lib"`
	Builtin *bool  `toml:"builtin"`
}

// Cache configures the method cache. Zero disables it.
type Cache struct {
	Methods *int `toml:"methods"`
}

// Log configures commonlog.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Trace configures diagnostics output.
type Trace struct {
	GC    string `toml:"gc"`
	Color string `toml:"color"`
}

// Defaults.
const (
	DefaultSemispace = 4 << 20
	DefaultMRO       = "c3"
	DefaultLib       = "./lib"
	DefaultMethods   = 1024
	DefaultColor     = "auto"
)

// Default returns a manifest with every key at its default.
func Default() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// Load parses a pyrite.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, FileName))
}

// LoadFile parses the manifest at path. Relative paths inside it stay
// relative to the manifest's directory.
func LoadFile(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %s", path)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse error in %s", path)
	}

	m.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot resolve path %s", path)
	}
	return m, nil
}

// Parse decodes manifest text and fills in defaults. Unknown keys are
// rejected so that typos do not pass silently.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, errors.Errorf("unknown key %q", undecoded[0].String())
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	m.applyDefaults()
	return &m, nil
}

// FindAndLoad walks up from startDir to find a pyrite.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate() error {
	switch m.Klass.MRO {
	case "", "c3", "simple":
	default:
		return errors.Errorf("klass.mro: unknown strategy %q (want c3 or simple)", m.Klass.MRO)
	}
	switch m.Trace.Color {
	case "", "auto", "always", "never":
	default:
		return errors.Errorf("trace.color: unknown mode %q (want auto, always or never)", m.Trace.Color)
	}
	if m.Cache.Methods != nil && *m.Cache.Methods < 0 {
		return errors.Errorf("cache.methods: must not be negative, got %d", *m.Cache.Methods)
	}
	if m.Heap.Semispace < 0 {
		return errors.Errorf("heap.semispace: must not be negative")
	}
	return nil
}

func (m *Manifest) applyDefaults() {
	if m.Heap.Semispace == 0 {
		m.Heap.Semispace = DefaultSemispace
	}
	if m.Klass.MRO == "" {
		m.Klass.MRO = DefaultMRO
	}
	if m.Import.Lib == "" {
		m.Import.Lib = DefaultLib
	}
	if m.Import.Builtin == nil {
		b := true
		m.Import.Builtin = &b
	}
	if m.Cache.Methods == nil {
		n := DefaultMethods
		m.Cache.Methods = &n
	}
	if m.Trace.Color == "" {
		m.Trace.Color = DefaultColor
	}
}

// LibPath returns the library directory, resolved against the manifest
// directory when it is relative.
func (m *Manifest) LibPath() string {
	return m.resolve(m.Import.Lib)
}

// GCTracePath returns the GC trace output path, or "" when tracing is off.
func (m *Manifest) GCTracePath() string {
	if m.Trace.GC == "" {
		return ""
	}
	return m.resolve(m.Trace.GC)
}

// LogFile returns the log file path, or "" for standard error.
func (m *Manifest) LogFile() string {
	if m.Log.File == "" {
		return ""
	}
	return m.resolve(m.Log.File)
}

// LoadBuiltinLib reports whether lib/builtin.pyc should extend builtins.
func (m *Manifest) LoadBuiltinLib() bool { return *m.Import.Builtin }

// MethodCacheSize returns the method-cache capacity.
func (m *Manifest) MethodCacheSize() int { return *m.Cache.Methods }

func (m *Manifest) resolve(p string) string {
	if m.Dir == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
