package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[heap]
semispace = "512KiB"
verify = true

[klass]
mro = "simple"

[import]
lib = "pylib"
builtin = false

[cache]
methods = 0

[log]
verbosity = 2
file = "pyrite.log"

[trace]
gc = "gc.cbor"
color = "never"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Heap.Semispace != 512<<10 {
		t.Errorf("heap semispace = %d, want %d", m.Heap.Semispace, 512<<10)
	}
	if !m.Heap.Verify {
		t.Error("heap verify = false, want true")
	}
	if m.Klass.MRO != "simple" {
		t.Errorf("klass mro = %q, want simple", m.Klass.MRO)
	}
	if m.LoadBuiltinLib() {
		t.Error("import builtin = true, want false")
	}
	if m.MethodCacheSize() != 0 {
		t.Errorf("cache methods = %d, want 0", m.MethodCacheSize())
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}
	if m.Trace.Color != "never" {
		t.Errorf("trace color = %q, want never", m.Trace.Color)
	}

	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
	if got := m.LibPath(); got != filepath.Join(abs, "pylib") {
		t.Errorf("lib path = %q, want %q", got, filepath.Join(abs, "pylib"))
	}
	if got := m.GCTracePath(); got != filepath.Join(abs, "gc.cbor") {
		t.Errorf("gc trace path = %q", got)
	}
	if got := m.LogFile(); got != filepath.Join(abs, "pyrite.log") {
		t.Errorf("log file = %q", got)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Heap.Semispace != DefaultSemispace {
		t.Errorf("default semispace = %d, want %d", m.Heap.Semispace, DefaultSemispace)
	}
	if m.Klass.MRO != "c3" {
		t.Errorf("default mro = %q, want c3", m.Klass.MRO)
	}
	if !m.LoadBuiltinLib() {
		t.Error("default builtin = false, want true")
	}
	if m.MethodCacheSize() != 1024 {
		t.Errorf("default methods = %d, want 1024", m.MethodCacheSize())
	}
	if m.Trace.Color != "auto" {
		t.Errorf("default color = %q, want auto", m.Trace.Color)
	}
	if m.GCTracePath() != "" {
		t.Errorf("default gc trace = %q, want empty", m.GCTracePath())
	}
	if m.LogFile() != "" {
		t.Errorf("default log file = %q, want empty", m.LogFile())
	}
}

func TestDefaultMatchesEmptyFile(t *testing.T) {
	m := Default()
	if m.Heap.Semispace != DefaultSemispace || m.Klass.MRO != DefaultMRO || m.Import.Lib != DefaultLib {
		t.Errorf("Default() = %+v", m)
	}
	// Without a directory, relative paths are left as they are.
	if m.LibPath() != DefaultLib {
		t.Errorf("lib path = %q, want %q", m.LibPath(), DefaultLib)
	}
}

func TestIntegerSemispace(t *testing.T) {
	m, err := Parse([]byte("[heap]\nsemispace = 65536\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if m.Heap.Semispace != 65536 {
		t.Errorf("semispace = %d, want 65536", m.Heap.Semispace)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		toml string
		want string
	}{
		{"bad mro", "[klass]\nmro = \"dfs\"\n", "klass.mro"},
		{"bad color", "[trace]\ncolor = \"rainbow\"\n", "trace.color"},
		{"negative cache", "[cache]\nmethods = -1\n", "cache.methods"},
		{"bad size", "[heap]\nsemispace = \"lots\"\n", "invalid size"},
		{"negative size", "[heap]\nsemispace = -4\n", "negative"},
		{"size type", "[heap]\nsemispace = true\n", "want an integer or a string"},
		{"unknown key", "[heap]\nsemispaces = 4\n", "unknown key \"heap.semispaces\""},
		{"syntax", "[heap\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.toml))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err == nil || !strings.Contains(err.Error(), "cannot read") {
		t.Errorf("err = %v, want a read error", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	// Create nested directory structure
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, "[klass]\nmro = \"simple\"\n")

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Klass.MRO != "simple" {
		t.Errorf("mro = %q, want simple", m.Klass.MRO)
	}
	// Relative paths resolve against the manifest, not the start dir.
	abs, _ := filepath.Abs(dir)
	if m.LibPath() != filepath.Join(abs, "lib") {
		t.Errorf("lib path = %q, want %q", m.LibPath(), filepath.Join(abs, "lib"))
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no pyrite.toml exists")
	}
}
