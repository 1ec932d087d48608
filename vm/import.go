package vm

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/pyrite/pyc"
)

var importLog = commonlog.GetLogger("pyrite.import")

// ---------------------------------------------------------------------------
// Native module registry
// ---------------------------------------------------------------------------

// Calling conventions for native module entries.
const (
	NativeVarArgs = 1 << iota // any number of positional arguments
	NativeNoArgs              // exactly zero arguments
	NativeOneArg              // exactly one argument
)

// NativeEntry is one member of a Go-implemented module: either a function
// with its calling convention and doc string, or a constant.
type NativeEntry struct {
	Name  string
	Fn    func(vm *VM, args []Value) Value
	Flags int
	Doc   string

	// Const, when non-nil, binds Name to a constant instead of a function.
	// Supported kinds are those accepted by FromGo.
	Const any
}

var (
	nativeModulesMu sync.RWMutex
	nativeModules   = make(map[string][]NativeEntry)
)

// RegisterModule makes a native module importable by name in every VM.
// Registering a name twice replaces the earlier entries.
func RegisterModule(name string, entries []NativeEntry) {
	nativeModulesMu.Lock()
	defer nativeModulesMu.Unlock()
	nativeModules[name] = append([]NativeEntry(nil), entries...)
}

// RegisteredModules returns the names of the native modules, sorted.
func RegisteredModules() []string {
	nativeModulesMu.RLock()
	defer nativeModulesMu.RUnlock()
	names := make([]string, 0, len(nativeModules))
	for name := range nativeModules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupNativeModule(name string) ([]NativeEntry, bool) {
	nativeModulesMu.RLock()
	defer nativeModulesMu.RUnlock()
	entries, ok := nativeModules[name]
	return entries, ok
}

// ---------------------------------------------------------------------------
// Importing
// ---------------------------------------------------------------------------

// importModule returns the module called name, loading it on first use.
// Native modules win over files; files are searched for in the search
// path and then the library directory. Failures raise ImportError.
func (vm *VM) importModule(name string) Value {
	if m, ok := vm.modules[name]; ok {
		return m
	}

	if entries, ok := lookupNativeModule(name); ok {
		m := vm.newModule(name, "<native>")
		for _, e := range entries {
			vm.bindNativeEntry(m, e)
		}
		vm.modules[name] = m
		importLog.Infof("imported native module %s (%d entries)", name, len(entries))
		return m
	}

	path, ok := vm.findModule(name)
	if !ok {
		vm.raise(vm.k.importError, "No module named '%s'", name)
		return nil
	}
	file, err := pyc.DecodeFile(path)
	if err != nil {
		vm.raise(vm.k.importError, "cannot load module '%s': %s", name, errors.Cause(err))
		return nil
	}

	m := vm.newModule(name, path)
	vm.modules[name] = m
	if vm.execModule(m, vm.LoadCode(file.Code)); vm.status == statusException {
		delete(vm.modules, name)
		return nil
	}
	importLog.Infof("imported module %s from %s", name, path)
	return m
}

// findModule resolves a dotted module name to a .pyc file.
func (vm *VM) findModule(name string) (string, bool) {
	rel := strings.ReplaceAll(name, ".", string(filepath.Separator)) + ".pyc"
	dirs := vm.config.SearchPath
	if len(dirs) == 0 {
		dirs = []string{"."}
	}
	if vm.config.LibPath != "" {
		dirs = append(append([]string(nil), dirs...), vm.config.LibPath)
	}
	for _, dir := range dirs {
		path := filepath.Join(dir, rel)
		if st, err := os.Stat(path); err == nil && !st.IsDir() {
			return path, true
		}
	}
	return "", false
}

func (vm *VM) bindNativeEntry(m *Module, e NativeEntry) {
	if e.Const != nil {
		vm.dictSetStr(m.dict, e.Name, vm.FromGo(e.Const))
		return
	}
	fn, name, flags := e.Fn, e.Name, e.Flags
	n := vm.newNative(name, func(vm *VM, args []Value) Value {
		switch {
		case flags&NativeNoArgs != 0 && !vm.arity(name, args, 0, 0):
			return nil
		case flags&NativeOneArg != 0 && !vm.arity(name, args, 1, 1):
			return nil
		}
		return fn(vm, args)
	})
	n.doc = e.Doc
	vm.dictSetStr(m.dict, name, n)
}

// importFrom implements IMPORT_FROM: the module stays on the stack and
// the named attribute is pushed above it.
func (vm *VM) importFrom(f *Frame, name string) {
	src := f.top()
	if m, ok := src.(*Module); ok {
		if v := m.dict.GetStr(name); v != nil {
			f.push(v)
			return
		}
		vm.raise(vm.k.importError, "cannot import name '%s' from '%s'", name, m.name)
		return
	}
	if v := vm.getattr(src, name); v != nil {
		f.push(v)
	}
}

// importStar copies a module's public names into the current namespace.
// __all__ restricts the set when present.
func (vm *VM) importStar(f *Frame, src Value) {
	m, ok := src.(*Module)
	if !ok {
		vm.raise(vm.k.importError, "import * requires a module, not %s", src.Klass().name)
		return
	}
	ns := f.namespace()
	if all := m.dict.GetStr("__all__"); all != nil {
		vm.iterate(all, func(x Value) bool {
			name, isStr := AsString(x)
			if !isStr {
				vm.raise(vm.k.typeError, "__all__ must contain strings")
				return false
			}
			v := m.dict.GetStr(name)
			if v == nil {
				vm.raise(vm.k.attributeError, "module '%s' has no attribute '%s'", m.name, name)
				return false
			}
			vm.dictSetStr(ns, name, v)
			return true
		})
		return
	}
	m.dict.Range(func(k, v Value) bool {
		if name, isStr := AsString(k); isStr && !strings.HasPrefix(name, "_") {
			vm.dictSetStr(ns, name, v)
		}
		return true
	})
}

// loadBuiltinLib runs <lib>/builtin.pyc, when present, and merges its
// public namespace into builtins. Problems are logged and otherwise
// ignored so a broken library never prevents startup.
func (vm *VM) loadBuiltinLib() {
	if vm.config.LibPath == "" {
		return
	}
	path := filepath.Join(vm.config.LibPath, "builtin.pyc")
	if _, err := os.Stat(path); err != nil {
		return
	}
	file, err := pyc.DecodeFile(path)
	if err != nil {
		importLog.Warningf("builtin library %s: %s", path, err)
		return
	}

	base := vm.heap.Mark()
	defer vm.heap.Release(base)
	m := vm.newModule("builtins", path)
	if vm.execModule(m, vm.LoadCode(file.Code)); vm.status == statusException {
		exc := vm.takeException()
		importLog.Errorf("builtin library %s raised %s", path, exc.Error())
		return
	}
	n := 0
	m.dict.Range(func(k, v Value) bool {
		if name, isStr := AsString(k); isStr && !strings.HasPrefix(name, "__") {
			vm.dictSetStr(vm.builtins, name, v)
			n++
		}
		return true
	})
	importLog.Infof("loaded %d names from %s", n, path)
}

// ---------------------------------------------------------------------------
// Helpers for native modules
// ---------------------------------------------------------------------------

// FromGo converts a Go value to a pyrite value. Supported kinds are nil,
// bool, int, int64, float64, string, []Value and Value itself; anything
// else is fatal.
func (vm *VM) FromGo(x any) Value {
	switch v := x.(type) {
	case nil:
		return vm.None
	case Value:
		return v
	case bool:
		return vm.Bool(v)
	case int:
		return vm.Int(int64(v))
	case int64:
		return vm.Int(v)
	case float64:
		return vm.Float(v)
	case string:
		return vm.Str(v)
	case []Value:
		return vm.NewList(v...)
	}
	fatalf("cannot convert %T to a value", x)
	return nil
}

// Raise makes an instance of the named builtin exception pending. Unknown
// names raise Exception. Natives return nil after raising.
func (vm *VM) Raise(exception, format string, args ...any) {
	k := vm.k.exception
	if t, ok := vm.builtins.GetStr(exception).(*Type); ok && t.own.IsSubklass(vm.k.exception) {
		k = t.own
	}
	vm.raise(k, format, args...)
}
