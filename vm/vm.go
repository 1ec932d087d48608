package vm

import (
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tliron/commonlog"

	"github.com/chazu/pyrite/memory"
	"github.com/chazu/pyrite/pyc"
)

var log = commonlog.GetLogger("pyrite.vm")

// ---------------------------------------------------------------------------
// VM: the pyrite virtual machine
// ---------------------------------------------------------------------------

// Config controls how a VM is built.
type Config struct {
	Heap memory.Config

	// MRO selects the linearization strategy, MROC3 or MROSimple.
	MRO string

	// SearchPath lists the directories searched for <name>.pyc before
	// LibPath. Empty means the working directory.
	SearchPath []string
	LibPath    string

	// LoadBuiltinLib runs <LibPath>/builtin.pyc at startup and merges its
	// namespace into builtins.
	LoadBuiltinLib bool

	// MethodCacheSize is the number of method cache entries. Zero disables
	// the cache.
	MethodCacheSize int

	// MaxDepth bounds the call stack. Deeper calls raise RecursionError.
	// Zero means DefaultMaxDepth.
	MaxDepth int

	// Output receives print and PRINT_EXPR output. Nil means stdout.
	Output io.Writer
}

// DefaultMaxDepth is the call-stack limit used when Config.MaxDepth is 0.
const DefaultMaxDepth = 1000

// DefaultConfig returns the configuration used when no manifest is found.
func DefaultConfig() Config {
	return Config{
		Heap:            memory.Config{SemispaceSize: memory.DefaultSemispaceSize},
		MRO:             MROC3,
		LibPath:         "lib",
		LoadBuiltinLib:  true,
		MethodCacheSize: 1024,
		MaxDepth:        DefaultMaxDepth,
	}
}

// klasses holds the builtin klasses.
type klasses struct {
	object, typ                                *Klass
	int, bool, float, str                      *Klass
	list, tuple, dict, set, slice              *Klass
	none, function, native, method, cell, code *Klass
	module, generator, traceback, iterator     *Klass

	exception, stopIteration, assertionError *Klass
	attributeError, importError, nameError   *Klass
	typeError, valueError, runtimeError      *Klass
	keyError, indexError                     *Klass
	zeroDivisionError, overflowError         *Klass
	recursionError                           *Klass
}

// VM is a single-threaded interpreter instance. All state that would
// otherwise be process-global lives here: the heap, the builtin klasses,
// the singletons and the interpreter registers.
type VM struct {
	heap   *memory.Heap
	config Config
	cache  *methodCache

	k       klasses
	builtin []*Klass // every builtin klass, for root tracing

	None, NotImplemented, Ellipsis Value
	True, False                    Value

	smallInts [smallIntMax - smallIntMin + 1]Value
	interned  map[string]*Str

	builtins *Dict
	modules  map[string]*Module

	// Interpreter registers.
	frame    *Frame
	status   status
	ret      Value
	excType  Value
	excValue Value
	excTB    Value
	handled  [3]Value // exception being handled, for a bare raise

	nextID int64

	// Containers whose repr is being built, to cut cycles.
	repring map[Value]bool

	out io.Writer

	// RunID identifies this VM in logs and GC traces.
	RunID string
}

// New builds a VM: the heap, then the klasses and singletons, then the
// builtins namespace.
func New(cfg Config) *VM {
	if cfg.MRO == "" {
		cfg.MRO = MROC3
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultMaxDepth
	}
	vm := &VM{
		heap:     memory.NewHeap(cfg.Heap),
		config:   cfg,
		cache:    newMethodCache(cfg.MethodCacheSize),
		interned: make(map[string]*Str),
		modules:  make(map[string]*Module),
		repring:  make(map[Value]bool),
		out:      cfg.Output,
		RunID:    uuid.NewString(),
	}
	if vm.out == nil {
		vm.out = os.Stdout
	}
	vm.heap.AddRoots(vm)
	vm.heap.OnCollect(vm.afterCollect)

	vm.bootstrapKlasses()
	vm.bootstrapSingletons()
	vm.bootstrapBuiltins()
	vm.bootstrapExceptions()
	vm.installPrimitives()
	vm.heap.Release(0)

	if cfg.LoadBuiltinLib {
		vm.loadBuiltinLib()
	}
	log.Debugf("vm %s ready: %d builtin klasses, mro=%s", vm.RunID, len(vm.builtin), cfg.MRO)
	return vm
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

func (vm *VM) bootstrapKlasses() {
	// object, type and dict refer to each other: every klass has a dict
	// and a type object. All three exist before any of them is finished.
	vm.k.object = vm.allocKlass("object")
	vm.k.typ = vm.allocKlass("type")
	vm.k.dict = vm.allocKlass("dict")
	for _, k := range []*Klass{vm.k.object, vm.k.typ, vm.k.dict} {
		vm.finishKlass(k, nil)
	}
	vm.setSupers(vm.k.object, nil)
	vm.setSupers(vm.k.typ, []*Type{vm.k.object.typ})
	vm.setSupers(vm.k.dict, []*Type{vm.k.object.typ})
	vm.builtin = append(vm.builtin, vm.k.object, vm.k.typ, vm.k.dict)

	vm.k.int = vm.builtinKlass("int")
	vm.k.bool = vm.builtinKlass("bool", vm.k.int)
	vm.k.float = vm.builtinKlass("float")
	vm.k.str = vm.builtinKlass("str")
	vm.k.list = vm.builtinKlass("list")
	vm.k.tuple = vm.builtinKlass("tuple")
	vm.k.set = vm.builtinKlass("set")
	vm.k.slice = vm.builtinKlass("slice")
	vm.k.none = vm.builtinKlass("NoneType")
	vm.k.function = vm.builtinKlass("function")
	vm.k.native = vm.builtinKlass("builtin_function_or_method", vm.k.function)
	vm.k.method = vm.builtinKlass("method")
	vm.k.cell = vm.builtinKlass("cell")
	vm.k.code = vm.builtinKlass("code")
	vm.k.module = vm.builtinKlass("module")
	vm.k.generator = vm.builtinKlass("generator")
	vm.k.traceback = vm.builtinKlass("traceback")
	vm.k.iterator = vm.builtinKlass("iterator")
}

// builtinKlass creates a builtin klass deriving from supers, or object.
func (vm *VM) builtinKlass(name string, supers ...*Klass) *Klass {
	types := make([]*Type, len(supers))
	for i, s := range supers {
		types[i] = s.typ
	}
	k := vm.newKlass(name, types, nil)
	vm.builtin = append(vm.builtin, k)
	return k
}

func (vm *VM) bootstrapSingletons() {
	singleton := func(name string) Value {
		n := &NoneType{Obj: Obj{klass: vm.k.none}, name: name}
		vm.heap.Allocate(n, objPayload+wordBytes)
		return n
	}
	vm.None = singleton("None")
	vm.NotImplemented = singleton("NotImplemented")
	vm.Ellipsis = singleton("Ellipsis")

	for _, v := range []bool{true, false} {
		b := &Bool{Obj: Obj{klass: vm.k.bool}, v: v}
		vm.heap.Allocate(b, objPayload+slotPayload)
		if v {
			vm.True = b
		} else {
			vm.False = b
		}
	}
	for i := range vm.smallInts {
		vm.smallInts[i] = vm.newInt(int64(i + smallIntMin))
	}
}

func (vm *VM) bootstrapBuiltins() {
	vm.builtins = vm.newDict()
	for _, k := range vm.builtin {
		switch k {
		case vm.k.object, vm.k.typ, vm.k.int, vm.k.bool, vm.k.float, vm.k.str,
			vm.k.list, vm.k.tuple, vm.k.dict, vm.k.set, vm.k.slice:
			vm.dictSetStr(vm.builtins, k.name, k.typ)
		}
	}
	vm.dictSetStr(vm.builtins, "None", vm.None)
	vm.dictSetStr(vm.builtins, "True", vm.True)
	vm.dictSetStr(vm.builtins, "False", vm.False)
	vm.dictSetStr(vm.builtins, "NotImplemented", vm.NotImplemented)
	vm.dictSetStr(vm.builtins, "Ellipsis", vm.Ellipsis)
	vm.defineBuiltins()
}

// ---------------------------------------------------------------------------
// Garbage collection support
// ---------------------------------------------------------------------------

// TraceRoots reports every reference the VM holds outside the heap: the
// builtin klasses, singletons, interned strings, loaded modules, the
// interpreter registers and the frame chain.
func (vm *VM) TraceRoots(v memory.Visitor) {
	for _, k := range vm.builtin {
		v.VisitKlass(k)
	}
	vm.visit(v, vm.None, vm.NotImplemented, vm.Ellipsis, vm.True, vm.False)
	vm.visit(v, vm.smallInts[:]...)
	for _, s := range vm.interned {
		v.VisitRef(s)
	}
	if vm.builtins != nil {
		v.VisitRef(vm.builtins)
	}
	for _, m := range vm.modules {
		v.VisitRef(m)
	}
	vm.visit(v, vm.ret, vm.excType, vm.excValue, vm.excTB)
	vm.visit(v, vm.handled[:]...)
	for f := vm.frame; f != nil; f = f.caller {
		v.VisitRef(f)
	}
}

func (vm *VM) visit(v memory.Visitor, vals ...Value) {
	visitValues(v, vals)
}

func (vm *VM) afterCollect(cs memory.CollectStats) {
	vm.cache.purge()
	if cs.Rescued > 0 {
		log.Warningf("collection %d rescued %d unrooted objects", cs.Seq, cs.Rescued)
	}
}

// keep roots vals until the current handle scope is released.
func (vm *VM) keep(vals ...Value) {
	for _, x := range vals {
		if x != nil {
			vm.heap.Keep(x)
		}
	}
}

// Heap returns the VM's heap.
func (vm *VM) Heap() *memory.Heap { return vm.heap }

// Builtins returns the builtins namespace.
func (vm *VM) Builtins() *Dict { return vm.builtins }

// Module returns a loaded module, or nil.
func (vm *VM) Module(name string) *Module { return vm.modules[name] }

// MethodCache reports method cache hits, misses and purges.
func (vm *VM) MethodCache() (hits, misses, purges uint64) {
	return vm.cache.Hits, vm.cache.Misses, vm.cache.Purges
}

// SetOutput redirects program output.
func (vm *VM) SetOutput(w io.Writer) { vm.out = w }

func (vm *VM) write(s string) {
	if _, err := io.WriteString(vm.out, s); err != nil {
		fatalf("write output: %s", err)
	}
}

// ---------------------------------------------------------------------------
// Running programs
// ---------------------------------------------------------------------------

// RunFile decodes a .pyc file and runs it as __main__.
func (vm *VM) RunFile(path string) error {
	file, err := pyc.DecodeFile(path)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	_, err = vm.run(file.Code, path)
	return err
}

// Run executes c as the __main__ module and returns the value of its
// final RETURN_VALUE. An uncaught exception is returned as an
// *ExceptionError; fatal conditions as wrapped errors.
func (vm *VM) Run(c *pyc.Code) (Value, error) {
	return vm.run(c, c.Filename)
}

func (vm *VM) run(c *pyc.Code, file string) (result Value, err error) {
	base := vm.heap.Mark()
	defer func() {
		if r := recover(); r != nil {
			err = vm.recoverFatal(r)
			result = nil
		}
		vm.heap.Release(base)
	}()

	m := vm.newModule("__main__", file)
	vm.modules["__main__"] = m
	result = vm.execModule(m, vm.LoadCode(c))
	if vm.status == statusException {
		return nil, vm.takeException()
	}
	return result, nil
}

// execModule runs code in m's namespace and returns its result, or nil
// with an exception pending.
func (vm *VM) execModule(m *Module, code *Code) Value {
	vm.keep(code)
	f := vm.newModuleFrame(code, m.dict)
	return vm.runFrame(f)
}

// recoverFatal converts a recovered host-fatal panic into an error and
// resets the interpreter registers. Other panics are re-raised.
func (vm *VM) recoverFatal(r any) error {
	var err error
	switch x := r.(type) {
	case *FatalError:
		err = errors.WithStack(x)
	case error:
		if !errors.Is(x, memory.ErrHeapExhausted) {
			panic(r)
		}
		err = errors.Wrap(x, "out of memory")
	default:
		panic(r)
	}
	vm.frame = nil
	vm.clearException()
	vm.ret = nil
	vm.handled = [3]Value{}
	return err
}

// Collect forces a garbage collection.
func (vm *VM) Collect() { vm.heap.Collect() }
