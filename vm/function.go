package vm

import (
	"github.com/chazu/pyrite/memory"
)

// ---------------------------------------------------------------------------
// Callables
// ---------------------------------------------------------------------------

// nativeFn is the signature of Go-implemented functions. A nil result
// means None unless an exception is pending.
type nativeFn func(vm *VM, args []Value) Value

// nativeKwFn is the signature of natives that accept keyword arguments.
type nativeKwFn func(vm *VM, args []Value, kw *Dict) Value

// NativeFunction is a Go function exposed to programs.
type NativeFunction struct {
	Obj
	name string
	doc  string
	fn   nativeFn
	kwfn nativeKwFn
}

func (n *NativeFunction) Trace(v memory.Visitor) { n.traceObj(v) }

// Name returns the function name.
func (n *NativeFunction) Name() string { return n.name }

func (vm *VM) newNative(name string, fn nativeFn) *NativeFunction {
	n := &NativeFunction{Obj: Obj{klass: vm.k.native}, name: name, fn: fn}
	vm.heap.Allocate(n, objPayload+3*wordBytes)
	return n
}

func (vm *VM) newNativeKw(name string, fn nativeKwFn) *NativeFunction {
	n := &NativeFunction{Obj: Obj{klass: vm.k.native}, name: name, kwfn: fn}
	vm.heap.Allocate(n, objPayload+3*wordBytes)
	return n
}

// defineNatives installs natives in k's dict.
func (vm *VM) defineNatives(k *Klass, fns map[string]nativeFn) {
	for name, fn := range fns {
		vm.dictSetStr(k.dict, name, vm.newNative(name, fn))
	}
}

// addMethodN installs a native method on k taking between lo and hi
// arguments after the receiver (hi < 0 means no limit). The receiver must
// be an instance of k.
func (vm *VM) addMethodN(k *Klass, name string, lo, hi int, fn func(vm *VM, self Value, args []Value) Value) {
	n := vm.newNative(name, func(vm *VM, args []Value) Value {
		if len(args) == 0 || !args[0].Klass().IsSubklass(k) {
			vm.raise(vm.k.typeError, "descriptor '%s' requires a '%s' object", name, k.name)
			return nil
		}
		if !vm.arity(name, args[1:], lo, hi) {
			return nil
		}
		return fn(vm, args[0], args[1:])
	})
	vm.dictSetStr(k.dict, name, n)
}

// addMethodKw installs a native method that also accepts keywords.
func (vm *VM) addMethodKw(k *Klass, name string, fn func(vm *VM, self Value, args []Value, kw *Dict) Value) {
	n := vm.newNativeKw(name, func(vm *VM, args []Value, kw *Dict) Value {
		if len(args) == 0 || !args[0].Klass().IsSubklass(k) {
			vm.raise(vm.k.typeError, "descriptor '%s' requires a '%s' object", name, k.name)
			return nil
		}
		return fn(vm, args[0], args[1:], kw)
	})
	vm.dictSetStr(k.dict, name, n)
}

func (vm *VM) addMethod0(k *Klass, name string, fn func(vm *VM, self Value) Value) {
	vm.addMethodN(k, name, 0, 0, func(vm *VM, self Value, _ []Value) Value { return fn(vm, self) })
}

func (vm *VM) addMethod1(k *Klass, name string, fn func(vm *VM, self, arg Value) Value) {
	vm.addMethodN(k, name, 1, 1, func(vm *VM, self Value, args []Value) Value { return fn(vm, self, args[0]) })
}

func (vm *VM) addMethod2(k *Klass, name string, fn func(vm *VM, self, a, b Value) Value) {
	vm.addMethodN(k, name, 2, 2, func(vm *VM, self Value, args []Value) Value { return fn(vm, self, args[0], args[1]) })
}

// kwArg returns the keyword argument name, or def when absent.
func kwArg(kw *Dict, name string, def Value) Value {
	if v := kw.GetStr(name); v != nil {
		return v
	}
	return def
}

// checkKw raises TypeError if kw holds a keyword outside allowed.
func (vm *VM) checkKw(fn string, kw *Dict, allowed ...string) bool {
	if kw == nil {
		return true
	}
	ok := true
	kw.Range(func(k, _ Value) bool {
		name, _ := AsString(k)
		for _, a := range allowed {
			if a == name {
				return true
			}
		}
		vm.raise(vm.k.typeError, "%s() got an unexpected keyword argument '%s'", fn, name)
		ok = false
		return false
	})
	return ok
}

// Function is an interpreted function: a code object, its defining
// globals, defaults and captured cells.
type Function struct {
	Obj
	code       *Code
	globals    *Dict
	defaults   []Value
	kwdefaults *Dict
	closure    []Value // cells
	name       string
}

func (f *Function) Trace(v memory.Visitor) {
	f.traceObj(v)
	v.VisitRef(f.code)
	if f.globals != nil {
		v.VisitRef(f.globals)
	}
	visitValues(v, f.defaults)
	if f.kwdefaults != nil {
		v.VisitRef(f.kwdefaults)
	}
	visitValues(v, f.closure)
}

// Code returns the function's code object.
func (f *Function) Code() *Code { return f.code }

// Name returns the function's name.
func (f *Function) Name() string { return f.name }

func (vm *VM) newFunction(code *Code, globals *Dict, name string) *Function {
	f := &Function{Obj: Obj{klass: vm.k.function}, code: code, globals: globals, name: name}
	vm.heap.Allocate(f, objPayload+6*wordBytes)
	return f
}

// Method binds a callable to a receiver.
type Method struct {
	Obj
	fn   Value
	self Value
}

func (m *Method) Trace(v memory.Visitor) {
	m.traceObj(v)
	v.VisitRef(m.fn)
	v.VisitRef(m.self)
}

func (vm *VM) newMethod(fn, self Value) *Method {
	m := &Method{Obj: Obj{klass: vm.k.method}, fn: fn, self: self}
	vm.heap.Allocate(m, objPayload+2*wordBytes)
	return m
}

// ---------------------------------------------------------------------------
// Cells
// ---------------------------------------------------------------------------

// Cell aliases one slot of a frame's closure table. Every closure over the
// same variable shares the cell, so writes through any of them are seen by
// all.
type Cell struct {
	Obj
	table *List
	slot  int
}

func (c *Cell) Trace(v memory.Visitor) {
	c.traceObj(v)
	v.VisitRef(c.table)
}

func (c *Cell) get() Value { return c.table.items[c.slot] }

func (c *Cell) set(v Value) { c.table.items[c.slot] = v }

func (vm *VM) newCell(table *List, slot int) *Cell {
	c := &Cell{Obj: Obj{klass: vm.k.cell}, table: table, slot: slot}
	vm.heap.Allocate(c, cellPayload)
	return c
}

// ---------------------------------------------------------------------------
// Modules
// ---------------------------------------------------------------------------

// Module is an imported namespace. Its attribute dict is its globals.
type Module struct {
	Obj
	name string
	file string
}

func (m *Module) Trace(v memory.Visitor) { m.traceObj(v) }

// Name returns the module name.
func (m *Module) Name() string { return m.name }

// Globals returns the module namespace.
func (m *Module) Globals() *Dict { return m.dict }

func (vm *VM) newModule(name, file string) *Module {
	m := &Module{Obj: Obj{klass: vm.k.module}, name: name, file: file}
	vm.heap.Allocate(m, objPayload+2*wordBytes)
	vm.keep(m)
	m.dict = vm.newDict()
	vm.dictSetStr(m.dict, "__name__", vm.Str(name))
	vm.dictSetStr(m.dict, "__builtins__", vm.builtins)
	return m
}
