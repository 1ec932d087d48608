package vm

import (
	"github.com/chazu/pyrite/memory"
)

// ---------------------------------------------------------------------------
// Frame: one activation
// ---------------------------------------------------------------------------

// block is a block-stack entry: a handler target and the stack depth to
// restore when it is taken. An except-handler block instead holds the
// exception that was being handled when its handler was entered.
type block struct {
	kind    uint8
	handler int
	level   int
	saved   [3]Value
}

const (
	blockFinally uint8 = iota + 1
	blockWith
	blockExceptHandler
)

// Frame is the activation record of a code object. Frames form the call
// stack through caller.
type Frame struct {
	memory.Header

	code *Code
	fn   *Function // nil for module and class bodies

	pc    int // next instruction
	lasti int // offset of the instruction being executed

	stack  []Value
	blocks []block
	fast   []Value

	// closure holds the cellvar values followed by the function's free
	// cells. cells caches the Cell created for each cellvar slot.
	closure *List
	cells   []*Cell

	locals  *Dict
	globals *Dict

	caller *Frame
	depth  int // number of frames below this one
	entry  bool
	gen    *Generator
}

func (f *Frame) Trace(v memory.Visitor) {
	v.VisitRef(f.code)
	if f.fn != nil {
		v.VisitRef(f.fn)
	}
	visitValues(v, f.stack)
	visitValues(v, f.fast)
	for i := range f.blocks {
		if f.blocks[i].kind == blockExceptHandler {
			visitValues(v, f.blocks[i].saved[:])
		}
	}
	if f.closure != nil {
		v.VisitRef(f.closure)
	}
	for _, c := range f.cells {
		if c != nil {
			v.VisitRef(c)
		}
	}
	if f.locals != nil {
		v.VisitRef(f.locals)
	}
	if f.globals != nil {
		v.VisitRef(f.globals)
	}
	if f.gen != nil {
		v.VisitRef(f.gen)
	}
}

// Code returns the code being executed.
func (f *Frame) Code() *Code { return f.code }

// Caller returns the calling frame.
func (f *Frame) Caller() *Frame { return f.caller }

// Line returns the source line of the current instruction.
func (f *Frame) Line() int { return f.code.lineFor(f.lasti) }

// Depth returns the number of values on the evaluation stack.
func (f *Frame) Depth() int { return len(f.stack) }

func (f *Frame) push(v Value) { f.stack = append(f.stack, v) }

func (f *Frame) pop() Value {
	n := len(f.stack) - 1
	if n < 0 {
		fatalf("%s: evaluation stack underflow at offset %d", f.code.name, f.lasti)
	}
	v := f.stack[n]
	f.stack[n] = nil
	f.stack = f.stack[:n]
	return v
}

func (f *Frame) top() Value { return f.stack[len(f.stack)-1] }

func (f *Frame) peek(i int) Value { return f.stack[len(f.stack)-i] }

func (f *Frame) setTop(v Value) { f.stack[len(f.stack)-1] = v }

// popN removes and returns the top n values in push order.
func (f *Frame) popN(n int) []Value {
	if n > len(f.stack) {
		fatalf("%s: evaluation stack underflow at offset %d", f.code.name, f.lasti)
	}
	out := make([]Value, n)
	copy(out, f.stack[len(f.stack)-n:])
	f.truncate(len(f.stack) - n)
	return out
}

func (f *Frame) truncate(level int) {
	if level > len(f.stack) {
		fatalf("%s: block level %d above stack depth %d", f.code.name, level, len(f.stack))
	}
	clear(f.stack[level:])
	f.stack = f.stack[:level]
}

func (f *Frame) pushBlock(kind uint8, handler int) {
	f.blocks = append(f.blocks, block{kind: kind, handler: handler, level: len(f.stack)})
}

// enterHandler records the exception previously being handled so that
// POP_EXCEPT, or unwinding past the handler, can restore it.
func (f *Frame) enterHandler(prev [3]Value) {
	f.blocks = append(f.blocks, block{kind: blockExceptHandler, level: len(f.stack), saved: prev})
}

func (f *Frame) popBlock() block {
	n := len(f.blocks) - 1
	if n < 0 {
		fatalf("%s: block stack underflow at offset %d", f.code.name, f.lasti)
	}
	b := f.blocks[n]
	f.blocks = f.blocks[:n]
	return b
}

// ---------------------------------------------------------------------------
// Frame construction
// ---------------------------------------------------------------------------

func (vm *VM) allocFrame(code *Code) *Frame {
	f := &Frame{
		code:  code,
		stack: make([]Value, 0, code.stackSize),
	}
	vm.heap.Allocate(f, framePayload)
	return f
}

// newModuleFrame builds a top-level frame: locals and globals are the
// same table and no arguments are bound.
func (vm *VM) newModuleFrame(code *Code, globals *Dict) *Frame {
	f := vm.allocFrame(code)
	f.globals = globals
	f.locals = globals
	vm.heap.Keep(f)
	f.closure = vm.newList(make([]Value, len(code.cellvars)))
	return f
}

// newClassFrame runs a class body against a fresh namespace.
func (vm *VM) newClassFrame(fn *Function, ns *Dict) *Frame {
	f := vm.allocFrame(fn.code)
	f.fn = fn
	f.globals = fn.globals
	f.locals = ns
	vm.heap.Keep(f)
	vm.initClosure(f, fn)
	return f
}

// newCallFrame builds the frame for calling fn with args and kw, binding
// every parameter. It returns nil with TypeError pending on a binding
// failure.
func (vm *VM) newCallFrame(fn *Function, args []Value, kw *Dict) *Frame {
	code := fn.code
	f := vm.allocFrame(code)
	f.fn = fn
	f.globals = fn.globals
	vm.heap.Keep(f)

	n := code.nlocals
	named := code.argCount + code.kwOnly
	extra := 0
	if code.flags&CodeVarArgs != 0 {
		extra++
	}
	if code.flags&CodeVarKeywords != 0 {
		extra++
	}
	if n < named+extra {
		n = named + extra
	}
	f.fast = make([]Value, n)

	if !vm.bindArgs(f, fn, args, kw) {
		return nil
	}
	vm.initClosure(f, fn)
	return f
}

// bindArgs fills the fast slots of f from the call arguments.
func (vm *VM) bindArgs(f *Frame, fn *Function, args []Value, kw *Dict) bool {
	code := fn.code
	argc := code.argCount
	named := argc + code.kwOnly
	varargsSlot := -1
	kwargsSlot := -1
	next := named
	if code.flags&CodeVarArgs != 0 {
		varargsSlot = next
		next++
	}
	if code.flags&CodeVarKeywords != 0 {
		kwargsSlot = next
	}

	// Positionals.
	npos := min(len(args), argc)
	copy(f.fast, args[:npos])
	if len(args) > argc {
		if varargsSlot < 0 {
			vm.raise(vm.k.typeError, "%s() takes %d positional arguments but %d were given",
				fn.name, argc, len(args))
			return false
		}
		f.fast[varargsSlot] = vm.NewTuple(args[argc:]...)
	} else if varargsSlot >= 0 {
		f.fast[varargsSlot] = vm.newTuple(nil)
	}

	var kwargs *Dict
	if kwargsSlot >= 0 {
		kwargs = vm.newDict()
		f.fast[kwargsSlot] = kwargs
	}

	// Keywords.
	if kw != nil {
		ok := true
		kw.Range(func(k, v Value) bool {
			name, isStr := AsString(k)
			if !isStr {
				vm.raise(vm.k.typeError, "%s() keywords must be strings", fn.name)
				ok = false
				return false
			}
			idx := -1
			for i := code.posOnly; i < named && i < len(code.varnames); i++ {
				if code.varnames[i] == name {
					idx = i
					break
				}
			}
			switch {
			case idx >= 0:
				if f.fast[idx] != nil {
					vm.raise(vm.k.typeError, "%s() got multiple values for argument '%s'", fn.name, name)
					ok = false
					return false
				}
				f.fast[idx] = v
			case kwargs != nil:
				vm.dictSetStr(kwargs, name, v)
			default:
				vm.raise(vm.k.typeError, "%s() got an unexpected keyword argument '%s'", fn.name, name)
				ok = false
				return false
			}
			return true
		})
		if !ok {
			return false
		}
	}

	// Defaults, right-aligned against the positional parameters.
	first := argc - len(fn.defaults)
	for i := npos; i < argc; i++ {
		if f.fast[i] == nil && i >= first {
			f.fast[i] = fn.defaults[i-first]
		}
	}
	for i := argc; i < named; i++ {
		if f.fast[i] == nil && fn.kwdefaults != nil && i < len(code.varnames) {
			f.fast[i] = fn.kwdefaults.GetStr(code.varnames[i])
		}
	}

	for i := 0; i < named; i++ {
		if f.fast[i] == nil {
			name := "?"
			if i < len(code.varnames) {
				name = code.varnames[i]
			}
			vm.raise(vm.k.typeError, "%s() missing required argument '%s'", fn.name, name)
			return false
		}
	}
	return true
}

// initClosure builds the closure table: one slot per cellvar, seeded from
// a parameter of the same name, then the function's captured cells.
func (vm *VM) initClosure(f *Frame, fn *Function) {
	code := fn.code
	items := make([]Value, len(code.cellvars)+len(fn.closure))
	for i, name := range code.cellvars {
		for j, vn := range code.varnames {
			if vn == name && j < len(f.fast) {
				items[i] = f.fast[j]
				break
			}
		}
	}
	copy(items[len(code.cellvars):], fn.closure)
	f.closure = vm.newList(items)
	f.cells = make([]*Cell, len(code.cellvars))
}

// cellFor returns the cell for closure slot i, creating it on first use.
func (vm *VM) cellFor(f *Frame, i int) Value {
	if c, ok := f.closure.items[i].(*Cell); ok {
		return c
	}
	if i < len(f.cells) {
		if f.cells[i] == nil {
			f.cells[i] = vm.newCell(f.closure, i)
		}
		return f.cells[i]
	}
	fatalf("%s: closure index %d out of range", f.code.name, i)
	return nil
}

// derefName returns the variable name of closure slot i.
func derefName(code *Code, i int) string {
	if i < len(code.cellvars) {
		return code.cellvars[i]
	}
	if j := i - len(code.cellvars); j < len(code.freevars) {
		return code.freevars[j]
	}
	return "?"
}
