package vm

import (
	"fmt"
	"strings"

	"github.com/chazu/pyrite/memory"
)

// ---------------------------------------------------------------------------
// Interpreter status
// ---------------------------------------------------------------------------

// status is the control state the interpreter carries between
// instructions.
type status uint8

const (
	statusOK status = iota
	statusException
	statusReturn
	statusYield
)

var statusNames = [...]string{"ok", "exception", "return", "yield"}

func (s status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

// ---------------------------------------------------------------------------
// Host-fatal errors
// ---------------------------------------------------------------------------

// FatalError is panicked for invariant violations the running program
// cannot recover from. Run converts it to an ordinary error.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string { return "fatal: " + e.Msg }

func fatalf(format string, args ...any) {
	panic(&FatalError{Msg: fmt.Sprintf(format, args...)})
}

// ---------------------------------------------------------------------------
// Tracebacks
// ---------------------------------------------------------------------------

// TracebackEntry is one frame an exception passed through.
type TracebackEntry struct {
	File string
	Name string
	Line int
}

func (e TracebackEntry) String() string {
	return fmt.Sprintf("  File %q, line %d, in %s", e.File, e.Line, e.Name)
}

// Traceback records the frames an exception unwound, innermost first.
type Traceback struct {
	Obj
	entries []TracebackEntry
}

func (tb *Traceback) Trace(v memory.Visitor) { tb.traceObj(v) }

// Entries returns the recorded frames, innermost first.
func (tb *Traceback) Entries() []TracebackEntry { return tb.entries }

func (vm *VM) newTraceback() *Traceback {
	tb := &Traceback{Obj: Obj{klass: vm.k.traceback}}
	vm.heap.Allocate(tb, objPayload+wordBytes)
	return tb
}

// recordFrame appends f's current position to the pending traceback.
func (vm *VM) recordFrame(f *Frame) {
	tb, ok := vm.excTB.(*Traceback)
	if !ok {
		return
	}
	tb.entries = append(tb.entries, TracebackEntry{
		File: f.code.filename,
		Name: f.code.name,
		Line: f.code.lineFor(f.lasti),
	})
}

// ---------------------------------------------------------------------------
// Raising
// ---------------------------------------------------------------------------

// raise instantiates k with a formatted message and makes it the pending
// exception.
func (vm *VM) raise(k *Klass, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	exc := vm.newInstance(k)
	vm.keep(exc)
	vm.dictSetStr(vm.instanceDict(exc), "args", vm.NewTuple(vm.Str(msg)))
	vm.setException(exc)
}

// setException makes exc the pending exception with a fresh traceback.
func (vm *VM) setException(exc Value) {
	vm.keep(exc)
	vm.status = statusException
	vm.excType = exc.Klass().typ
	vm.excValue = exc
	vm.excTB = vm.newTraceback()
}

// raiseValue implements raise with an operand: a type is instantiated
// with no arguments, an instance is raised as is, anything else is a
// TypeError.
func (vm *VM) raiseValue(v Value) {
	if t, ok := v.(*Type); ok {
		if !t.own.IsSubklass(vm.k.exception) {
			vm.raise(vm.k.typeError, "exceptions must derive from Exception")
			return
		}
		inst := vm.callVirtual(t, nil, nil)
		if inst == nil {
			return
		}
		v = inst
	}
	if !v.Klass().IsSubklass(vm.k.exception) {
		vm.raise(vm.k.typeError, "exceptions must derive from Exception")
		return
	}
	vm.setException(v)
}

// reraise restores a previously captured triple.
func (vm *VM) reraise(typ, val, tb Value) {
	vm.status = statusException
	vm.excType, vm.excValue, vm.excTB = typ, val, tb
	if _, ok := tb.(*Traceback); !ok {
		vm.excTB = vm.newTraceback()
	}
}

// clearException drops the pending exception.
func (vm *VM) clearException() {
	vm.status = statusOK
	vm.excType, vm.excValue, vm.excTB = nil, nil, nil
}

// excMatches reports whether the exception type exc matches target: the
// same type, a type on exc's MRO, or a tuple containing either.
func (vm *VM) excMatches(exc, target Value) bool {
	if tup, ok := target.(*Tuple); ok {
		for _, t := range tup.items {
			if vm.excMatches(exc, t) {
				return true
			}
		}
		return false
	}
	et, ok1 := exc.(*Type)
	tt, ok2 := target.(*Type)
	if !ok1 || !ok2 {
		return exc == target
	}
	return et.own.IsSubklass(tt.own)
}

func (vm *VM) instanceDict(v Value) *Dict {
	o := v.base()
	if o.dict == nil {
		vm.keep(v)
		o.dict = vm.newDict()
	}
	return o.dict
}

// ---------------------------------------------------------------------------
// Exception klasses
// ---------------------------------------------------------------------------

// exceptionTree lists the builtin exception klasses with their base,
// parents before children.
var exceptionTree = []struct {
	name, base string
}{
	{"Exception", ""},
	{"StopIteration", "Exception"},
	{"AssertionError", "Exception"},
	{"AttributeError", "Exception"},
	{"ImportError", "Exception"},
	{"NameError", "Exception"},
	{"TypeError", "Exception"},
	{"ValueError", "Exception"},
	{"RuntimeError", "Exception"},
	{"NotImplementedError", "RuntimeError"},
	{"RecursionError", "RuntimeError"},
	{"LookupError", "Exception"},
	{"KeyError", "LookupError"},
	{"IndexError", "LookupError"},
	{"ArithmeticError", "Exception"},
	{"ZeroDivisionError", "ArithmeticError"},
	{"OverflowError", "ArithmeticError"},
}

func (vm *VM) bootstrapExceptions() {
	byName := make(map[string]*Klass, len(exceptionTree))
	for _, e := range exceptionTree {
		base := vm.k.object
		if e.base != "" {
			base = byName[e.base]
		}
		k := vm.newKlass(e.name, []*Type{base.typ}, nil)
		byName[e.name] = k
		vm.dictSetStr(vm.builtins, e.name, k.typ)
	}
	vm.k.exception = byName["Exception"]
	vm.k.stopIteration = byName["StopIteration"]
	vm.k.assertionError = byName["AssertionError"]
	vm.k.attributeError = byName["AttributeError"]
	vm.k.importError = byName["ImportError"]
	vm.k.nameError = byName["NameError"]
	vm.k.typeError = byName["TypeError"]
	vm.k.valueError = byName["ValueError"]
	vm.k.runtimeError = byName["RuntimeError"]
	vm.k.recursionError = byName["RecursionError"]
	vm.k.keyError = byName["KeyError"]
	vm.k.indexError = byName["IndexError"]
	vm.k.zeroDivisionError = byName["ZeroDivisionError"]
	vm.k.overflowError = byName["OverflowError"]

	vm.defineNatives(vm.k.exception, map[string]nativeFn{
		"__init__": func(vm *VM, args []Value) Value {
			vm.dictSetStr(vm.instanceDict(args[0]), "args", vm.NewTuple(args[1:]...))
			return vm.None
		},
		"__repr__": func(vm *VM, args []Value) Value {
			return vm.Str(vm.describeException(args[0]))
		},
		"__str__": func(vm *VM, args []Value) Value {
			a := excArgs(args[0])
			switch len(a) {
			case 0:
				return vm.Str("")
			case 1:
				return vm.Str(vm.str(a[0]))
			}
			return vm.Str(vm.repr(vm.NewTuple(a...)))
		},
	})
}

func excArgs(exc Value) []Value {
	if d := exc.base().dict; d != nil {
		if t, ok := d.GetStr("args").(*Tuple); ok {
			return t.items
		}
	}
	return nil
}

// describeException renders an exception as "Name: 'arg'".
func (vm *VM) describeException(exc Value) string {
	name := exc.Klass().name
	a := excArgs(exc)
	switch len(a) {
	case 0:
		return name
	case 1:
		return name + ": " + vm.repr(a[0])
	}
	return name + ": " + vm.repr(vm.NewTuple(a...))
}

// ---------------------------------------------------------------------------
// Uncaught exceptions
// ---------------------------------------------------------------------------

// ExceptionError is returned by Run when an exception escapes every frame.
type ExceptionError struct {
	Type        string
	Description string
	Traceback   []TracebackEntry // innermost first
}

func (e *ExceptionError) Error() string {
	if e.Description == "" {
		return e.Type
	}
	return e.Type + ": " + e.Description
}

// Format renders the traceback the way the command line prints it.
func (e *ExceptionError) Format() string {
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")
	for i := len(e.Traceback) - 1; i >= 0; i-- {
		b.WriteString(e.Traceback[i].String())
		b.WriteByte('\n')
	}
	b.WriteString(e.Error())
	b.WriteByte('\n')
	return b.String()
}

// takeException converts the pending exception into an ExceptionError
// and clears it.
func (vm *VM) takeException() *ExceptionError {
	exc := vm.excValue
	var entries []TracebackEntry
	if tb, ok := vm.excTB.(*Traceback); ok {
		entries = append(entries, tb.entries...)
	}
	vm.clearException()
	desc := vm.str(exc)
	if vm.status == statusException {
		vm.clearException()
		desc = "<exception str() failed>"
	}
	return &ExceptionError{
		Type:        exc.Klass().name,
		Description: desc,
		Traceback:   entries,
	}
}

// raiseStop raises StopIteration with no arguments.
func (vm *VM) raiseStop() {
	exc := vm.newInstance(vm.k.stopIteration)
	vm.keep(exc)
	vm.dictSetStr(vm.instanceDict(exc), "args", vm.newTuple(nil))
	vm.setException(exc)
}
