package vm

import (
	"github.com/chazu/pyrite/memory"
	"github.com/chazu/pyrite/pyc"
)

// Code flags.
const (
	CodeVarArgs     = pyc.FlagVarArgs
	CodeVarKeywords = pyc.FlagVarKeywords
	CodeGenerator   = pyc.FlagGenerator
)

// Code is an immutable compiled body. The instruction bytes and line table
// live in arena buffers and are copied with the object on every
// collection.
type Code struct {
	Obj

	argCount  int
	posOnly   int
	kwOnly    int
	nlocals   int
	stackSize int
	flags     int

	bytecode memory.Raw
	lnotab   memory.Raw

	consts   []Value
	names    []string
	varnames []string
	freevars []string
	cellvars []string

	filename  string
	name      string
	firstLine int
}

func (c *Code) Trace(v memory.Visitor) {
	c.traceObj(v)
	v.VisitRaw(&c.bytecode)
	v.VisitRaw(&c.lnotab)
	visitValues(v, c.consts)
}

// Name returns the code's function or module name.
func (c *Code) Name() string { return c.name }

// Filename returns the source file recorded by the compiler.
func (c *Code) Filename() string { return c.filename }

// Flags returns the code flags.
func (c *Code) Flags() int { return c.flags }

// Bytecode returns the current instruction bytes. The slice is only valid
// until the next allocation.
func (c *Code) Bytecode() []byte { return c.bytecode.Bytes() }

// Consts returns the constant pool.
func (c *Code) Consts() []Value { return c.consts }

// lineFor maps a byte offset to a source line using the lnotab pairs of
// (offset increment, signed line increment).
func (c *Code) lineFor(lasti int) int {
	line := c.firstLine
	tab := c.lnotab.Bytes()
	addr := 0
	for i := 0; i+1 < len(tab); i += 2 {
		addr += int(tab[i])
		if addr > lasti {
			break
		}
		line += int(int8(tab[i+1]))
	}
	return line
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// LoadCode materializes a decoded code object and everything it reaches on
// the heap. Names are interned.
func (vm *VM) LoadCode(pc *pyc.Code) *Code {
	c := &Code{
		Obj:       Obj{klass: vm.k.code},
		argCount:  int(pc.ArgCount),
		posOnly:   int(pc.PosOnlyArgCount),
		kwOnly:    int(pc.KwOnlyArgCount),
		nlocals:   int(pc.NLocals),
		stackSize: int(pc.StackSize),
		flags:     int(pc.Flags),
		names:     pc.Names,
		varnames:  pc.VarNames,
		freevars:  pc.FreeVars,
		cellvars:  pc.CellVars,
		filename:  pc.Filename,
		name:      pc.Name,
		firstLine: int(pc.FirstLineNo),
	}
	vm.heap.Allocate(c, objPayload+8*wordBytes)
	c.bytecode = vm.heap.NewRaw(pc.Bytecode)
	c.lnotab = vm.heap.NewRaw(pc.LNoTab)

	for _, group := range [][]string{pc.Names, pc.VarNames, pc.FreeVars, pc.CellVars} {
		for _, n := range group {
			vm.intern(n)
		}
	}

	c.consts = make([]Value, 0, len(pc.Consts))
	for _, k := range pc.Consts {
		c.consts = append(c.consts, vm.loadConst(k))
	}
	return c
}

func (vm *VM) loadConst(k pyc.Value) Value {
	switch x := k.(type) {
	case nil, pyc.None:
		return vm.None
	case pyc.Ellipsis:
		return vm.Ellipsis
	case bool:
		return vm.Bool(x)
	case int64:
		return vm.Int(x)
	case float64:
		return vm.Float(x)
	case string:
		return vm.intern(x)
	case pyc.Bytes:
		return vm.Str(string(x))
	case pyc.Tuple:
		items := make([]Value, len(x))
		for i, e := range x {
			items[i] = vm.loadConst(e)
		}
		return vm.newTuple(items)
	case pyc.FrozenSet:
		s := vm.newSet()
		for _, e := range x {
			vm.setAdd(s, vm.loadConst(e))
		}
		return s
	case *pyc.Code:
		return vm.LoadCode(x)
	}
	fatalf("unsupported constant of type %T", k)
	return nil
}
