package vm

import (
	"github.com/chazu/pyrite/memory"
)

// GeneratorState is the lifecycle state of a generator.
type GeneratorState uint8

const (
	GenCreated GeneratorState = iota
	GenSuspended
	GenRunning
	GenDone
)

func (s GeneratorState) String() string {
	switch s {
	case GenCreated:
		return "created"
	case GenSuspended:
		return "suspended"
	case GenRunning:
		return "running"
	}
	return "done"
}

// Generator wraps a suspended frame. Each resume re-enters the interpreter
// on that frame; once the body returns or raises, the frame is dropped and
// further resumes report exhaustion.
type Generator struct {
	Obj
	frame *Frame
	state GeneratorState
	name  string

	// result is the value the body returned, held until a delegating
	// yield from takes it.
	result Value
}

func (g *Generator) Trace(v memory.Visitor) {
	g.traceObj(v)
	if g.frame != nil {
		v.VisitRef(g.frame)
	}
	if g.result != nil {
		v.VisitRef(g.result)
	}
}

// State returns the generator's lifecycle state.
func (g *Generator) State() GeneratorState { return g.state }

func (vm *VM) newGenerator(f *Frame) *Generator {
	g := &Generator{Obj: Obj{klass: vm.k.generator}, frame: f, name: f.code.name}
	vm.heap.Allocate(g, objPayload+2*wordBytes)
	f.gen = g
	return g
}

func (g *Generator) iterNext(vm *VM) Value { return vm.resume(g, nil) }

// resume runs g until its next yield and returns the yielded value. It
// returns nil when the generator is exhausted or raised; a pending
// exception tells the two apart.
func (vm *VM) resume(g *Generator, send Value) Value {
	switch g.state {
	case GenDone:
		return nil
	case GenRunning:
		vm.raise(vm.k.valueError, "generator already executing")
		return nil
	case GenCreated:
		if send != nil && send != vm.None {
			vm.raise(vm.k.typeError, "can't send non-None value to a just-started generator")
			return nil
		}
	case GenSuspended:
		if send == nil {
			send = vm.None
		}
		g.frame.setTop(send)
	}

	vm.keep(g)
	f := g.frame
	if !vm.deepen(f, vm.frame) {
		return nil
	}
	g.state = GenRunning
	f.entry = true
	f.caller = vm.frame
	vm.frame = f

	vm.eval()

	vm.frame = f.caller
	f.caller = nil

	switch vm.status {
	case statusYield:
		g.state = GenSuspended
		vm.status = statusOK
		r := vm.ret
		vm.ret = nil
		vm.keep(r)
		return r
	case statusException:
		g.state = GenDone
		g.frame = nil
		return nil
	}
	g.state = GenDone
	g.frame = nil
	if vm.ret != vm.None {
		g.result = vm.ret
	}
	vm.ret = nil
	return nil
}
