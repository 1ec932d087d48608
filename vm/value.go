package vm

import (
	"math"

	"github.com/chazu/pyrite/memory"
)

// Value is any heap-resident pyrite value. Every implementation embeds Obj.
type Value interface {
	memory.Object
	Klass() *Klass
	base() *Obj
}

// Obj is the common header of every value: the heap block header, the
// klass pointer and the optional per-instance attribute dict.
type Obj struct {
	memory.Header
	klass *Klass
	dict  *Dict
	id    int64 // zero until id() is first asked for
}

// Klass returns the value's klass.
func (o *Obj) Klass() *Klass { return o.klass }

// Dict returns the per-instance attribute dict, or nil.
func (o *Obj) Dict() *Dict { return o.dict }

func (o *Obj) base() *Obj { return o }

func (o *Obj) traceObj(v memory.Visitor) {
	if o.klass != nil {
		v.VisitKlass(o.klass)
	}
	if o.dict != nil {
		v.VisitRef(o.dict)
	}
}

// visitValues visits every non-nil element of vals.
func visitValues(v memory.Visitor, vals []Value) {
	for _, x := range vals {
		if x != nil {
			v.VisitRef(x)
		}
	}
}

// Block payload sizes. The Go struct holds the fields; the block accounts
// for them in the arena.
const (
	wordBytes    = 8
	objPayload   = 3 * wordBytes
	slotPayload  = wordBytes
	cellPayload  = 2 * wordBytes
	framePayload = 8 * wordBytes
)

func seqPayload(n int) int { return objPayload + n*slotPayload }

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// NoneType is the klass of the None, NotImplemented and Ellipsis
// singletons.
type NoneType struct {
	Obj
	name string
}

func (n *NoneType) Trace(v memory.Visitor) { n.traceObj(v) }

// Int is a 64-bit integer.
type Int struct {
	Obj
	v int64
}

func (i *Int) Trace(v memory.Visitor) { i.traceObj(v) }

// Value returns the integer.
func (i *Int) Value() int64 { return i.v }

// Bool is True or False. Its klass has int as a super.
type Bool struct {
	Obj
	v bool
}

func (b *Bool) Trace(v memory.Visitor) { b.traceObj(v) }

// Value returns the boolean.
func (b *Bool) Value() bool { return b.v }

// Float is a 64-bit float.
type Float struct {
	Obj
	v float64
}

func (f *Float) Trace(v memory.Visitor) { f.traceObj(v) }

// Value returns the float.
func (f *Float) Value() float64 { return f.v }

// Str is an immutable string.
type Str struct {
	Obj
	s string
}

func (s *Str) Trace(v memory.Visitor) { s.traceObj(v) }

// String returns the Go string.
func (s *Str) String() string { return s.s }

const smallIntMin, smallIntMax = -5, 256

// Int returns an int value, sharing the preallocated small ints.
func (vm *VM) Int(n int64) Value {
	if n >= smallIntMin && n <= smallIntMax {
		return vm.smallInts[n-smallIntMin]
	}
	return vm.newInt(n)
}

func (vm *VM) newInt(n int64) *Int {
	i := &Int{Obj: Obj{klass: vm.k.int}, v: n}
	vm.heap.Allocate(i, objPayload+slotPayload)
	return i
}

// Float returns a new float value.
func (vm *VM) Float(f float64) Value {
	x := &Float{Obj: Obj{klass: vm.k.float}, v: f}
	vm.heap.Allocate(x, objPayload+slotPayload)
	return x
}

// Str returns a new string value.
func (vm *VM) Str(s string) *Str {
	x := &Str{Obj: Obj{klass: vm.k.str}, s: s}
	vm.heap.Allocate(x, objPayload+len(s))
	return x
}

// Bool returns the True or False singleton.
func (vm *VM) Bool(b bool) Value {
	if b {
		return vm.True
	}
	return vm.False
}

// intern returns the shared string for s.
func (vm *VM) intern(s string) *Str {
	if x, ok := vm.interned[s]; ok {
		return x
	}
	x := vm.Str(s)
	vm.interned[s] = x
	return x
}

// ---------------------------------------------------------------------------
// Numeric coercion
// ---------------------------------------------------------------------------

// AsInt reports the integer value of an int or bool.
func AsInt(v Value) (int64, bool) {
	switch x := v.(type) {
	case *Int:
		return x.v, true
	case *Bool:
		if x.v {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// AsFloat reports the numeric value of an int, bool or float.
func AsFloat(v Value) (float64, bool) {
	if f, ok := v.(*Float); ok {
		return f.v, true
	}
	if n, ok := AsInt(v); ok {
		return float64(n), true
	}
	return 0, false
}

// AsString reports the contents of a str.
func AsString(v Value) (string, bool) {
	if s, ok := v.(*Str); ok {
		return s.s, true
	}
	return "", false
}

// isIntegral reports whether f is a whole number that converts to int64
// exactly. 2**63 is not: float64(math.MaxInt64) rounds up to it.
func isIntegral(f float64) bool {
	return f == math.Trunc(f) && f >= -0x1p63 && f < 0x1p63
}
