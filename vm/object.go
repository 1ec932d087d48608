package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/pyrite/memory"
)

// Instance is the representation of user klasses that do not derive from
// a builtin container or scalar.
type Instance struct {
	Obj
}

func (i *Instance) Trace(v memory.Visitor) { i.traceObj(v) }

func (vm *VM) newInstance(k *Klass) *Instance {
	i := &Instance{Obj: Obj{klass: k}}
	vm.heap.Allocate(i, objPayload)
	return i
}

// ---------------------------------------------------------------------------
// Instance allocation
// ---------------------------------------------------------------------------

// allocateInstance constructs an instance of t. Builtin klasses with a
// constructor convert their arguments; every other klass gets the builtin
// representation of the first of int, str, list or dict found in its MRO,
// seeded from a matching first argument and re-stamped with the requested
// klass, and then __init__ is called.
func (vm *VM) allocateInstance(t *Type, args []Value, kw *Dict) Value {
	k := t.own
	if k.construct != nil {
		return k.construct(vm, k, args, kw)
	}

	var seed Value
	if len(args) > 0 {
		seed = args[0]
	}
	var inst Value
	switch {
	case k.IsSubklass(vm.k.int):
		i := vm.newInt(0)
		if seed != nil {
			i.v, _ = AsInt(seed)
		}
		inst = i
	case k.IsSubklass(vm.k.str):
		s := vm.Str("")
		if str, ok := seed.(*Str); ok {
			s.s = str.s
		}
		inst = s
	case k.IsSubklass(vm.k.list):
		l := vm.newList(nil)
		if seq, ok := seed.(Sequence); ok {
			l.items = append(l.items, seq.Items()...)
		}
		inst = l
	case k.IsSubklass(vm.k.dict):
		d := vm.newDict()
		if src, ok := seed.(*Dict); ok {
			src.Range(func(key, val Value) bool {
				d.t.set(mustKey(key), key, val)
				return true
			})
		}
		inst = d
	default:
		inst = vm.newInstance(k)
	}
	inst.base().klass = k

	if init := vm.lookup(k, "__init__"); init != nil {
		vm.keep(inst)
		r := vm.callVirtual(init, prepend(inst, args), kw)
		if r == nil && vm.status == statusException {
			return nil
		}
	}
	return inst
}

func prepend(v Value, args []Value) []Value {
	out := make([]Value, 0, len(args)+1)
	out = append(out, v)
	return append(out, args...)
}

// ---------------------------------------------------------------------------
// Attribute protocol
// ---------------------------------------------------------------------------

// getattr resolves name on obj: a user __getattr__ hook first, then the
// instance dict, then the klass and its MRO. Functions found on the klass
// come back bound. A miss raises AttributeError and returns nil.
func (vm *VM) getattr(obj Value, name string) Value {
	k := obj.Klass()
	if hook, ok := vm.lookup(k, "__getattr__").(*Function); ok {
		return vm.callVirtual(hook, []Value{obj, vm.intern(name)}, nil)
	}

	if d := obj.base().dict; d != nil {
		if v := d.GetStr(name); v != nil {
			return v
		}
	}

	if t, ok := obj.(*Type); ok {
		if v := findInKlass(t.own, name); v != nil {
			return v
		}
		switch name {
		case "__name__":
			return vm.Str(t.own.name)
		case "__mro__":
			mro := append([]Value{t}, typesToValues(t.own.mro)...)
			return vm.newTuple(mro)
		case "__bases__":
			return vm.newTuple(typesToValues(t.own.supers))
		case "__dict__":
			return t.own.dict
		}
	}

	if v := vm.lookup(k, name); v != nil {
		if vm.isFunction(v) {
			return vm.newMethod(v, obj)
		}
		return v
	}

	switch name {
	case "__class__":
		return k.typ
	case "__dict__":
		if d := obj.base().dict; d != nil {
			return d
		}
	}
	vm.raise(vm.k.attributeError, "'%s' object has no attribute '%s'", k.name, name)
	return nil
}

func typesToValues(ts []*Type) []Value {
	out := make([]Value, len(ts))
	for i, t := range ts {
		out[i] = t
	}
	return out
}

// loadMethod is the LOAD_METHOD fast path. When name resolves to a
// function on the klass it returns the unbound function and true, so the
// caller can pass obj as the first argument without allocating a bound
// method.
func (vm *VM) loadMethod(obj Value, name string) (Value, bool) {
	k := obj.Klass()
	if _, hooked := vm.lookup(k, "__getattr__").(*Function); !hooked {
		if _, isType := obj.(*Type); !isType {
			if d := obj.base().dict; d == nil || d.GetStr(name) == nil {
				if v := vm.lookup(k, name); v != nil && vm.isFunction(v) {
					return v, true
				}
			}
		}
	}
	return vm.getattr(obj, name), false
}

// setattr stores name on obj: a user __setattr__ hook first; on a type the
// klass dict is written and the method cache purged; otherwise the
// instance dict, created on first use.
func (vm *VM) setattr(obj Value, name string, val Value) bool {
	if hook, ok := vm.lookup(obj.Klass(), "__setattr__").(*Function); ok {
		r := vm.callVirtual(hook, []Value{obj, vm.intern(name), val}, nil)
		return r != nil || vm.status != statusException
	}
	if t, ok := obj.(*Type); ok {
		vm.dictSetStr(t.own.dict, name, val)
		vm.cache.purge()
		return true
	}
	o := obj.base()
	if o.dict == nil {
		vm.keep(obj, val)
		o.dict = vm.newDict()
	}
	vm.dictSetStr(o.dict, name, val)
	return true
}

func (vm *VM) delattr(obj Value, name string) bool {
	var d *Dict
	if t, ok := obj.(*Type); ok {
		d = t.own.dict
		vm.cache.purge()
	} else {
		d = obj.base().dict
	}
	if d == nil || !d.t.del(strKey(name)) {
		vm.raise(vm.k.attributeError, "'%s' object has no attribute '%s'", obj.Klass().name, name)
		return false
	}
	return true
}

// callMethod looks name up on obj's klass and calls it with obj
// prepended. A missing method raises TypeError.
func (vm *VM) callMethod(obj Value, name string, args ...Value) Value {
	m := vm.lookup(obj.Klass(), name)
	if m == nil {
		vm.raise(vm.k.typeError, "'%s' object has no method %s", obj.Klass().name, name)
		return nil
	}
	return vm.callVirtual(m, prepend(obj, args), nil)
}

// ---------------------------------------------------------------------------
// Conversions to Go strings
// ---------------------------------------------------------------------------

// repr returns the printable representation of v. A user __repr__ is
// honoured; its failure leaves the exception pending and yields "".
func (vm *VM) repr(v Value) string {
	switch x := v.(type) {
	case *Str:
		if x.klass == vm.k.str {
			return quote(x.s)
		}
	case *Int:
		if x.klass == vm.k.int {
			return strconv.FormatInt(x.v, 10)
		}
	case *Bool:
		if x.v {
			return "True"
		}
		return "False"
	case *Float:
		return formatFloat(x.v)
	case *NoneType:
		return x.name
	}
	r := vm.callMethod(v, "__repr__")
	if s, ok := r.(*Str); ok {
		return s.s
	}
	return ""
}

// str is str(v): strings are returned raw, __str__ is used when defined,
// and everything else falls back to repr.
func (vm *VM) str(v Value) string {
	if s, ok := v.(*Str); ok {
		return s.s
	}
	if m := vm.lookup(v.Klass(), "__str__"); m != nil && m != vm.k.object.dict.GetStr("__str__") {
		r := vm.callVirtual(m, []Value{v}, nil)
		if s, ok := r.(*Str); ok {
			return s.s
		}
		return ""
	}
	return vm.repr(v)
}

func quote(s string) string {
	q := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		q = '"'
	}
	var b strings.Builder
	b.WriteRune(q)
	for _, r := range s {
		switch {
		case r == q || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\t':
			b.WriteString(`\t`)
		case r == '\r':
			b.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteRune(q)
	return b.String()
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "nan"
	}
	if isIntegral(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// ---------------------------------------------------------------------------
// Truthiness
// ---------------------------------------------------------------------------

// truthy reports whether v is true. __bool__ and then __len__ are
// consulted for other klasses.
func (vm *VM) truthy(v Value) bool {
	switch x := v.(type) {
	case *Bool:
		return x.v
	case *NoneType:
		return Value(x) != vm.None
	case *Int:
		if x.klass == vm.k.int {
			return x.v != 0
		}
	case *Float:
		return x.v != 0
	case *Str:
		if x.klass == vm.k.str {
			return x.s != ""
		}
	case *List:
		if x.klass == vm.k.list {
			return len(x.items) > 0
		}
	case *Tuple:
		return len(x.items) > 0
	case *Dict:
		if x.klass == vm.k.dict {
			return x.Len() > 0
		}
	case *Set:
		return x.Len() > 0
	}
	for _, name := range []string{"__bool__", "__len__"} {
		if m := vm.lookup(v.Klass(), name); m != nil {
			r := vm.callVirtual(m, []Value{v}, nil)
			if r == nil {
				return false
			}
			if b, ok := r.(*Bool); ok {
				return b.v
			}
			n, _ := AsInt(r)
			return n != 0
		}
	}
	return true
}

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// id returns a stable identity number for v. Block addresses move, so ids
// are handed out on first request and travel with the object.
func (vm *VM) id(v Value) int64 {
	o := v.base()
	if o.id == 0 {
		vm.nextID++
		o.id = vm.nextID
	}
	return o.id
}
