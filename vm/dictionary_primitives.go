package vm

import (
	"strings"
)

// ---------------------------------------------------------------------------
// dict Primitives
// ---------------------------------------------------------------------------

func dictOf(v Value) *Dict { return v.(*Dict) }

func (vm *VM) registerDictPrimitives() {
	c := vm.k.dict
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("dict", args, 0, 1) {
			return nil
		}
		d := vm.newDict()
		vm.keep(d)
		if len(args) == 1 && !vm.dictUpdate(d, args[0]) {
			return nil
		}
		if kw != nil {
			kw.Range(func(key, val Value) bool {
				d.t.set(mustKey(key), key, val)
				return true
			})
		}
		return d
	}

	vm.addMethod0(c, "__len__", func(vm *VM, self Value) Value {
		return vm.Int(int64(dictOf(self).Len()))
	})
	vm.addMethod1(c, "__getitem__", func(vm *VM, self, key Value) Value {
		v := vm.dictGet(dictOf(self), key)
		if v == nil && vm.status != statusException {
			if m := vm.lookup(self.Klass(), "__missing__"); m != nil {
				return vm.callVirtual(m, []Value{self, key}, nil)
			}
			vm.raise(vm.k.keyError, "%s", vm.repr(key))
		}
		return v
	})
	vm.addMethod2(c, "__setitem__", func(vm *VM, self, key, val Value) Value {
		if !vm.dictSet(dictOf(self), key, val) {
			return nil
		}
		return vm.None
	})
	vm.addMethod1(c, "__delitem__", func(vm *VM, self, key Value) Value {
		if !vm.dictDel(dictOf(self), key) {
			return nil
		}
		return vm.None
	})
	vm.addMethod1(c, "__contains__", func(vm *VM, self, key Value) Value {
		k, ok := vm.hashKey(key)
		if !ok {
			return nil
		}
		return vm.Bool(dictOf(self).t.find(k) >= 0)
	})
	vm.addMethod0(c, "__iter__", func(vm *VM, self Value) Value {
		d := dictOf(self)
		return vm.newTableIter(d, &d.t, 'k')
	})
	vm.addMethod1(c, "__eq__", func(vm *VM, self, arg Value) Value {
		o, ok := arg.(*Dict)
		if !ok {
			return vm.NotImplemented
		}
		return vm.Bool(vm.dictEqual(dictOf(self), o))
	})
	vm.addMethod1(c, "__ne__", func(vm *VM, self, arg Value) Value {
		o, ok := arg.(*Dict)
		if !ok {
			return vm.NotImplemented
		}
		eq := vm.dictEqual(dictOf(self), o)
		if vm.status == statusException {
			return nil
		}
		return vm.Bool(!eq)
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		return vm.strResult(vm.reprDict(dictOf(self)))
	})

	// Views come back as lists.

	vm.addMethod0(c, "keys", func(vm *VM, self Value) Value {
		return vm.NewList(dictOf(self).t.keys...)
	})
	vm.addMethod0(c, "values", func(vm *VM, self Value) Value {
		return vm.NewList(dictOf(self).t.vals...)
	})
	vm.addMethod0(c, "items", func(vm *VM, self Value) Value {
		d := dictOf(self)
		l := vm.newList(make([]Value, 0, d.Len()))
		vm.keep(l)
		for i := range d.t.keys {
			l.items = append(l.items, vm.NewTuple(d.t.keys[i], d.t.vals[i]))
		}
		return l
	})

	vm.addMethodN(c, "get", 1, 2, func(vm *VM, self Value, args []Value) Value {
		v := vm.dictGet(dictOf(self), args[0])
		if v == nil && vm.status != statusException {
			if len(args) == 2 {
				return args[1]
			}
			return vm.None
		}
		return v
	})
	vm.addMethodN(c, "setdefault", 1, 2, func(vm *VM, self Value, args []Value) Value {
		d := dictOf(self)
		v := vm.dictGet(d, args[0])
		if v != nil || vm.status == statusException {
			return v
		}
		def := vm.None
		if len(args) == 2 {
			def = args[1]
		}
		vm.dictSet(d, args[0], def)
		return def
	})
	vm.addMethodN(c, "pop", 1, 2, func(vm *VM, self Value, args []Value) Value {
		d := dictOf(self)
		k, ok := vm.hashKey(args[0])
		if !ok {
			return nil
		}
		v := d.t.get(k)
		if v == nil {
			if len(args) == 2 {
				return args[1]
			}
			vm.raise(vm.k.keyError, "%s", vm.repr(args[0]))
			return nil
		}
		d.t.del(k)
		return v
	})
	vm.addMethod0(c, "popitem", func(vm *VM, self Value) Value {
		d := dictOf(self)
		n := d.Len()
		if n == 0 {
			vm.raise(vm.k.keyError, "popitem(): dictionary is empty")
			return nil
		}
		key, val := d.t.keys[n-1], d.t.vals[n-1]
		pair := vm.NewTuple(key, val)
		d.t.del(mustKey(key))
		return pair
	})
	vm.addMethodKw(c, "update", func(vm *VM, self Value, args []Value, kw *Dict) Value {
		if !vm.arity("update", args, 0, 1) {
			return nil
		}
		d := dictOf(self)
		if len(args) == 1 && !vm.dictUpdate(d, args[0]) {
			return nil
		}
		if kw != nil {
			kw.Range(func(key, val Value) bool {
				d.t.set(mustKey(key), key, val)
				return true
			})
		}
		return vm.None
	})
	vm.addMethod0(c, "clear", func(vm *VM, self Value) Value {
		dictOf(self).t.clear()
		return vm.None
	})
	vm.addMethod0(c, "copy", func(vm *VM, self Value) Value {
		src := dictOf(self)
		d := vm.newDict()
		src.Range(func(key, val Value) bool {
			d.t.set(mustKey(key), key, val)
			return true
		})
		return d
	})
}

// dictUpdate merges a mapping, or an iterable of key/value pairs, into d.
func (vm *VM) dictUpdate(d *Dict, src Value) bool {
	if m, ok := src.(*Dict); ok {
		m.Range(func(key, val Value) bool {
			d.t.set(mustKey(key), key, val)
			return true
		})
		return true
	}
	i := 0
	return vm.iterate(src, func(x Value) bool {
		pair, ok := vm.collect(x)
		if !ok {
			return false
		}
		if len(pair) != 2 {
			vm.raise(vm.k.valueError, "dictionary update sequence element #%d has length %d; 2 is required", i, len(pair))
			return false
		}
		i++
		return vm.dictSet(d, pair[0], pair[1])
	})
}

func (vm *VM) dictEqual(a, b *Dict) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i, key := range a.t.keys {
		k, _ := keyOf(key)
		other := b.t.get(k)
		if other == nil || !vm.equal(a.t.vals[i], other) {
			return false
		}
	}
	return true
}

func (vm *VM) reprDict(d *Dict) string {
	if vm.repring[d] {
		return "{...}"
	}
	vm.repring[d] = true
	defer delete(vm.repring, d)

	var b strings.Builder
	b.WriteByte('{')
	for i := range d.t.keys {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(vm.repr(d.t.keys[i]))
		b.WriteString(": ")
		b.WriteString(vm.repr(d.t.vals[i]))
		if vm.status == statusException {
			return ""
		}
	}
	b.WriteByte('}')
	return b.String()
}

// ---------------------------------------------------------------------------
// set Primitives
// ---------------------------------------------------------------------------

func setOf(v Value) *Set { return v.(*Set) }

func (vm *VM) registerSetPrimitives() {
	c := vm.k.set
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("set", args, 0, 1) || !vm.checkKw("set", kw) {
			return nil
		}
		s := vm.newSet()
		if len(args) == 1 {
			vm.keep(s)
			if !vm.setExtend(s, args[0]) {
				return nil
			}
		}
		return s
	}

	vm.addMethod0(c, "__len__", func(vm *VM, self Value) Value {
		return vm.Int(int64(setOf(self).Len()))
	})
	vm.addMethod1(c, "__contains__", func(vm *VM, self, arg Value) Value {
		has, ok := vm.setHas(setOf(self), arg)
		if !ok {
			return nil
		}
		return vm.Bool(has)
	})
	vm.addMethod0(c, "__iter__", func(vm *VM, self Value) Value {
		s := setOf(self)
		return vm.newTableIter(s, &s.t, 'k')
	})
	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		s := setOf(self)
		if s.Len() == 0 {
			return vm.Str("set()")
		}
		return vm.strResult(vm.reprItems(s, "{", "}", s.t.keys))
	})

	// Comparison is by inclusion.
	subset := func(a, b *Set) bool {
		for _, k := range a.t.keys {
			kk, _ := keyOf(k)
			if b.t.find(kk) < 0 {
				return false
			}
		}
		return true
	}
	relations := map[string]func(a, b *Set) bool{
		"__eq__": func(a, b *Set) bool { return a.Len() == b.Len() && subset(a, b) },
		"__ne__": func(a, b *Set) bool { return a.Len() != b.Len() || !subset(a, b) },
		"__le__": subset,
		"__lt__": func(a, b *Set) bool { return a.Len() < b.Len() && subset(a, b) },
		"__ge__": func(a, b *Set) bool { return subset(b, a) },
		"__gt__": func(a, b *Set) bool { return a.Len() > b.Len() && subset(b, a) },
	}
	for name, rel := range relations {
		rel := rel
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			o, ok := arg.(*Set)
			if !ok {
				return vm.NotImplemented
			}
			return vm.Bool(rel(setOf(self), o))
		})
	}
	vm.addMethod1(c, "issubset", func(vm *VM, self, arg Value) Value {
		o := vm.toSet(arg)
		if o == nil {
			return nil
		}
		return vm.Bool(subset(setOf(self), o))
	})
	vm.addMethod1(c, "issuperset", func(vm *VM, self, arg Value) Value {
		o := vm.toSet(arg)
		if o == nil {
			return nil
		}
		return vm.Bool(subset(o, setOf(self)))
	})

	// Algebra. The operators need a set operand; the named methods take
	// any iterable.
	algebra := map[string]func(a, b *Set, member func(*Set, Value) bool) []Value{
		"union": func(a, b *Set, member func(*Set, Value) bool) []Value {
			out := append([]Value(nil), a.t.keys...)
			for _, k := range b.t.keys {
				if !member(a, k) {
					out = append(out, k)
				}
			}
			return out
		},
		"intersection": func(a, b *Set, member func(*Set, Value) bool) []Value {
			var out []Value
			for _, k := range a.t.keys {
				if member(b, k) {
					out = append(out, k)
				}
			}
			return out
		},
		"difference": func(a, b *Set, member func(*Set, Value) bool) []Value {
			var out []Value
			for _, k := range a.t.keys {
				if !member(b, k) {
					out = append(out, k)
				}
			}
			return out
		},
		"symmetric_difference": func(a, b *Set, member func(*Set, Value) bool) []Value {
			var out []Value
			for _, k := range a.t.keys {
				if !member(b, k) {
					out = append(out, k)
				}
			}
			for _, k := range b.t.keys {
				if !member(a, k) {
					out = append(out, k)
				}
			}
			return out
		},
	}
	operators := map[string]string{
		"union":                "__or__",
		"intersection":         "__and__",
		"difference":           "__sub__",
		"symmetric_difference": "__xor__",
	}
	member := func(s *Set, v Value) bool {
		k, _ := keyOf(v)
		return s.t.find(k) >= 0
	}
	for name, op := range algebra {
		op := op
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			o := vm.toSet(arg)
			if o == nil {
				return nil
			}
			return vm.setFrom(op(setOf(self), o, member))
		})
		vm.addMethod1(c, operators[name], func(vm *VM, self, arg Value) Value {
			o, ok := arg.(*Set)
			if !ok {
				return vm.NotImplemented
			}
			return vm.setFrom(op(setOf(self), o, member))
		})
	}

	// Mutation

	vm.addMethod1(c, "add", func(vm *VM, self, arg Value) Value {
		if !vm.setAdd(setOf(self), arg) {
			return nil
		}
		return vm.None
	})
	vm.addMethod1(c, "remove", func(vm *VM, self, arg Value) Value {
		k, ok := vm.hashKey(arg)
		if !ok {
			return nil
		}
		if !setOf(self).t.del(k) {
			vm.raise(vm.k.keyError, "%s", vm.repr(arg))
			return nil
		}
		return vm.None
	})
	vm.addMethod1(c, "discard", func(vm *VM, self, arg Value) Value {
		k, ok := vm.hashKey(arg)
		if !ok {
			return nil
		}
		setOf(self).t.del(k)
		return vm.None
	})
	vm.addMethod0(c, "pop", func(vm *VM, self Value) Value {
		s := setOf(self)
		if s.Len() == 0 {
			vm.raise(vm.k.keyError, "pop from an empty set")
			return nil
		}
		x := s.t.keys[0]
		s.t.del(mustKey(x))
		return x
	})
	vm.addMethod1(c, "update", func(vm *VM, self, arg Value) Value {
		if !vm.setExtend(setOf(self), arg) {
			return nil
		}
		return vm.None
	})
	vm.addMethod0(c, "clear", func(vm *VM, self Value) Value {
		setOf(self).t.clear()
		return vm.None
	})
	vm.addMethod0(c, "copy", func(vm *VM, self Value) Value {
		return vm.setFrom(setOf(self).t.keys)
	})
}

func (vm *VM) setExtend(s *Set, src Value) bool {
	return vm.iterate(src, func(x Value) bool { return vm.setAdd(s, x) })
}

// toSet returns v if it is a set, or a new set of its elements.
func (vm *VM) toSet(v Value) *Set {
	if s, ok := v.(*Set); ok {
		return s
	}
	s := vm.newSet()
	vm.keep(s)
	if !vm.setExtend(s, v) {
		return nil
	}
	return s
}

// setFrom builds a set from already-hashable members.
func (vm *VM) setFrom(items []Value) *Set {
	s := vm.newSet()
	for _, x := range items {
		s.t.set(mustKey(x), x, nil)
	}
	return s
}
