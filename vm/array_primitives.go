package vm

import (
	"sort"
	"strings"
)

// ---------------------------------------------------------------------------
// list Primitives
// ---------------------------------------------------------------------------

func listOf(v Value) *List { return v.(*List) }

func (vm *VM) registerListPrimitives() {
	c := vm.k.list
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("list", args, 0, 1) || !vm.checkKw("list", kw) {
			return nil
		}
		if len(args) == 0 {
			return vm.newList(nil)
		}
		items, ok := vm.collect(args[0])
		if !ok {
			return nil
		}
		return vm.newList(items)
	}

	vm.registerSequenceDunders(c, "list")

	vm.addMethod2(c, "__setitem__", func(vm *VM, self, key, val Value) Value {
		l := listOf(self)
		if sl, ok := key.(*Slice); ok {
			if !vm.assignSlice(l, sl, val) {
				return nil
			}
			return vm.None
		}
		i, ok := vm.normIndex(key, len(l.items), "list assignment")
		if !ok {
			return nil
		}
		l.items[i] = val
		return vm.None
	})
	vm.addMethod1(c, "__delitem__", func(vm *VM, self, key Value) Value {
		l := listOf(self)
		if sl, ok := key.(*Slice); ok {
			start, stop, step, ok := vm.sliceIndices(sl, len(l.items))
			if !ok {
				return nil
			}
			drop := make(map[int]bool)
			if step > 0 {
				for i := start; i < stop; i += step {
					drop[i] = true
				}
			} else {
				for i := start; i > stop; i += step {
					drop[i] = true
				}
			}
			kept := l.items[:0]
			for i, x := range l.items {
				if !drop[i] {
					kept = append(kept, x)
				}
			}
			clear(l.items[len(kept):])
			l.items = kept
			return vm.None
		}
		i, ok := vm.normIndex(key, len(l.items), "list assignment")
		if !ok {
			return nil
		}
		l.items = append(l.items[:i], l.items[i+1:]...)
		return vm.None
	})
	vm.addMethod1(c, "__iadd__", func(vm *VM, self, arg Value) Value {
		items, ok := vm.collect(arg)
		if !ok {
			return nil
		}
		l := listOf(self)
		l.items = append(l.items, items...)
		return self
	})

	// Mutation

	vm.addMethod1(c, "append", func(vm *VM, self, arg Value) Value {
		l := listOf(self)
		l.items = append(l.items, arg)
		return vm.None
	})
	vm.addMethod1(c, "extend", func(vm *VM, self, arg Value) Value {
		items, ok := vm.collect(arg)
		if !ok {
			return nil
		}
		l := listOf(self)
		l.items = append(l.items, items...)
		return vm.None
	})
	vm.addMethod2(c, "insert", func(vm *VM, self, idx, val Value) Value {
		l := listOf(self)
		n, ok := AsInt(idx)
		if !ok {
			vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", idx.Klass().name)
			return nil
		}
		i := int(n)
		if i < 0 {
			i = max(i+len(l.items), 0)
		}
		i = min(i, len(l.items))
		l.items = append(l.items, nil)
		copy(l.items[i+1:], l.items[i:])
		l.items[i] = val
		return vm.None
	})
	vm.addMethodN(c, "pop", 0, 1, func(vm *VM, self Value, args []Value) Value {
		l := listOf(self)
		if len(l.items) == 0 {
			vm.raise(vm.k.indexError, "pop from empty list")
			return nil
		}
		i := len(l.items) - 1
		if len(args) == 1 {
			var ok bool
			if i, ok = vm.normIndex(args[0], len(l.items), "pop"); !ok {
				return nil
			}
		}
		x := l.items[i]
		l.items = append(l.items[:i], l.items[i+1:]...)
		return x
	})
	vm.addMethod1(c, "remove", func(vm *VM, self, arg Value) Value {
		l := listOf(self)
		i := vm.indexOf(l.items, arg, 0, len(l.items))
		if i < 0 {
			if vm.status != statusException {
				vm.raise(vm.k.valueError, "list.remove(x): x not in list")
			}
			return nil
		}
		l.items = append(l.items[:i], l.items[i+1:]...)
		return vm.None
	})
	vm.addMethod0(c, "reverse", func(vm *VM, self Value) Value {
		items := listOf(self).items
		for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
			items[i], items[j] = items[j], items[i]
		}
		return vm.None
	})
	vm.addMethodKw(c, "sort", func(vm *VM, self Value, args []Value, kw *Dict) Value {
		if !vm.arity("sort", args, 0, 0) || !vm.checkKw("sort", kw, "key", "reverse") {
			return nil
		}
		reverse := vm.truthy(kwArg(kw, "reverse", vm.False))
		if !vm.sortList(listOf(self), kwArg(kw, "key", vm.None), reverse) {
			return nil
		}
		return vm.None
	})
	vm.addMethod0(c, "clear", func(vm *VM, self Value) Value {
		listOf(self).items = nil
		return vm.None
	})
	vm.addMethod0(c, "copy", func(vm *VM, self Value) Value {
		return vm.NewList(listOf(self).items...)
	})
}

// ---------------------------------------------------------------------------
// tuple Primitives
// ---------------------------------------------------------------------------

func (vm *VM) registerTuplePrimitives() {
	c := vm.k.tuple
	c.construct = func(vm *VM, k *Klass, args []Value, kw *Dict) Value {
		if !vm.arity("tuple", args, 0, 1) || !vm.checkKw("tuple", kw) {
			return nil
		}
		if len(args) == 0 {
			return vm.newTuple(nil)
		}
		if t, ok := args[0].(*Tuple); ok {
			return t
		}
		items, ok := vm.collect(args[0])
		if !ok {
			return nil
		}
		return vm.newTuple(items)
	}

	vm.registerSequenceDunders(c, "tuple")

	vm.addMethod0(c, "__hash__", func(vm *VM, self Value) Value {
		h, ok := vm.hash(self)
		if !ok {
			return nil
		}
		return vm.Int(h)
	})
}

// registerSequenceDunders installs what list and tuple share: indexing,
// slicing, concatenation, repetition, comparison, membership, repr and
// the index and count methods.
func (vm *VM) registerSequenceDunders(c *Klass, what string) {
	items := func(v Value) []Value { return v.(Sequence).Items() }
	build := func(vm *VM, self Value, xs []Value) Value {
		if _, ok := self.(*Tuple); ok {
			return vm.newTuple(xs)
		}
		return vm.newList(xs)
	}

	vm.addMethod0(c, "__len__", func(vm *VM, self Value) Value {
		return vm.Int(int64(len(items(self))))
	})
	vm.addMethod0(c, "__iter__", func(vm *VM, self Value) Value { return vm.newSeqIter(self) })
	vm.addMethod1(c, "__getitem__", func(vm *VM, self, key Value) Value {
		xs := items(self)
		if sl, ok := key.(*Slice); ok {
			start, stop, step, ok := vm.sliceIndices(sl, len(xs))
			if !ok {
				return nil
			}
			return build(vm, self, sliceItems(xs, start, stop, step))
		}
		i, ok := vm.normIndex(key, len(xs), what)
		if !ok {
			return nil
		}
		return xs[i]
	})
	vm.addMethod1(c, "__contains__", func(vm *VM, self, arg Value) Value {
		for _, x := range items(self) {
			if vm.equal(x, arg) {
				return vm.True
			}
			if vm.status == statusException {
				return nil
			}
		}
		return vm.False
	})
	vm.addMethod1(c, "__add__", func(vm *VM, self, arg Value) Value {
		if !arg.Klass().IsSubklass(c) {
			return vm.NotImplemented
		}
		a, b := items(self), items(arg)
		out := make([]Value, 0, len(a)+len(b))
		return build(vm, self, append(append(out, a...), b...))
	})
	repeat := func(vm *VM, self, arg Value) Value {
		n, ok := AsInt(arg)
		if !ok {
			return vm.NotImplemented
		}
		xs := items(self)
		var out []Value
		for i := int64(0); i < n; i++ {
			out = append(out, xs...)
		}
		return build(vm, self, out)
	}
	vm.addMethod1(c, "__mul__", repeat)
	vm.addMethod1(c, "__rmul__", repeat)

	for op, name := range []string{CmpLT: "__lt__", CmpLE: "__le__", CmpEQ: "__eq__", CmpNE: "__ne__", CmpGT: "__gt__", CmpGE: "__ge__"} {
		op := op
		vm.addMethod1(c, name, func(vm *VM, self, arg Value) Value {
			if !arg.Klass().IsSubklass(c) {
				return vm.NotImplemented
			}
			return vm.compareSeq(items(self), items(arg), op)
		})
	}

	vm.addMethod0(c, "__repr__", func(vm *VM, self Value) Value {
		open, close := "[", "]"
		if what == "tuple" {
			open, close = "(", ")"
		}
		xs := items(self)
		if what == "tuple" && len(xs) == 1 {
			close = ",)"
		}
		return vm.strResult(vm.reprItems(self, open, close, xs))
	})

	vm.addMethodN(c, "index", 1, 3, func(vm *VM, self Value, args []Value) Value {
		xs := items(self)
		start, stop := 0, len(xs)
		bound := func(v Value) int {
			n, _ := AsInt(v)
			i := int(n)
			if i < 0 {
				i = max(i+len(xs), 0)
			}
			return min(i, len(xs))
		}
		if len(args) > 1 {
			start = bound(args[1])
		}
		if len(args) > 2 {
			stop = bound(args[2])
		}
		i := vm.indexOf(xs, args[0], start, stop)
		if i < 0 {
			if vm.status != statusException {
				vm.raise(vm.k.valueError, "%s.index(x): x not in %s", what, what)
			}
			return nil
		}
		return vm.Int(int64(i))
	})
	vm.addMethod1(c, "count", func(vm *VM, self, arg Value) Value {
		n := 0
		for _, x := range items(self) {
			if vm.equal(x, arg) {
				n++
			}
			if vm.status == statusException {
				return nil
			}
		}
		return vm.Int(int64(n))
	})
}

// indexOf returns the first index in [start, stop) whose element equals
// x, or -1.
func (vm *VM) indexOf(items []Value, x Value, start, stop int) int {
	for i := start; i < stop && i < len(items); i++ {
		if vm.equal(items[i], x) {
			return i
		}
		if vm.status == statusException {
			return -1
		}
	}
	return -1
}

// compareSeq compares lexicographically: the first unequal pair decides,
// then the lengths.
func (vm *VM) compareSeq(a, b []Value, op int) Value {
	i := 0
	for ; i < len(a) && i < len(b); i++ {
		if !vm.equal(a[i], b[i]) {
			break
		}
		if vm.status == statusException {
			return nil
		}
	}
	if i < len(a) && i < len(b) {
		switch op {
		case CmpEQ:
			return vm.False
		case CmpNE:
			return vm.True
		}
		return vm.compare(a[i], b[i], op)
	}
	la, lb := len(a), len(b)
	var r bool
	switch op {
	case CmpLT:
		r = la < lb
	case CmpLE:
		r = la <= lb
	case CmpEQ:
		r = la == lb
	case CmpNE:
		r = la != lb
	case CmpGT:
		r = la > lb
	case CmpGE:
		r = la >= lb
	}
	return vm.Bool(r)
}

// reprItems renders a container, printing "..." for a container already
// being rendered further up.
func (vm *VM) reprItems(self Value, open, close string, items []Value) string {
	if vm.repring[self] {
		return open + "..." + close
	}
	vm.repring[self] = true
	defer delete(vm.repring, self)

	var b strings.Builder
	b.WriteString(open)
	for i, x := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(vm.repr(x))
		if vm.status == statusException {
			return ""
		}
	}
	b.WriteString(close)
	return b.String()
}

// assignSlice implements l[a:b:c] = iterable.
func (vm *VM) assignSlice(l *List, sl *Slice, val Value) bool {
	src, ok := vm.collect(val)
	if !ok {
		return false
	}
	start, stop, step, ok := vm.sliceIndices(sl, len(l.items))
	if !ok {
		return false
	}
	if step == 1 {
		stop = max(stop, start)
		out := make([]Value, 0, len(l.items)-(stop-start)+len(src))
		out = append(out, l.items[:start]...)
		out = append(out, src...)
		l.items = append(out, l.items[stop:]...)
		return true
	}
	var idx []int
	if step > 0 {
		for i := start; i < stop; i += step {
			idx = append(idx, i)
		}
	} else {
		for i := start; i > stop; i += step {
			idx = append(idx, i)
		}
	}
	if len(idx) != len(src) {
		vm.raise(vm.k.valueError, "attempt to assign sequence of size %d to extended slice of size %d", len(src), len(idx))
		return false
	}
	for j, i := range idx {
		l.items[i] = src[j]
	}
	return true
}

// sortList sorts l in place with a stable merge of the key values. The
// list is left unchanged if a key function or comparison raises.
func (vm *VM) sortList(l *List, key Value, reverse bool) bool {
	items := append([]Value(nil), l.items...)
	keys := items
	if key != nil && key != vm.None {
		keys = make([]Value, len(items))
		holder := vm.newList(keys)
		vm.keep(holder)
		for i, x := range items {
			k := vm.callVirtual(key, []Value{x}, nil)
			if k == nil {
				return false
			}
			keys[i] = k
		}
	}

	perm := make([]int, len(items))
	for i := range perm {
		perm[i] = i
	}
	failed := false
	sort.SliceStable(perm, func(i, j int) bool {
		if failed {
			return false
		}
		a, b := keys[perm[i]], keys[perm[j]]
		if reverse {
			a, b = b, a
		}
		r := vm.less(a, b)
		if vm.status == statusException {
			failed = true
		}
		return r
	})
	if failed {
		return false
	}
	out := make([]Value, len(items))
	for i, p := range perm {
		out[i] = items[p]
	}
	l.items = out
	return true
}
