package vm

import (
	"hash/fnv"
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Builtin functions
// ---------------------------------------------------------------------------

func (vm *VM) defineBuiltins() {
	def := func(name string, fn nativeFn) {
		vm.dictSetStr(vm.builtins, name, vm.newNative(name, fn))
	}
	defKw := func(name string, fn nativeKwFn) {
		vm.dictSetStr(vm.builtins, name, vm.newNativeKw(name, fn))
	}

	defKw("__build_class__", func(vm *VM, args []Value, kw *Dict) Value {
		return vm.buildClass(args, kw)
	})

	// Output

	defKw("print", func(vm *VM, args []Value, kw *Dict) Value {
		if !vm.checkKw("print", kw, "sep", "end") {
			return nil
		}
		sep, end := " ", "\n"
		if s, ok := kwArg(kw, "sep", vm.None).(*Str); ok {
			sep = s.s
		}
		if s, ok := kwArg(kw, "end", vm.None).(*Str); ok {
			end = s.s
		}
		var b strings.Builder
		for i, a := range args {
			if i > 0 {
				b.WriteString(sep)
			}
			s := vm.str(a)
			if vm.status == statusException {
				return nil
			}
			b.WriteString(s)
		}
		b.WriteString(end)
		vm.write(b.String())
		return vm.None
	})

	def("repr", func(vm *VM, args []Value) Value {
		if !vm.arity("repr", args, 1, 1) {
			return nil
		}
		return vm.strResult(vm.repr(args[0]))
	})

	def("format", func(vm *VM, args []Value) Value {
		if !vm.arity("format", args, 1, 2) {
			return nil
		}
		spec := ""
		if len(args) == 2 {
			s, ok := AsString(args[1])
			if !ok {
				vm.raise(vm.k.typeError, "format() argument 2 must be str")
				return nil
			}
			spec = s
		}
		return vm.strResult(vm.format(args[0], spec))
	})

	// Introspection

	def("len", func(vm *VM, args []Value) Value {
		if !vm.arity("len", args, 1, 1) {
			return nil
		}
		n, ok := vm.length(args[0])
		if !ok {
			return nil
		}
		return vm.Int(int64(n))
	})

	def("isinstance", func(vm *VM, args []Value) Value {
		if !vm.arity("isinstance", args, 2, 2) {
			return nil
		}
		ok, valid := vm.matchesType(args[0].Klass(), args[1], "isinstance")
		if !valid {
			return nil
		}
		return vm.Bool(ok)
	})

	def("issubclass", func(vm *VM, args []Value) Value {
		if !vm.arity("issubclass", args, 2, 2) {
			return nil
		}
		t, ok := args[0].(*Type)
		if !ok {
			vm.raise(vm.k.typeError, "issubclass() arg 1 must be a class")
			return nil
		}
		r, valid := vm.matchesType(t.own, args[1], "issubclass")
		if !valid {
			return nil
		}
		return vm.Bool(r)
	})

	def("callable", func(vm *VM, args []Value) Value {
		if !vm.arity("callable", args, 1, 1) {
			return nil
		}
		switch args[0].(type) {
		case *Function, *NativeFunction, *Method, *Type:
			return vm.True
		}
		return vm.Bool(vm.lookup(args[0].Klass(), "__call__") != nil)
	})

	def("id", func(vm *VM, args []Value) Value {
		if !vm.arity("id", args, 1, 1) {
			return nil
		}
		return vm.Int(vm.id(args[0]))
	})

	def("hash", func(vm *VM, args []Value) Value {
		if !vm.arity("hash", args, 1, 1) {
			return nil
		}
		h, ok := vm.hash(args[0])
		if !ok {
			return nil
		}
		return vm.Int(h)
	})

	def("getattr", func(vm *VM, args []Value) Value {
		if !vm.arity("getattr", args, 2, 3) {
			return nil
		}
		name, ok := AsString(args[1])
		if !ok {
			vm.raise(vm.k.typeError, "getattr(): attribute name must be string")
			return nil
		}
		r := vm.getattr(args[0], name)
		if r == nil && len(args) == 3 && vm.isPending(vm.k.attributeError) {
			vm.clearException()
			return args[2]
		}
		return r
	})

	def("hasattr", func(vm *VM, args []Value) Value {
		if !vm.arity("hasattr", args, 2, 2) {
			return nil
		}
		name, ok := AsString(args[1])
		if !ok {
			vm.raise(vm.k.typeError, "hasattr(): attribute name must be string")
			return nil
		}
		if vm.getattr(args[0], name) != nil {
			return vm.True
		}
		if vm.isPending(vm.k.attributeError) {
			vm.clearException()
			return vm.False
		}
		return nil
	})

	def("setattr", func(vm *VM, args []Value) Value {
		if !vm.arity("setattr", args, 3, 3) {
			return nil
		}
		name, ok := AsString(args[1])
		if !ok {
			vm.raise(vm.k.typeError, "setattr(): attribute name must be string")
			return nil
		}
		vm.setattr(args[0], name, args[2])
		return vm.None
	})

	def("delattr", func(vm *VM, args []Value) Value {
		if !vm.arity("delattr", args, 2, 2) {
			return nil
		}
		name, ok := AsString(args[1])
		if !ok {
			vm.raise(vm.k.typeError, "delattr(): attribute name must be string")
			return nil
		}
		vm.delattr(args[0], name)
		return vm.None
	})

	def("globals", func(vm *VM, args []Value) Value {
		if vm.frame == nil {
			return vm.newDict()
		}
		return vm.frame.globals
	})

	def("locals", func(vm *VM, args []Value) Value {
		if vm.frame == nil {
			return vm.newDict()
		}
		if vm.frame.locals != nil {
			return vm.frame.locals
		}
		d := vm.newDict()
		for i, v := range vm.frame.fast {
			if v != nil && i < len(vm.frame.code.varnames) {
				vm.dictSetStr(d, vm.frame.code.varnames[i], v)
			}
		}
		return d
	})

	// super is accepted for source compatibility and does nothing.
	def("super", func(vm *VM, args []Value) Value { return vm.None })

	def("sysgc", func(vm *VM, args []Value) Value {
		vm.Collect()
		return vm.None
	})

	// Iteration

	def("iter", func(vm *VM, args []Value) Value {
		if !vm.arity("iter", args, 1, 1) {
			return nil
		}
		return vm.getIter(args[0])
	})

	def("next", func(vm *VM, args []Value) Value {
		if !vm.arity("next", args, 1, 2) {
			return nil
		}
		r := vm.next(args[0])
		if r == nil && vm.status == statusOK {
			if len(args) == 2 {
				return args[1]
			}
			vm.raiseStop()
		}
		return r
	})

	def("range", func(vm *VM, args []Value) Value {
		start, stop, step, ok := vm.rangeArgs("range", args)
		if !ok {
			return nil
		}
		var items []Value
		for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
			items = append(items, vm.Int(i))
		}
		return vm.newList(items)
	})

	def("xrange", func(vm *VM, args []Value) Value {
		start, stop, step, ok := vm.rangeArgs("xrange", args)
		if !ok {
			return nil
		}
		return vm.newRangeIter(start, stop, step)
	})

	def("map", func(vm *VM, args []Value) Value {
		if !vm.arity("map", args, 2, -1) {
			return nil
		}
		cols, ok := vm.collectAll(args[1:])
		if !ok {
			return nil
		}
		out := vm.newList(nil)
		vm.keep(out)
		for i := 0; i < shortest(cols); i++ {
			call := make([]Value, len(cols))
			for j, c := range cols {
				call[j] = c[i]
			}
			r := vm.callVirtual(args[0], call, nil)
			if r == nil {
				return nil
			}
			out.items = append(out.items, r)
		}
		return out
	})

	def("filter", func(vm *VM, args []Value) Value {
		if !vm.arity("filter", args, 2, 2) {
			return nil
		}
		out := vm.newList(nil)
		vm.keep(out)
		fn := args[0]
		ok := vm.iterate(args[1], func(x Value) bool {
			keep := x
			if fn != vm.None {
				if keep = vm.callVirtual(fn, []Value{x}, nil); keep == nil {
					return false
				}
			}
			if vm.truthy(keep) {
				out.items = append(out.items, x)
			}
			return true
		})
		if !ok {
			return nil
		}
		return out
	})

	def("enumerate", func(vm *VM, args []Value) Value {
		if !vm.arity("enumerate", args, 1, 2) {
			return nil
		}
		var n int64
		if len(args) == 2 {
			var ok bool
			if n, ok = AsInt(args[1]); !ok {
				vm.raise(vm.k.typeError, "enumerate() start must be an integer")
				return nil
			}
		}
		out := vm.newList(nil)
		vm.keep(out)
		if !vm.iterate(args[0], func(x Value) bool {
			out.items = append(out.items, vm.NewTuple(vm.Int(n), x))
			n++
			return true
		}) {
			return nil
		}
		return vm.newSeqIter(out)
	})

	def("zip", func(vm *VM, args []Value) Value {
		cols, ok := vm.collectAll(args)
		if !ok {
			return nil
		}
		out := vm.newList(nil)
		vm.keep(out)
		for i := 0; i < shortest(cols); i++ {
			row := make([]Value, len(cols))
			for j, c := range cols {
				row[j] = c[i]
			}
			out.items = append(out.items, vm.newTuple(row))
		}
		return vm.newSeqIter(out)
	})

	def("reversed", func(vm *VM, args []Value) Value {
		if !vm.arity("reversed", args, 1, 1) {
			return nil
		}
		items, ok := vm.collect(args[0])
		if !ok {
			return nil
		}
		rev := make([]Value, len(items))
		for i, x := range items {
			rev[len(items)-1-i] = x
		}
		return vm.newSeqIter(vm.newList(rev))
	})

	def("any", func(vm *VM, args []Value) Value {
		if !vm.arity("any", args, 1, 1) {
			return nil
		}
		found := false
		if !vm.iterate(args[0], func(x Value) bool {
			found = vm.truthy(x)
			return !found
		}) {
			return nil
		}
		return vm.Bool(found)
	})

	def("all", func(vm *VM, args []Value) Value {
		if !vm.arity("all", args, 1, 1) {
			return nil
		}
		all := true
		if !vm.iterate(args[0], func(x Value) bool {
			all = vm.truthy(x)
			return all
		}) {
			return nil
		}
		return vm.Bool(all)
	})

	defKw("sorted", func(vm *VM, args []Value, kw *Dict) Value {
		if !vm.arity("sorted", args, 1, 1) || !vm.checkKw("sorted", kw, "key", "reverse") {
			return nil
		}
		items, ok := vm.collect(args[0])
		if !ok {
			return nil
		}
		l := vm.newList(items)
		vm.keep(l)
		if !vm.sortList(l, kwArg(kw, "key", vm.None), vm.truthy(kwArg(kw, "reverse", vm.False))) {
			return nil
		}
		return l
	})

	// Arithmetic

	defKw("sum", func(vm *VM, args []Value, kw *Dict) Value {
		if !vm.arity("sum", args, 1, 2) || !vm.checkKw("sum", kw, "start") {
			return nil
		}
		acc := kwArg(kw, "start", vm.Int(0))
		if len(args) == 2 {
			acc = args[1]
		}
		holder := vm.NewList(acc)
		vm.keep(holder)
		if !vm.iterate(args[0], func(x Value) bool {
			r := vm.binaryOp(binaryOps[OpBinaryAdd], holder.items[0], x)
			if r == nil {
				return false
			}
			holder.items[0] = r
			return true
		}) {
			return nil
		}
		return holder.items[0]
	})

	defKw("min", func(vm *VM, args []Value, kw *Dict) Value { return vm.extreme("min", args, kw, false) })
	defKw("max", func(vm *VM, args []Value, kw *Dict) Value { return vm.extreme("max", args, kw, true) })

	def("abs", func(vm *VM, args []Value) Value {
		if !vm.arity("abs", args, 1, 1) {
			return nil
		}
		return vm.unaryOp(args[0], "__abs__", "abs()")
	})

	def("divmod", func(vm *VM, args []Value) Value {
		if !vm.arity("divmod", args, 2, 2) {
			return nil
		}
		q := vm.binaryOp(binaryOps[OpBinaryFloorDivide], args[0], args[1])
		if q == nil {
			return nil
		}
		vm.keep(q)
		r := vm.binaryOp(binaryOps[OpBinaryModulo], args[0], args[1])
		if r == nil {
			return nil
		}
		return vm.NewTuple(q, r)
	})

	def("pow", func(vm *VM, args []Value) Value {
		if !vm.arity("pow", args, 2, 2) {
			return nil
		}
		return vm.binaryOp(binaryOps[OpBinaryPower], args[0], args[1])
	})

	def("round", func(vm *VM, args []Value) Value {
		if !vm.arity("round", args, 1, 2) {
			return nil
		}
		if len(args) == 2 && args[1] != vm.None {
			return vm.callMethod(args[0], "__round__", args[1])
		}
		return vm.callMethod(args[0], "__round__")
	})

	// Characters

	def("chr", func(vm *VM, args []Value) Value {
		if !vm.arity("chr", args, 1, 1) {
			return nil
		}
		n, ok := AsInt(args[0])
		if !ok {
			vm.raise(vm.k.typeError, "an integer is required (got type %s)", args[0].Klass().name)
			return nil
		}
		if n < 0 || n > 0x10ffff {
			vm.raise(vm.k.valueError, "chr() arg not in range(0x110000)")
			return nil
		}
		return vm.Str(string(rune(n)))
	})

	def("ord", func(vm *VM, args []Value) Value {
		if !vm.arity("ord", args, 1, 1) {
			return nil
		}
		s, ok := AsString(args[0])
		r := []rune(s)
		if !ok || len(r) != 1 {
			vm.raise(vm.k.typeError, "ord() expected a character")
			return nil
		}
		return vm.Int(int64(r[0]))
	})

	def("hex", func(vm *VM, args []Value) Value {
		if !vm.arity("hex", args, 1, 1) {
			return nil
		}
		n, ok := AsInt(args[0])
		if !ok {
			vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", args[0].Klass().name)
			return nil
		}
		if n < 0 {
			return vm.Str("-0x" + strconv.FormatUint(uint64(-n), 16))
		}
		return vm.Str("0x" + strconv.FormatInt(n, 16))
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// strResult wraps a conversion result, returning nil if it raised.
func (vm *VM) strResult(s string) Value {
	if vm.status == statusException {
		return nil
	}
	return vm.Str(s)
}

// isPending reports whether an instance of k is the pending exception.
func (vm *VM) isPending(k *Klass) bool {
	return vm.status == statusException && vm.excValue.Klass().IsSubklass(k)
}

// matchesType implements the second argument of isinstance and
// issubclass: a type or a tuple of types.
func (vm *VM) matchesType(k *Klass, spec Value, fn string) (bool, bool) {
	switch t := spec.(type) {
	case *Type:
		return k.IsSubklass(t.own), true
	case *Tuple:
		for _, x := range t.items {
			if ok, valid := vm.matchesType(k, x, fn); !valid || ok {
				return ok, valid
			}
		}
		return false, true
	}
	vm.raise(vm.k.typeError, "%s() arg 2 must be a type or tuple of types", fn)
	return false, false
}

// hash implements hash(): numbers hash to their value, strings and tuples
// by content, everything else by identity.
func (vm *VM) hash(v Value) (int64, bool) {
	k, ok := vm.hashKey(v)
	if !ok {
		return 0, false
	}
	switch k.kind {
	case 'i', 'f':
		return k.n, true
	case 's', 't':
		h := fnv.New64a()
		h.Write([]byte{k.kind})
		h.Write([]byte(k.s))
		return int64(h.Sum64() >> 1), true
	}
	return vm.id(v), true
}

func (vm *VM) rangeArgs(name string, args []Value) (start, stop, step int64, ok bool) {
	if !vm.arity(name, args, 1, 3) {
		return 0, 0, 0, false
	}
	ints := make([]int64, len(args))
	for i, a := range args {
		n, isInt := AsInt(a)
		if !isInt {
			vm.raise(vm.k.typeError, "'%s' object cannot be interpreted as an integer", a.Klass().name)
			return 0, 0, 0, false
		}
		ints[i] = n
	}
	step = 1
	switch len(ints) {
	case 1:
		stop = ints[0]
	case 2:
		start, stop = ints[0], ints[1]
	case 3:
		start, stop, step = ints[0], ints[1], ints[2]
	}
	if step == 0 {
		vm.raise(vm.k.valueError, "%s() arg 3 must not be zero", name)
		return 0, 0, 0, false
	}
	return start, stop, step, true
}

func (vm *VM) collectAll(iterables []Value) ([][]Value, bool) {
	cols := make([][]Value, len(iterables))
	for i, it := range iterables {
		items, ok := vm.collect(it)
		if !ok {
			return nil, false
		}
		vm.keep(vm.newList(items))
		cols[i] = items
	}
	return cols, true
}

func shortest(cols [][]Value) int {
	if len(cols) == 0 {
		return 0
	}
	n := math.MaxInt
	for _, c := range cols {
		n = min(n, len(c))
	}
	return n
}

// extreme implements min and max over an iterable or the positional
// arguments, with optional key and default.
func (vm *VM) extreme(name string, args []Value, kw *Dict, wantMax bool) Value {
	if !vm.arity(name, args, 1, -1) || !vm.checkKw(name, kw, "key", "default") {
		return nil
	}
	var items []Value
	if len(args) == 1 {
		var ok bool
		if items, ok = vm.collect(args[0]); !ok {
			return nil
		}
		vm.keep(vm.newList(items))
	} else {
		items = args
	}
	if len(items) == 0 {
		if d := kwArg(kw, "default", nil); d != nil {
			return d
		}
		vm.raise(vm.k.valueError, "%s() arg is an empty sequence", name)
		return nil
	}
	key := kwArg(kw, "key", vm.None)
	keyOf := func(x Value) Value {
		if key == vm.None {
			return x
		}
		return vm.callVirtual(key, []Value{x}, nil)
	}
	best := items[0]
	bestKey := keyOf(best)
	if bestKey == nil {
		return nil
	}
	for _, x := range items[1:] {
		k := keyOf(x)
		if k == nil {
			return nil
		}
		var better bool
		if wantMax {
			better = vm.less(bestKey, k)
		} else {
			better = vm.less(k, bestKey)
		}
		if vm.status == statusException {
			return nil
		}
		if better {
			best, bestKey = x, k
		}
	}
	return best
}
